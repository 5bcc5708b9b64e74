// Copyright (c) 2024 The monoscan developers. All rights reserved.
// Project site: https://github.com/gotmc/monoscan
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package monoscan_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/monoscan"
)

// fakeClock advances only when slept on or when an instrument reports
// latency.
type fakeClock struct {
	now      time.Time
	start    time.Time
	cancel   func() // called once the clock passes cancelAt
	cancelAt time.Duration
}

func newFakeClock() *fakeClock {
	t := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return &fakeClock{now: t, start: t}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if d > 0 {
		c.advance(d)
	}
	return ctx.Err()
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
	if c.cancel != nil && c.now.Sub(c.start) >= c.cancelAt {
		c.cancel()
		c.cancel = nil
	}
}

type fakeMono struct {
	log     []string
	failOn  string
	failErr error
}

func (m *fakeMono) do(cmd string) error {
	m.log = append(m.log, cmd)
	if m.failOn == cmd {
		return m.failErr
	}
	return nil
}

func (m *fakeMono) SetWavelength(nm float64) error { return m.do(fmt.Sprintf("GOWAVE %g", nm)) }
func (m *fakeMono) OpenShutter() error             { return m.do("SHUTTER O") }
func (m *fakeMono) CloseShutter() error            { return m.do("SHUTTER C") }

func (m *fakeMono) count(cmd string) int {
	n := 0
	for _, c := range m.log {
		if c == cmd {
			n++
		}
	}
	return n
}

type fakeMeter struct {
	clock     *fakeClock
	latency   time.Duration
	amps      float64
	reads     int
	failRead  int // 1-based read that fails, 0 for never
	failCount int // consecutive failures starting at failRead
	failErr   error
	configErr error

	configured int
	enabled    int
	disabled   int
}

func (m *fakeMeter) Configure(monoscan.MeterSettings) error { m.configured++; return m.configErr }
func (m *fakeMeter) EnableOutput() error                   { m.enabled++; return nil }
func (m *fakeMeter) DisableOutput() error                  { m.disabled++; return nil }

func (m *fakeMeter) ReadCurrent() (float64, error) {
	m.reads++
	m.clock.advance(m.latency)
	if m.failRead > 0 && m.reads >= m.failRead && m.reads < m.failRead+max(m.failCount, 1) {
		return 0, m.failErr
	}
	return m.amps, nil
}

func scenarioConfig() monoscan.Config {
	cfg := monoscan.DefaultConfig()
	cfg.Wavelengths = []float64{500, 495}
	cfg.Duration = time.Second
	cfg.Interval = 500 * time.Millisecond
	cfg.ReadOverhead = 0
	return cfg
}

func TestRunFixedReading(t *testing.T) {
	clock := newFakeClock()
	mono := &fakeMono{}
	meter := &fakeMeter{clock: clock, amps: 1.0e-9, latency: 10 * time.Millisecond}

	s, err := monoscan.NewScanner(mono, meter, scenarioConfig(), monoscan.WithClock(clock))
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, []float64{500, 495}, res.Wavelengths())
	for _, wr := range res.Results {
		assert.True(t, wr.Complete)
		assert.GreaterOrEqual(t, len(wr.Samples), 2, "%g nm", wr.Wavelength)
		for _, smp := range wr.Samples {
			assert.Equal(t, -1.0, smp.Current)
			assert.Less(t, smp.Elapsed, time.Second+10*time.Millisecond)
		}
	}
	require.NoError(t, res.Validate())
	assert.True(t, res.Complete())
	assert.Equal(t, clock.start, res.Started)

	assert.Equal(t, 1, meter.configured)
	assert.Equal(t, 2, meter.enabled)
	assert.Equal(t, 1, meter.disabled)
	assert.Equal(t, []string{
		"SHUTTER C",
		"GOWAVE 500", "SHUTTER O", "SHUTTER C",
		"GOWAVE 495", "SHUTTER O", "SHUTTER C",
	}, mono.log)
}

func TestRunSampleTiming(t *testing.T) {
	clock := newFakeClock()
	meter := &fakeMeter{clock: clock, amps: 2e-9}
	cfg := scenarioConfig()
	cfg.Wavelengths = []float64{400}
	cfg.ReadOverhead = 139 * time.Millisecond

	s, err := monoscan.NewScanner(&fakeMono{}, meter, cfg, monoscan.WithClock(clock))
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	wr, ok := res.Lookup(400)
	require.True(t, ok)
	var elapsed []time.Duration
	for _, smp := range wr.Samples {
		elapsed = append(elapsed, smp.Elapsed)
	}
	assert.Equal(t, []time.Duration{0, 361 * time.Millisecond, 722 * time.Millisecond}, elapsed)
}

func TestRunTimeoutAborts(t *testing.T) {
	clock := newFakeClock()
	mono := &fakeMono{}
	meter := &fakeMeter{
		clock:    clock,
		amps:     1e-9,
		latency:  time.Millisecond,
		failRead: 3,
		failErr:  fmt.Errorf("read: %w", monoscan.ErrChannelTimeout),
	}
	cfg := scenarioConfig()
	cfg.Wavelengths = []float64{500, 495, 490}

	s, err := monoscan.NewScanner(mono, meter, cfg, monoscan.WithClock(clock))
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.ErrorIs(t, err, monoscan.ErrChannelTimeout)
	require.NotNil(t, res)

	// Two reads fill the 500 nm window, the third is the first at 495 nm.
	require.Len(t, res.Results, 2)
	assert.True(t, res.Results[0].Complete)
	assert.Len(t, res.Results[0].Samples, 2)
	assert.Equal(t, 495.0, res.Results[1].Wavelength)
	assert.False(t, res.Results[1].Complete)
	assert.Empty(t, res.Results[1].Samples)
	_, ok := res.Lookup(490)
	assert.False(t, ok)
	assert.False(t, res.Complete())

	// Shutter closed at start, after 500 nm and during cleanup.
	assert.Equal(t, 3, mono.count("SHUTTER C"))
	assert.Equal(t, "SHUTTER C", mono.log[len(mono.log)-1])
	assert.Equal(t, 1, meter.disabled)
	assert.Zero(t, mono.count("GOWAVE 490"))
}

func TestRunRetryWavelength(t *testing.T) {
	clock := newFakeClock()
	mono := &fakeMono{}
	meter := &fakeMeter{
		clock:    clock,
		amps:     1e-9,
		latency:  time.Millisecond,
		failRead: 3,
		failErr:  monoscan.ErrChannelTimeout,
	}
	cfg := scenarioConfig()
	cfg.Retries = 1

	s, err := monoscan.NewScanner(mono, meter, cfg, monoscan.WithClock(clock))
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	for _, wr := range res.Results {
		assert.True(t, wr.Complete)
		assert.Len(t, wr.Samples, 2)
	}
	assert.Equal(t, 2, mono.count("GOWAVE 495"))
}

func TestRunRetriesExhausted(t *testing.T) {
	clock := newFakeClock()
	meter := &fakeMeter{
		clock:     clock,
		amps:      1e-9,
		failRead:  1,
		failCount: 10,
		failErr:   monoscan.ErrMalformedReply,
	}
	cfg := scenarioConfig()
	cfg.Retries = 2

	s, err := monoscan.NewScanner(&fakeMono{}, meter, cfg, monoscan.WithClock(clock))
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.ErrorIs(t, err, monoscan.ErrMalformedReply)
	assert.Equal(t, 3, meter.reads)
	require.Len(t, res.Results, 1)
	assert.False(t, res.Results[0].Complete)
}

func TestRunCleanupOnControllerError(t *testing.T) {
	clock := newFakeClock()
	ioErr := errors.New("port gone")
	mono := &fakeMono{failOn: "GOWAVE 495", failErr: ioErr}
	meter := &fakeMeter{clock: clock, amps: 1e-9}

	s, err := monoscan.NewScanner(mono, meter, scenarioConfig(), monoscan.WithClock(clock))
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.ErrorIs(t, err, ioErr)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 1, meter.disabled)
}

func TestRunConfigureErrorLeavesBenchDark(t *testing.T) {
	clock := newFakeClock()
	cfgErr := errors.New("no reply to *RST")
	mono := &fakeMono{}
	meter := &fakeMeter{clock: clock, configErr: cfgErr}

	s, err := monoscan.NewScanner(mono, meter, scenarioConfig(), monoscan.WithClock(clock))
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.ErrorIs(t, err, cfgErr)
	assert.Empty(t, res.Results)
	assert.Equal(t, []string{"SHUTTER C"}, mono.log)
	assert.Equal(t, 1, meter.disabled)
	assert.Zero(t, meter.reads)
}

func TestRunCancelled(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.cancel = cancel
	clock.cancelAt = 700 * time.Millisecond
	mono := &fakeMono{}
	meter := &fakeMeter{clock: clock, amps: 1e-9}
	cfg := scenarioConfig()
	cfg.Retries = 3

	s, err := monoscan.NewScanner(mono, meter, cfg, monoscan.WithClock(clock))
	require.NoError(t, err)
	res, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Results, 1)
	assert.False(t, res.Results[0].Complete)
	assert.Equal(t, "SHUTTER C", mono.log[len(mono.log)-1])
	assert.Equal(t, 1, meter.disabled)
	assert.Equal(t, 1, mono.count("GOWAVE 500"), "cancellation must not be retried")
}

func TestNewScannerRejectsBadConfig(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Duration = 0
	_, err := monoscan.NewScanner(&fakeMono{}, &fakeMeter{}, cfg)
	require.Error(t, err)

	_, err = monoscan.NewScanner(nil, &fakeMeter{}, scenarioConfig())
	require.Error(t, err)
}

func TestScannerSequenceIsCopied(t *testing.T) {
	cfg := scenarioConfig()
	s, err := monoscan.NewScanner(&fakeMono{}, &fakeMeter{}, cfg)
	require.NoError(t, err)
	cfg.Wavelengths[0] = 1
	seq := s.Sequence()
	seq[1] = 2
	assert.Equal(t, []float64{500, 495}, s.Sequence())
}
