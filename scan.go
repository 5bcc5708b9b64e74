// Copyright (c) 2024 The monoscan developers. All rights reserved.
// Project site: https://github.com/gotmc/monoscan
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package monoscan

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// WavelengthController models a monochromator: wavelength selection and a
// shutter. Each call blocks until the instrument has replied.
type WavelengthController interface {
	SetWavelength(nm float64) error
	OpenShutter() error
	CloseShutter() error
}

// CurrentMeter models a source-measure unit biased at a fixed voltage and
// sensing current.
type CurrentMeter interface {
	Configure(MeterSettings) error
	EnableOutput() error
	DisableOutput() error
	// ReadCurrent triggers a reading and returns the current in amperes.
	ReadCurrent() (float64, error)
}

// biasReader is implemented by meters that can report the programmed bias.
type biasReader interface {
	BiasLevel() (float64, error)
}

// Exporter writes a finished (or partial) scan somewhere.
type Exporter interface {
	Export(*ScanResult) error
}

// Scanner steps a monochromator through a wavelength sequence and records the
// source-measure unit current at each wavelength. It owns both instruments
// for the duration of Run.
type Scanner struct {
	mono  WavelengthController
	meter CurrentMeter
	cfg   Config
	seq   []float64
	clock Clock
	log   zerolog.Logger

	// shutterOpen is true from the moment an open is requested until a
	// close has been acknowledged.
	shutterOpen bool
}

// ScannerOption applies an option to the scanner.
type ScannerOption func(*Scanner)

// WithLogger sets the logger used for progress reporting.
func WithLogger(l zerolog.Logger) ScannerOption { return func(s *Scanner) { s.log = l } }

// WithClock replaces the system clock, mainly for tests.
func WithClock(c Clock) ScannerOption { return func(s *Scanner) { s.clock = c } }

// NewScanner creates a scanner for the given instruments. The configuration
// is validated and copied.
func NewScanner(
	mono WavelengthController,
	meter CurrentMeter,
	cfg Config,
	opts ...ScannerOption,
) (*Scanner, error) {
	if mono == nil || meter == nil {
		return nil, errors.New("scanner needs both a wavelength controller and a current meter")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan configuration: %w", err)
	}
	seq, err := cfg.Sequence()
	if err != nil {
		return nil, err
	}
	cfg.Wavelengths = slices.Clone(cfg.Wavelengths)
	s := Scanner{
		mono:  mono,
		meter: meter,
		cfg:   cfg,
		seq:   seq,
		clock: systemClock{},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &s, nil
}

// Sequence returns a copy of the wavelengths the scanner will visit.
func (s *Scanner) Sequence() []float64 { return slices.Clone(s.seq) }

// Run performs the scan. It always returns the results accumulated so far,
// even when it fails, so that they can be saved. Any instrument error or
// cancellation of ctx aborts the scan; before returning, the shutter is
// closed and the meter output disabled regardless of how the scan ended.
func (s *Scanner) Run(ctx context.Context) (res *ScanResult, err error) {
	res = NewScanResult(s.cfg.Interval)
	res.Started = s.clock.Now()
	s.log.Info().
		Str("run", res.RunID.String()).
		Int("wavelengths", len(s.seq)).
		Dur("interval", s.cfg.Interval).
		Dur("duration", s.cfg.Duration).
		Msg("starting scan")

	defer func() {
		err = multierr.Append(err, s.shutdown())
	}()

	// The shutter state is unknown until told otherwise.
	s.shutterOpen = true
	if err := s.meter.Configure(s.cfg.Meter); err != nil {
		return res, fmt.Errorf("configure meter: %w", err)
	}
	if br, ok := s.meter.(biasReader); ok {
		if v, err := br.BiasLevel(); err != nil {
			s.log.Warn().Err(err).Msg("reading back bias level")
		} else {
			s.log.Info().Float64("bias_V", v).Msg("meter configured")
		}
	}
	if err := s.closeShutter(); err != nil {
		return res, err
	}

	for i, w := range s.seq {
		wr, err := s.acquireWithRetry(ctx, w)
		if wr != nil {
			res.add(wr)
		}
		if err != nil {
			return res, fmt.Errorf("wavelength %g nm: %w", w, err)
		}
		mean, std := wr.Stats()
		s.log.Info().
			Float64("nm", w).
			Int("samples", len(wr.Samples)).
			Float64("mean_nA", mean).
			Float64("std_nA", std).
			Msgf("wavelength %d/%d done", i+1, len(s.seq))

		if i < len(s.seq)-1 {
			if err := s.clock.Sleep(ctx, s.cfg.Pause); err != nil {
				return res, err
			}
		}
	}
	s.log.Info().Int("samples", res.TotalSamples()).Msg("scan complete")
	return res, nil
}

func (s *Scanner) acquireWithRetry(ctx context.Context, w float64) (*WavelengthResult, error) {
	for attempt := 0; ; attempt++ {
		wr, err := s.acquire(ctx, w)
		if err == nil || attempt >= s.cfg.Retries || ctx.Err() != nil {
			return wr, err
		}
		s.log.Warn().Err(err).
			Float64("nm", w).
			Int("attempt", attempt+1).
			Msg("acquisition failed, retrying wavelength")
		if cerr := s.closeShutter(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("closing shutter before retry")
		}
	}
}

// acquire runs one acquisition window. On error the partial result is
// returned along with the error.
func (s *Scanner) acquire(ctx context.Context, w float64) (*WavelengthResult, error) {
	if err := s.mono.SetWavelength(w); err != nil {
		return nil, fmt.Errorf("set wavelength: %w", err)
	}
	s.shutterOpen = true
	if err := s.mono.OpenShutter(); err != nil {
		return nil, fmt.Errorf("open shutter: %w", err)
	}
	if err := s.meter.EnableOutput(); err != nil {
		return nil, fmt.Errorf("enable output: %w", err)
	}

	wr := &WavelengthResult{Wavelength: w}
	sleep := s.cfg.SleepInterval()
	start := s.clock.Now()
	for s.clock.Now().Sub(start) < s.cfg.Duration {
		amps, err := s.meter.ReadCurrent()
		if err != nil {
			return wr, fmt.Errorf("read current: %w", err)
		}
		wr.Samples = append(wr.Samples, Sample{
			Elapsed: s.clock.Now().Sub(start),
			Current: ScaleCurrent(amps),
		})
		if err := s.clock.Sleep(ctx, sleep); err != nil {
			return wr, err
		}
	}

	if err := s.closeShutter(); err != nil {
		return wr, err
	}
	wr.Complete = true
	return wr, nil
}

func (s *Scanner) closeShutter() error {
	if err := s.mono.CloseShutter(); err != nil {
		return fmt.Errorf("close shutter: %w", err)
	}
	s.shutterOpen = false
	return nil
}

// shutdown leaves the bench dark and unbiased.
func (s *Scanner) shutdown() error {
	var err error
	if s.shutterOpen {
		err = multierr.Append(err, s.closeShutter())
	}
	if oerr := s.meter.DisableOutput(); oerr != nil {
		err = multierr.Append(err, fmt.Errorf("disable output: %w", oerr))
	}
	if err != nil {
		s.log.Error().Err(err).Msg("shutdown incomplete")
	}
	return err
}
