// Copyright (c) 2024 The monoscan developers. All rights reserved.
// Project site: https://github.com/gotmc/monoscan
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package monoscan

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// MeterSettings configures the source-measure unit: source a fixed bias
// voltage and sense current at a fixed range and integration time.
type MeterSettings struct {
	BiasVoltage float64 // V
	// SetBias controls whether the bias level is written. When false the
	// instrument stays at its reset level.
	SetBias      bool
	VoltageRange float64 // V
	CurrentRange float64 // A
	NPLC         float64 // integration time in power-line cycles
}

// Config holds everything the scan loop needs. It is copied into the Scanner
// at construction and not modified afterwards.
type Config struct {
	// Wavelengths, if set, is the explicit sequence in nm. Otherwise the
	// sequence runs from Start toward Stop in Step increments, excluding
	// Stop.
	Wavelengths []float64
	Start       float64
	Stop        float64
	Step        float64

	// Interval is the target time between samples.
	Interval time.Duration
	// ReadOverhead is subtracted from Interval to get the sleep between
	// reads. It approximates the per-read latency of the meter and depends
	// on the hardware.
	ReadOverhead time.Duration
	// Duration is the length of the acquisition window at each wavelength.
	Duration time.Duration
	// Pause is the idle time between wavelengths.
	Pause time.Duration
	// Retries is the number of times a failed wavelength window is
	// re-attempted before the scan aborts.
	Retries int

	Meter MeterSettings
}

// DefaultConfig returns the configuration of the bench the procedure was
// written for.
func DefaultConfig() Config {
	return Config{
		Start:        500,
		Stop:         200,
		Step:         -5,
		Interval:     500 * time.Millisecond,
		ReadOverhead: 139 * time.Millisecond,
		Duration:     2 * time.Second,
		Pause:        time.Second,
		Meter: MeterSettings{
			BiasVoltage:  1.0,
			SetBias:      true,
			VoltageRange: 20,
			CurrentRange: 1e-6,
			NPLC:         1,
		},
	}
}

// SleepInterval returns the pause between reads after overhead compensation.
func (c Config) SleepInterval() time.Duration {
	return max(c.Interval-c.ReadOverhead, 0)
}

// Sequence returns the wavelengths to scan, in order.
func (c Config) Sequence() ([]float64, error) {
	if len(c.Wavelengths) > 0 {
		seq := slices.Clone(c.Wavelengths)
		if err := checkMonotonic(seq); err != nil {
			return nil, err
		}
		return seq, nil
	}
	return WavelengthRange(c.Start, c.Stop, c.Step)
}

// Validate checks the configuration for values the scan cannot run with.
func (c Config) Validate() error {
	if _, err := c.Sequence(); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return fmt.Errorf("sample interval must be positive, got %s", c.Interval)
	}
	if c.ReadOverhead < 0 {
		return fmt.Errorf("read overhead must not be negative, got %s", c.ReadOverhead)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("acquisition duration must be positive, got %s", c.Duration)
	}
	if c.Pause < 0 {
		return fmt.Errorf("pause must not be negative, got %s", c.Pause)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if c.Meter.VoltageRange <= 0 || c.Meter.CurrentRange <= 0 {
		return errors.New("meter ranges must be positive")
	}
	if c.Meter.NPLC <= 0 {
		return fmt.Errorf("NPLC must be positive, got %g", c.Meter.NPLC)
	}
	return nil
}

// MaxWavelengths bounds the length of a wavelength sequence.
const MaxWavelengths = 100000

// WavelengthRange returns start, start+step, ... up to but excluding stop.
// Values are computed from the index to avoid accumulating rounding error.
func WavelengthRange(start, stop, step float64) ([]float64, error) {
	if step == 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("invalid wavelength step %g", step)
	}
	if !finite(start) || !finite(stop) {
		return nil, fmt.Errorf("invalid wavelength range %g to %g", start, stop)
	}
	if (stop-start)/step <= 0 {
		return nil, fmt.Errorf("step %g does not move from %g toward %g", step, start, stop)
	}
	// Tolerate rounding so that a stop exactly on the grid stays excluded.
	steps := math.Ceil((stop-start)/step - 1e-9)
	if steps > MaxWavelengths {
		return nil, fmt.Errorf("range %g to %g in steps of %g has more than %d wavelengths", start, stop, step, MaxWavelengths)
	}
	n := int(steps)
	seq := make([]float64, n)
	for i := range seq {
		seq[i] = start + float64(i)*step
	}
	return seq, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func checkMonotonic(seq []float64) error {
	if len(seq) > MaxWavelengths {
		return fmt.Errorf("%d wavelengths, at most %d allowed", len(seq), MaxWavelengths)
	}
	for _, w := range seq {
		if !finite(w) {
			return fmt.Errorf("invalid wavelength %g", w)
		}
	}
	if len(seq) < 2 {
		return nil
	}
	up := seq[1] > seq[0]
	for i := 1; i < len(seq); i++ {
		if seq[i] == seq[i-1] || (seq[i] > seq[i-1]) != up {
			return fmt.Errorf("wavelengths must be strictly monotonic: %g follows %g", seq[i], seq[i-1])
		}
	}
	return nil
}
