// Copyright (c) 2024 The monoscan developers. All rights reserved.
// Project site: https://github.com/gotmc/monoscan
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package monoscan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// CurrentScale converts a source-measure unit reading in amperes into the
// reported unit, nanoamperes, and flips its polarity.
const CurrentScale = -1e9

// ScaleCurrent converts a raw reading in amperes into the recorded current in
// nA.
func ScaleCurrent(amps float64) float64 {
	return amps * CurrentScale
}

// Sample is a single current reading taken during an acquisition window.
type Sample struct {
	// Elapsed is the time since the start of the wavelength's window.
	Elapsed time.Duration
	// Current is the sign-corrected current in nA.
	Current float64
}

// WavelengthResult holds the samples acquired at one wavelength, in
// acquisition order.
type WavelengthResult struct {
	Wavelength float64 // nm
	Samples    []Sample
	// Complete is set once the shutter has closed on the window. A window
	// cut short by an error keeps whatever it collected with Complete false.
	Complete bool
}

// Currents returns the current values in acquisition order.
func (wr *WavelengthResult) Currents() []float64 {
	c := make([]float64, len(wr.Samples))
	for i, s := range wr.Samples {
		c[i] = s.Current
	}
	return c
}

// Stats returns the mean and standard deviation of the window's currents.
// The deviation is zero for fewer than two samples.
func (wr *WavelengthResult) Stats() (mean, std float64) {
	switch len(wr.Samples) {
	case 0:
		return 0, 0
	case 1:
		return wr.Samples[0].Current, 0
	}
	return stat.MeanStdDev(wr.Currents(), nil)
}

// ScanResult is the outcome of a scan: one WavelengthResult per wavelength
// acquired, in acquisition order.
type ScanResult struct {
	RunID   uuid.UUID
	Started time.Time
	// Interval is the configured target sample interval, used to synthesize
	// the common time axis of the wide export.
	Interval time.Duration
	Results  []*WavelengthResult
}

// NewScanResult returns an empty result for a new run.
func NewScanResult(interval time.Duration) *ScanResult {
	return &ScanResult{
		RunID:    uuid.New(),
		Started:  time.Now(),
		Interval: interval,
	}
}

// Lookup returns the result for the given wavelength, if any.
func (r *ScanResult) Lookup(wavelength float64) (*WavelengthResult, bool) {
	for _, wr := range r.Results {
		if wr.Wavelength == wavelength {
			return wr, true
		}
	}
	return nil, false
}

// Wavelengths returns the wavelengths in result order.
func (r *ScanResult) Wavelengths() []float64 {
	ws := make([]float64, len(r.Results))
	for i, wr := range r.Results {
		ws[i] = wr.Wavelength
	}
	return ws
}

// MaxSamples returns the largest sample count across all wavelengths.
func (r *ScanResult) MaxSamples() int {
	n := 0
	for _, wr := range r.Results {
		n = max(n, len(wr.Samples))
	}
	return n
}

// TotalSamples returns the number of samples across all wavelengths.
func (r *ScanResult) TotalSamples() int {
	n := 0
	for _, wr := range r.Results {
		n += len(wr.Samples)
	}
	return n
}

// Complete reports whether every acquired window finished.
func (r *ScanResult) Complete() bool {
	for _, wr := range r.Results {
		if !wr.Complete {
			return false
		}
	}
	return true
}

// Validate checks that no wavelength appears twice and that elapsed time
// strictly increases within each wavelength.
func (r *ScanResult) Validate() error {
	seen := make(map[float64]bool, len(r.Results))
	for _, wr := range r.Results {
		if seen[wr.Wavelength] {
			return fmt.Errorf("duplicate wavelength %g nm", wr.Wavelength)
		}
		seen[wr.Wavelength] = true
		for i := 1; i < len(wr.Samples); i++ {
			if wr.Samples[i].Elapsed <= wr.Samples[i-1].Elapsed {
				return fmt.Errorf("%g nm: sample %d elapsed %s not after %s",
					wr.Wavelength, i, wr.Samples[i].Elapsed, wr.Samples[i-1].Elapsed)
			}
		}
	}
	return nil
}

func (r *ScanResult) add(wr *WavelengthResult) {
	r.Results = append(r.Results, wr)
}
