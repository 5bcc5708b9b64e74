// Package sim provides a simulated monochromator and source-measure unit for
// dry runs. Both instruments share a Bench, so the simulated photocurrent
// follows the shutter and the selected wavelength.
package sim

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gotmc/monoscan"
)

// Bench is the shared optical state of the simulated setup.
type Bench struct {
	mu         sync.Mutex
	wavelength float64
	shutter    bool
	output     bool
	bias       float64
	configured bool

	// Dark is the current flowing with the shutter closed, in A.
	Dark float64
	// Peak is the photocurrent at the response maximum, in A.
	Peak float64
	// PeakWavelength and Width describe a Gaussian spectral response, in nm.
	PeakWavelength float64
	Width          float64
	// Noise is the standard deviation of the reading noise, in A.
	Noise float64
	// Latency is how long each reading takes.
	Latency time.Duration

	rng *rand.Rand
}

// NewBench returns a bench with a photodiode-like response peaking at 350 nm.
// Currents are negative, as the real detector reports them.
func NewBench() *Bench {
	return &Bench{
		Dark:           -2e-12,
		Peak:           -40e-9,
		PeakWavelength: 350,
		Width:          60,
		Noise:          5e-12,
		Latency:        20 * time.Millisecond,
		rng:            rand.New(rand.NewSource(1)),
	}
}

// Monochromator returns the simulated wavelength controller.
func (b *Bench) Monochromator() *Monochromator { return &Monochromator{b: b} }

// SMU returns the simulated current meter.
func (b *Bench) SMU() *SMU { return &SMU{b: b} }

// ShutterOpen reports the simulated shutter state.
func (b *Bench) ShutterOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutter
}

// OutputOn reports whether the simulated source output is enabled.
func (b *Bench) OutputOn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output
}

// current returns the instantaneous current in A.
func (b *Bench) current() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.Dark
	if b.shutter && b.output {
		d := (b.wavelength - b.PeakWavelength) / b.Width
		i += b.Peak * math.Exp(-d*d/2)
	}
	if b.Noise > 0 {
		i += b.rng.NormFloat64() * b.Noise
	}
	return i
}

// Monochromator is a simulated monoscan.WavelengthController.
type Monochromator struct{ b *Bench }

func (m *Monochromator) SetWavelength(nm float64) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	m.b.wavelength = nm
	return nil
}

func (m *Monochromator) OpenShutter() error { return m.setShutter(true) }

func (m *Monochromator) CloseShutter() error { return m.setShutter(false) }

func (m *Monochromator) setShutter(open bool) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	m.b.shutter = open
	return nil
}

// SMU is a simulated monoscan.CurrentMeter.
type SMU struct{ b *Bench }

func (s *SMU) Configure(m monoscan.MeterSettings) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.configured = true
	s.b.bias = 0
	if m.SetBias {
		s.b.bias = m.BiasVoltage
	}
	s.b.output = true
	return nil
}

func (s *SMU) EnableOutput() error { return s.setOutput(true) }

func (s *SMU) DisableOutput() error { return s.setOutput(false) }

func (s *SMU) setOutput(on bool) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.output = on
	return nil
}

// BiasLevel returns the programmed bias, zero when it was left at the reset
// level.
func (s *SMU) BiasLevel() (float64, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.b.bias, nil
}

func (s *SMU) ReadCurrent() (float64, error) {
	s.b.mu.Lock()
	configured, latency := s.b.configured, s.b.Latency
	s.b.mu.Unlock()
	if !configured {
		return 0, errors.New("sim: meter read before configure")
	}
	time.Sleep(latency)
	return s.b.current(), nil
}
