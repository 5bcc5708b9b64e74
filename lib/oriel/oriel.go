// Package oriel drives an Oriel Cornerstone monochromator over its
// line-oriented serial protocol.
package oriel

import (
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/gotmc/monoscan"
	"github.com/gotmc/monoscan/lib/serialport"
)

// Monochromator sends commands to the monochromator and consumes the one
// reply line each command produces. The reply content is not checked.
type Monochromator struct {
	s *serialport.Session
}

// New creates a monochromator on rw, normally a *serialport.Port opened at
// the instrument's baud rate.
func New(rw io.ReadWriter) *Monochromator {
	return &Monochromator{s: serialport.NewSession(rw)}
}

// SetWavelength moves the grating to nm.
func (m *Monochromator) SetWavelength(nm float64) error {
	return m.exchange("GOWAVE " + strconv.FormatFloat(nm, 'f', -1, 64))
}

// OpenShutter opens the output shutter.
func (m *Monochromator) OpenShutter() error { return m.exchange("SHUTTER O") }

// CloseShutter closes the output shutter.
func (m *Monochromator) CloseShutter() error { return m.exchange("SHUTTER C") }

func (m *Monochromator) exchange(cmd string) error {
	if err := m.s.Command(cmd); err != nil {
		return wrapIO(err, cmd)
	}
	if _, err := m.s.ReadLine(); err != nil {
		return wrapIO(err, cmd)
	}
	return nil
}

// wrapIO adds the command to the error and makes sure it carries one of the
// channel error kinds.
func wrapIO(err error, cmd string) error {
	if errors.Is(err, monoscan.ErrChannelTimeout) || errors.Is(err, monoscan.ErrChannelIO) {
		return errors.Wrapf(err, "monochromator %q", cmd)
	}
	return errors.Wrapf(monoscan.ErrChannelIO, "monochromator %q: %v", cmd, err)
}
