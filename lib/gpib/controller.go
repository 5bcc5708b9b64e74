// Copyright (c) 2024 The monoscan developers. All rights reserved.
// Project site: https://github.com/gotmc/monoscan
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package gpib talks to a GPIB instrument through a Prologix (or AR488)
// USB-to-GPIB controller attached as a serial port.
package gpib

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Controller models a GPIB controller-in-charge addressing one instrument.
type Controller struct {
	rw               io.ReadWriter
	r                *bufio.Reader
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	readTimeoutMs    int
	usbTerm          byte
	eotChar          byte
	ar488            bool // compatibility with Arduino AR488 - see WithAR488
	log              zerolog.Logger
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController configures the controller on rw to address the instrument at
// the given primary address. Enable clear to send the Selected Device Clear
// (SDC) message to the instrument.
func NewController(
	rw io.ReadWriter,
	addr int,
	clear bool,
	opts ...ControllerOption,
) (*Controller, error) {
	c := Controller{
		rw:            rw,
		r:             bufio.NewReader(rw),
		primaryAddr:   addr,
		readTimeoutMs: 3000,
		usbTerm:       '\n',
		eotChar:       '\n',
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&c)
	}

	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", c.primaryAddr)
	}
	addrCmd := fmt.Sprintf("addr %d", c.primaryAddr)
	if c.hasSecondaryAddr {
		if !isSecondaryAddressValid(c.secondaryAddr) {
			return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", c.primaryAddr, c.secondaryAddr)
	}

	var cmds []string
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // don't persist the settings below in EEPROM
		)
	}
	cmds = append(cmds,
		addrCmd,
		"mode 1", // controller mode
		"auto 0", // no read-after-write; Query asks for the reply explicitly
		"eoi 1",  // assert EOI with the last byte
		"eos 0",  // CR+LF GPIB terminator
		fmt.Sprintf("read_tmo_ms %d", c.readTimeoutMs),
		fmt.Sprintf("eot_char %d", c.eotChar),
		"eot_enable 1", // append eot_char when EOI is seen
	)
	if clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := c.CommandController(cmd); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithReadTimeout sets how long the controller waits for the instrument to
// talk, in milliseconds (1-3000).
func WithReadTimeout(ms int) ControllerOption {
	return func(c *Controller) { c.readTimeoutMs = min(max(ms, 1), 3000) }
}

// WithLogger logs every controller command and instrument exchange at debug
// level.
func WithLogger(l zerolog.Logger) ControllerOption { return func(c *Controller) { c.log = l } }

// WithAR488 slightly alters the init commands, for compatibility with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

// Command formats according to a format specifier if provided and sends a
// SCPI/ASCII command to the instrument. Leading and trailing whitespace is
// removed before the USB terminator is appended.
func (c *Controller) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = strings.TrimSpace(cmd)
	c.log.Debug().Str("cmd", cmd).Msg("gpib write")
	_, err := fmt.Fprintf(c.rw, "%s%c", escape(cmd), c.usbTerm)
	return err
}

// Query sends cmd to the instrument, asks the controller to read the reply
// until EOI and returns it without the trailing terminator.
func (c *Controller) Query(cmd string) (string, error) {
	if err := c.Command(cmd); err != nil {
		return "", fmt.Errorf("writing %q: %w", cmd, err)
	}
	if err := c.CommandController("read eoi"); err != nil {
		return "", fmt.Errorf("requesting reply to %q: %w", cmd, err)
	}
	s, err := c.r.ReadString(c.eotChar)
	if err != nil {
		return "", fmt.Errorf("reading reply to %q: %w", cmd, err)
	}
	s = strings.TrimRight(s, "\r\n")
	c.log.Debug().Str("cmd", cmd).Str("reply", s).Msg("gpib read")
	return s, nil
}

// CommandController sends the given command to the controller itself rather
// than to the instrument. The `++` prefix and USB terminator are added here.
func (c *Controller) CommandController(cmd string) error {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	c.log.Debug().Str("cmd", "++"+cmd).Msg("controller")
	_, err := fmt.Fprintf(c.rw, "++%s%c", cmd, c.usbTerm)
	return err
}

// QueryController sends a controller command and returns its one-line reply.
func (c *Controller) QueryController(cmd string) (string, error) {
	if err := c.CommandController(cmd); err != nil {
		return "", err
	}
	s, err := c.r.ReadString(c.eotChar)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Version returns the controller's version string.
func (c *Controller) Version() (string, error) {
	return c.QueryController("ver")
}

// FrontPanel returns the instrument to local (front panel) control.
func (c *Controller) FrontPanel() error {
	return c.CommandController("loc")
}

// escape prefixes the bytes the controller would otherwise strip or
// interpret (CR, LF, ESC and '+') with ESC so they reach the instrument.
func escape(cmd string) string {
	if !strings.ContainsAny(cmd, "\r\n\x1b+") {
		return cmd
	}
	var b strings.Builder
	for i := 0; i < len(cmd); i++ {
		switch cmd[i] {
		case '\r', '\n', 0x1b, '+':
			b.WriteByte(0x1b)
		}
		b.WriteByte(cmd[i])
	}
	return b.String()
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
