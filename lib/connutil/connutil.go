// Package connutil registers the connection flags shared by the monoscan
// commands and opens the two instruments they describe.
package connutil

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/gotmc/monoscan"
	"github.com/gotmc/monoscan/lib/cmdlog"
	"github.com/gotmc/monoscan/lib/find"
	"github.com/gotmc/monoscan/lib/gpib"
	"github.com/gotmc/monoscan/lib/keithley"
	"github.com/gotmc/monoscan/lib/oriel"
	"github.com/gotmc/monoscan/lib/serialport"
	"github.com/gotmc/monoscan/lib/sim"
)

// SMU bus types.
const (
	BusSerial = "serial"
	BusGPIB   = "gpib"
)

// Conn describes how to reach the monochromator and the source-measure unit.
type Conn struct {
	MonoPort string `json:"mono_port,omitempty"`
	MonoBaud int    `json:"mono_baud,omitempty"`
	// MonoUSB, if set, is the serial number of the USB adapter the
	// monochromator hangs off; it overrides MonoPort.
	MonoUSB string `json:"mono_usb,omitempty"`
	// MonoMfg, if set, selects the adapter by manufacturer instead.
	MonoMfg string `json:"mono_mfg,omitempty"`

	SMUBus  string `json:"smu_bus,omitempty"`
	SMUPort string `json:"smu_port,omitempty"`
	SMUBaud int    `json:"smu_baud,omitempty"`
	SMUUSB  string `json:"smu_usb,omitempty"`
	SMUMfg  string `json:"smu_mfg,omitempty"`
	GpibPAD int    `json:"gpib_pad,omitempty"`
	GpibSAD int    `json:"gpib_sad,omitempty"` // 0 for none
	// GpibClear sends Selected Device Clear when the controller is set up.
	GpibClear bool `json:"gpib_clear,omitempty"`
	AR488     bool `json:"ar488,omitempty"`

	// Timeout bounds every instrument read.
	Timeout time.Duration `json:"-"`

	Simulate bool `json:"simulate,omitempty"`
	// Trace logs every SMU command and reply at debug level.
	Trace bool `json:"trace,omitempty"`

	sysfs string
}

// Defaults returns the connection settings of the reference bench.
func Defaults() Conn {
	return Conn{
		MonoPort: "/dev/ttyUSB0",
		MonoBaud: 9600,
		SMUBus:   BusSerial,
		SMUPort:  "/dev/ttyUSB1",
		SMUBaud:  9600,
		GpibPAD:  24,
		Timeout:  60 * time.Second,
	}
}

// AddFlags registers the connection flags on fs, using the current field
// values as defaults. It is to be called before fs.Parse.
func (c *Conn) AddFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.MonoPort, "mono-port", c.MonoPort, "serial port of the monochromator")
	fs.IntVar(&c.MonoBaud, "mono-baud", c.MonoBaud, "monochromator baud rate")
	fs.StringVar(&c.MonoUSB, "mono-usb", c.MonoUSB, "find the monochromator port by USB adapter serial number")
	fs.StringVar(&c.MonoMfg, "mono-mfg", c.MonoMfg, "find the monochromator port by USB adapter manufacturer, e.g. FTDI")
	fs.StringVar(&c.SMUBus, "smu-bus", c.SMUBus, "SMU connection: serial or gpib (Prologix controller)")
	fs.StringVar(&c.SMUPort, "smu-port", c.SMUPort, "serial port of the SMU or of its GPIB controller")
	fs.IntVar(&c.SMUBaud, "smu-baud", c.SMUBaud, "SMU baud rate")
	fs.StringVar(&c.SMUUSB, "smu-usb", c.SMUUSB, "find the SMU port by USB adapter serial number")
	fs.StringVar(&c.SMUMfg, "smu-mfg", c.SMUMfg, "find the SMU port by USB adapter manufacturer, e.g. Prologix")
	fs.IntVar(&c.GpibPAD, "pad", c.GpibPAD, "GPIB primary address of the SMU")
	fs.IntVar(&c.GpibSAD, "sad", c.GpibSAD, "GPIB secondary address of the SMU, 0 for none")
	fs.BoolVar(&c.GpibClear, "gpib-clear", c.GpibClear, "send Selected Device Clear to the SMU at startup")
	fs.BoolVar(&c.AR488, "ar488", c.AR488, "GPIB controller is an AR488")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "instrument read timeout")
	fs.BoolVar(&c.Simulate, "sim", c.Simulate, "use simulated instruments")
}

// Instruments are the opened adapters. Close releases their ports.
type Instruments struct {
	Mono  monoscan.WavelengthController
	Meter monoscan.CurrentMeter
	// Bench is set when the instruments are simulated.
	Bench *sim.Bench

	closers []func() error
}

// Close returns the SMU to local control where applicable and closes the
// ports, reporting every failure.
func (in *Instruments) Close() error {
	var err error
	for i := len(in.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, in.closers[i]())
	}
	in.closers = nil
	return err
}

// Setup opens both instruments. It is to be called after flags are parsed.
func (c *Conn) Setup(log zerolog.Logger) (*Instruments, error) {
	if c.Simulate {
		bench := sim.NewBench()
		log.Warn().Msg("using simulated instruments")
		return &Instruments{Mono: bench.Monochromator(), Meter: bench.SMU(), Bench: bench}, nil
	}

	in := &Instruments{}
	fail := func(err error) (*Instruments, error) {
		return nil, multierr.Append(err, in.Close())
	}

	monoPath, err := c.resolve(c.MonoPort, c.MonoUSB, c.MonoMfg)
	if err != nil {
		return fail(fmt.Errorf("monochromator port: %w", err))
	}
	log.Info().Str("port", monoPath).Msg("monochromator")
	monoPort, err := serialport.Open(monoPath, serialport.Options{BaudRate: c.MonoBaud, ReadTimeout: c.Timeout})
	if err != nil {
		return fail(err)
	}
	in.closers = append(in.closers, monoPort.Close)
	in.Mono = oriel.New(monoPort)

	smuPath, err := c.resolve(c.SMUPort, c.SMUUSB, c.SMUMfg)
	if err != nil {
		return fail(fmt.Errorf("SMU port: %w", err))
	}
	log.Info().Str("port", smuPath).Str("bus", c.SMUBus).Msg("source-measure unit")
	smuPort, err := serialport.Open(smuPath, serialport.Options{BaudRate: c.SMUBaud, ReadTimeout: c.Timeout})
	if err != nil {
		return fail(err)
	}
	in.closers = append(in.closers, smuPort.Close)

	smu, err := c.openSMU(smuPort, in, log)
	if err != nil {
		return fail(err)
	}
	in.Meter = smu
	return in, nil
}

// openSMU builds the SMU adapter on the given transport and identifies it.
// Closers that must run before the port closes are added to in.
func (c *Conn) openSMU(rw io.ReadWriter, in *Instruments, log zerolog.Logger) (*keithley.SMU, error) {
	var inst keithley.Instrument
	switch strings.ToLower(c.SMUBus) {
	case "", BusSerial:
		// RS-232 on the 2400 terminates with CR both ways.
		inst = serialport.NewSession(rw, serialport.WithTerminators("\r", '\r'))
	case BusGPIB:
		opts := []gpib.ControllerOption{gpib.WithLogger(log)}
		if c.Timeout > 0 {
			opts = append(opts, gpib.WithReadTimeout(int(c.Timeout/time.Millisecond)))
		}
		if c.GpibSAD != 0 {
			opts = append(opts, gpib.WithSecondaryAddress(c.GpibSAD))
		}
		if c.AR488 {
			opts = append(opts, gpib.WithAR488())
		}
		ctrl, err := gpib.NewController(rw, c.GpibPAD, c.GpibClear, opts...)
		if err != nil {
			return nil, err
		}
		ver, err := ctrl.Version()
		if err != nil {
			return nil, fmt.Errorf("GPIB controller version: %w", err)
		}
		log.Info().Str("version", ver).Msg("GPIB controller")
		in.closers = append(in.closers, ctrl.FrontPanel)
		inst = ctrl
	default:
		return nil, fmt.Errorf("unknown SMU bus %q (want %s or %s)", c.SMUBus, BusSerial, BusGPIB)
	}
	if c.Trace {
		inst = cmdlog.Trace(inst, "smu", log)
	}

	smu := keithley.New(inst)
	idn, err := smu.Identify()
	if err != nil {
		return nil, err
	}
	log.Info().Str("idn", idn).Msg("SMU identified")
	return smu, nil
}

// resolve returns the device path for an instrument: the adapter with the
// given USB serial number or manufacturer if either is set, the configured
// port otherwise.
func (c *Conn) resolve(port, usbSerial, mfg string) (string, error) {
	var filter find.FilterFn
	switch {
	case usbSerial != "":
		filter = find.SerialFilter(usbSerial)
	case mfg != "":
		filter = find.ManufacturerFilter(mfg)
	default:
		return port, nil
	}
	root := c.sysfs
	if root == "" {
		root = find.SysfsRoot
	}
	return find.Find(root, filter)
}
