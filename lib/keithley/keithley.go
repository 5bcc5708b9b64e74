// Package keithley drives a Keithley 2400 series SourceMeter as a voltage
// source that senses current.
// https://download.tek.com/manual/2400S-900-01_K-Sep2011_User.pdf
package keithley

import (
	"strconv"
	"strings"

	"github.com/gotmc/query"
	"github.com/pkg/errors"

	"github.com/gotmc/monoscan"
)

// Instrument is a SCPI message channel. Both *serialport.Session and
// *gpib.Controller implement it.
type Instrument interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
}

// SMU is a source-measure unit session.
type SMU struct {
	inst Instrument
}

// New creates an SMU on the given instrument channel.
func New(inst Instrument) *SMU {
	return &SMU{inst: inst}
}

// Identify returns the *IDN? reply.
func (k *SMU) Identify() (string, error) {
	idn, err := query.String(k.inst, "*IDN?")
	if err != nil {
		return "", errors.Wrap(err, "identify")
	}
	return strings.TrimSpace(idn), nil
}

// Configure resets the instrument and sets it up to source the bias voltage
// and sense current, then turns the output on.
func (k *SMU) Configure(m monoscan.MeterSettings) error {
	cmds := []string{
		"*RST",
		":SOUR:FUNC VOLT",
	}
	if m.SetBias {
		cmds = append(cmds, ":SOUR:VOLT:LEV "+formatNumber(m.BiasVoltage))
	}
	cmds = append(cmds,
		":SOUR:VOLT:RANG "+formatNumber(m.VoltageRange),
		`:SENS:FUNC "CURR"`,
		":SENS:CURR:RANG "+formatNumber(m.CurrentRange),
		":SENS:CURR:NPLC "+formatNumber(m.NPLC),
		":OUTP ON",
	)
	for _, cmd := range cmds {
		if err := k.inst.Command(cmd); err != nil {
			return errors.Wrapf(err, "configure %q", cmd)
		}
	}
	return nil
}

// BiasLevel reads back the programmed source voltage.
func (k *SMU) BiasLevel() (float64, error) {
	v, err := query.Float64(k.inst, ":SOUR:VOLT:LEV?")
	if err != nil {
		return 0, errors.Wrap(err, "bias level")
	}
	return v, nil
}

// EnableOutput turns the source output on.
func (k *SMU) EnableOutput() error {
	return errors.Wrap(k.inst.Command(":OUTP ON"), "enable output")
}

// DisableOutput turns the source output off.
func (k *SMU) DisableOutput() error {
	return errors.Wrap(k.inst.Command(":OUTP OFF"), "disable output")
}

// ReadCurrent triggers a measurement and returns the current in amperes.
func (k *SMU) ReadCurrent() (float64, error) {
	reply, err := k.inst.Query(":READ?")
	if err != nil {
		return 0, errors.Wrap(err, "read")
	}
	return ParseReading(reply)
}

// ParseReading extracts the current from a :READ? reply. The reply is a
// comma-separated list of voltage, current, resistance, timestamp and status;
// the current is the second field.
func ParseReading(reply string) (float64, error) {
	fields := strings.Split(strings.TrimSpace(reply), ",")
	if len(fields) < 2 {
		return 0, errors.Wrapf(monoscan.ErrMalformedReply, "reading %q has no current field", reply)
	}
	current, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return 0, errors.Wrapf(monoscan.ErrMalformedReply, "reading %q: %v", reply, err)
	}
	return current, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
