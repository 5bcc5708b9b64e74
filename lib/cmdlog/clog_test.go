package cmdlog

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct {
	sent []string
	err  error
}

func (e *echo) Command(format string, a ...any) error {
	e.sent = append(e.sent, fmt.Sprintf(format, a...))
	return e.err
}

func (e *echo) Query(cmd string) (string, error) {
	e.sent = append(e.sent, cmd)
	return "reply to " + cmd + "\r", e.err
}

func TestTracedPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	e := &echo{}
	tr := Trace(e, "smu", zerolog.New(&buf).Level(zerolog.DebugLevel))

	require.NoError(t, tr.Command(":SOUR:VOLT:LEV %g", 1.5))
	reply, err := tr.Query("*IDN?")
	require.NoError(t, err)

	assert.Equal(t, "reply to *IDN?\r", reply)
	assert.Equal(t, []string{":SOUR:VOLT:LEV 1.5", "*IDN?"}, e.sent)
	assert.Contains(t, buf.String(), `"inst":"smu"`)
	assert.Contains(t, buf.String(), "SOUR:VOLT:LEV 1.5")
	assert.Contains(t, buf.String(), `"rtt"`)
}

func TestTracedErrors(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	tr := Trace(&echo{err: boom}, "mono", zerolog.New(&buf).Level(zerolog.DebugLevel))
	require.ErrorIs(t, tr.Command("SHUTTER O"), boom)
	_, err := tr.Query("WAVE?")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "boom")
}

func TestTracedSilentAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	tr := Trace(&echo{}, "smu", zerolog.New(&buf).Level(zerolog.InfoLevel))
	_, err := tr.Query(":READ?")
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestPrintable(t *testing.T) {
	assert.Equal(t, "<no response>", Printable("\r\n"))
	assert.Equal(t, `"ok"`, Printable("ok\n"))
	assert.Equal(t, `"\x01a" (01 61)`, Printable("\x01a"))
}
