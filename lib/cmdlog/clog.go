// Package cmdlog traces instrument traffic to a zerolog logger, with the
// command text highlighted for console output.
package cmdlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
)

var (
	CmdStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	ReplyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	ErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Instrument is the command/query channel being traced.
type Instrument interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
}

// Traced wraps an Instrument and logs every exchange at debug level.
type Traced struct {
	inst Instrument
	name string
	log  zerolog.Logger
}

// Trace returns inst wrapped so that its traffic is logged under name.
func Trace(inst Instrument, name string, log zerolog.Logger) *Traced {
	return &Traced{inst: inst, name: name, log: log}
}

// Command sends and logs a command.
func (t *Traced) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	err := t.inst.Command(cmd)
	if err != nil {
		t.log.Debug().Str("inst", t.name).Err(err).Msg(ErrStyle.Render(cmd))
		return err
	}
	t.log.Debug().Str("inst", t.name).Msg(CmdStyle.Render(cmd))
	return nil
}

// Query sends a query and logs it with the reply and round-trip time.
func (t *Traced) Query(cmd string) (string, error) {
	start := time.Now()
	reply, err := t.inst.Query(cmd)
	ev := t.log.Debug().Str("inst", t.name).Dur("rtt", time.Since(start))
	if err != nil {
		ev.Err(err).Msg(ErrStyle.Render(cmd))
		return reply, err
	}
	ev.Msg(CmdStyle.Render(cmd) + " " + ReplyStyle.Render(Printable(reply)))
	return reply, nil
}

// Printable renders a reply for the log: plain text is quoted, replies with
// control or non-ASCII bytes are shown in hex as well.
func Printable(s string) string {
	s = strings.TrimRight(s, "\r\n")
	switch {
	case len(s) == 0:
		return "<no response>"
	case isASCII(s):
		return fmt.Sprintf("%q", s)
	case len(s) < 32:
		return fmt.Sprintf("%q (% 2x)", s, []byte(s))
	}
	return fmt.Sprintf("[%d] % 2x", len(s), []byte(s))
}

func isASCII(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}
