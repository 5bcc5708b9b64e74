package serialport

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Session exchanges terminated ASCII commands and replies over a byte
// stream, e.g. a Port.
type Session struct {
	rw        io.ReadWriter
	r         *bufio.Reader
	writeTerm string
	readTerm  byte
}

// SessionOption applies an option to the session.
type SessionOption func(*Session)

// WithTerminators sets the terminator appended to commands and the byte that
// ends a reply. Both default to newline.
func WithTerminators(write string, read byte) SessionOption {
	return func(s *Session) {
		s.writeTerm = write
		s.readTerm = read
	}
}

// NewSession creates a session on rw.
func NewSession(rw io.ReadWriter, opts ...SessionOption) *Session {
	s := Session{
		rw:        rw,
		r:         bufio.NewReader(rw),
		writeTerm: "\n",
		readTerm:  '\n',
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &s
}

// Command formats according to a format specifier if arguments are given and
// sends the result with the write terminator appended. Leading and trailing
// whitespace is removed first.
func (s *Session) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	_, err := io.WriteString(s.rw, strings.TrimSpace(cmd)+s.writeTerm)
	return err
}

// ReadLine reads one reply and returns it without the terminator or
// surrounding whitespace.
func (s *Session) ReadLine() (string, error) {
	line, err := s.r.ReadString(s.readTerm)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Query sends cmd and returns the reply.
func (s *Session) Query(cmd string) (string, error) {
	if err := s.Command(cmd); err != nil {
		return "", err
	}
	return s.ReadLine()
}
