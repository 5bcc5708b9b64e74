package serialport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/gotmc/monoscan"
)

// Port is a serial port whose reads fail with monoscan.ErrChannelTimeout
// instead of returning no data, and whose transport errors wrap
// monoscan.ErrChannelIO.
type Port struct {
	name    string
	timeout time.Duration
	rwc     io.ReadWriteCloser
}

// Open opens the serial port at path.
func Open(path string, opts Options) (*Port, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	sp, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", monoscan.ErrChannelIO, path, err)
	}
	if opts.ReadTimeout > 0 {
		if err := sp.SetReadTimeout(opts.ReadTimeout); err != nil {
			sp.Close()
			return nil, fmt.Errorf("%w: %s: set read timeout: %w", monoscan.ErrChannelIO, path, err)
		}
	}
	return Wrap(sp, path, opts.ReadTimeout), nil
}

// Wrap adapts an already open connection. A read returning no data and no
// error is treated as a timeout, which is how go.bug.st/serial reports one.
func Wrap(rwc io.ReadWriteCloser, name string, timeout time.Duration) *Port {
	return &Port{name: name, timeout: timeout, rwc: rwc}
}

// Name returns the port path.
func (p *Port) Name() string { return p.name }

func (p *Port) Read(b []byte) (int, error) {
	n, err := p.rwc.Read(b)
	switch {
	case err != nil && !errors.Is(err, io.EOF):
		return n, fmt.Errorf("%w: read %s: %w", monoscan.ErrChannelIO, p.name, err)
	case err != nil:
		return n, err
	case n == 0 && len(b) > 0:
		return 0, fmt.Errorf("%w: no reply on %s within %s", monoscan.ErrChannelTimeout, p.name, p.timeout)
	}
	return n, nil
}

func (p *Port) Write(b []byte) (int, error) {
	n, err := p.rwc.Write(b)
	if err != nil {
		return n, fmt.Errorf("%w: write %s: %w", monoscan.ErrChannelIO, p.name, err)
	}
	return n, nil
}

// Flush discards any unread input, if the underlying port supports it.
func (p *Port) Flush() error {
	if fl, ok := p.rwc.(interface{ ResetInputBuffer() error }); ok {
		return fl.ResetInputBuffer()
	}
	return nil
}

// Close flushes and closes the port.
func (p *Port) Close() error {
	ferr := p.Flush()
	if err := p.rwc.Close(); err != nil {
		return err
	}
	return ferr
}
