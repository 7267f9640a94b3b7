package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate of the Iridium 9523 data port.
const DefaultBaudRate = 19200

// SerialDialer opens a Link over a serial port using go.bug.st/serial.
type SerialDialer struct {
	PortName string
	// BaudRate is used when Mode is nil. Zero means DefaultBaudRate.
	BaudRate int
	// Mode overrides the default 8N1 line settings.
	Mode *serial.Mode
}

// Dial opens the serial port. The port is not shared: each successful
// Dial owns its port until the returned Link is closed.
func (d SerialDialer) Dial(ctx context.Context) (Link, error) {
	if ctx == nil {
		return nil, errors.New("link: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("link: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = DefaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("link: open serial port %s: %w", d.PortName, err)
	}
	return &serialLink{port: port, name: d.PortName, readTimeout: -1, alive: true}, nil
}

func (d SerialDialer) String() string {
	return "serial:" + d.PortName
}

type serialLink struct {
	port        serial.Port
	name        string
	readTimeout time.Duration
	buf         [1024]byte
	alive       bool
}

func (l *serialLink) Send(p []byte) error {
	if !l.alive {
		return ErrDown
	}
	for len(p) > 0 {
		n, err := l.port.Write(p)
		if err != nil {
			l.alive = false
			return fmt.Errorf("%w: write %s: %v", ErrDown, l.name, err)
		}
		p = p[n:]
	}
	return nil
}

func (l *serialLink) TryRecv(timeout time.Duration) ([]byte, error) {
	if !l.alive {
		return nil, ErrDown
	}
	if timeout != l.readTimeout {
		if err := l.port.SetReadTimeout(timeout); err != nil {
			return nil, fmt.Errorf("set read timeout on %s: %w", l.name, err)
		}
		l.readTimeout = timeout
	}

	// go.bug.st/serial reports an expired read timeout as (0, nil).
	n, err := l.port.Read(l.buf[:])
	if err != nil {
		l.alive = false
		return nil, fmt.Errorf("%w: read %s: %v", ErrDown, l.name, err)
	}
	if n == 0 {
		return nil, nil
	}
	return append([]byte(nil), l.buf[:n]...), nil
}

func (l *serialLink) IsAlive() bool {
	return l.alive
}

func (l *serialLink) Close() error {
	l.alive = false
	return l.port.Close()
}
