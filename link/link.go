package link

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

//go:generate go tool mockgen -source=link.go -destination=mock_link.go -package=link

// Link is an established, bidirectional byte connection to the autopilot
// or to the modem.
//
// A Link is polled, never blocked on: TryRecv waits at most for the given
// timeout and returns (nil, nil) when nothing arrived. Implementations
// include serial ports, TCP and UDP sockets and the in-memory TestLink.
type Link interface {
	// Send writes p in full or returns an error.
	Send(p []byte) error
	// TryRecv returns whatever bytes arrived within timeout. A nil slice
	// with a nil error means no data. An error means the link is down.
	TryRecv(timeout time.Duration) ([]byte, error)
	// IsAlive reports whether the link can still carry data. It turns
	// false after the first I/O failure or Close.
	IsAlive() bool
	Close() error
}

// Dialer opens a Link.
//
// Dial may block and should respect cancellation of ctx. The bridge calls
// it again after a link has failed, so implementations must be reusable.
type Dialer interface {
	Dial(ctx context.Context) (Link, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Link, error)

func (f DialerFunc) Dial(ctx context.Context) (Link, error) {
	return f(ctx)
}

// ParseDescriptor turns a link descriptor into a Dialer. Supported forms:
//
//	serial:/dev/ttyUSB0:19200   serial port, optional baud rate
//	tcp:127.0.0.1:5760          TCP client
//	udp:127.0.0.1:14550         UDP client
//	udpin:0.0.0.0:14550         UDP listener, replies go to the last sender
func ParseDescriptor(desc string) (Dialer, error) {
	scheme, rest, ok := strings.Cut(desc, ":")
	if !ok || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}

	switch scheme {
	case "serial":
		d := SerialDialer{PortName: rest}
		if i := strings.LastIndexByte(rest, ':'); i > 0 {
			if baud, err := strconv.Atoi(rest[i+1:]); err == nil {
				if baud <= 0 {
					return nil, fmt.Errorf("%w: invalid baud rate in %q", ErrBadDescriptor, desc)
				}
				d.PortName = rest[:i]
				d.BaudRate = baud
			}
		}
		return d, nil
	case "tcp", "udp":
		return NetDialer{Network: scheme, Address: rest}, nil
	case "udpin":
		return NetDialer{Network: "udp", Address: rest, Listen: true}, nil
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrBadDescriptor, scheme)
	}
}
