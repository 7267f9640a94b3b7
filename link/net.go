package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// NetDialer opens a Link over TCP or UDP. It is used for SITL autopilots
// and for modem emulators listening on a socket.
type NetDialer struct {
	Network string // "tcp" or "udp"
	Address string
	// Listen binds Address and answers whoever sent the last datagram
	// instead of connecting out. Only valid for "udp".
	Listen bool
}

func (d NetDialer) Dial(ctx context.Context) (Link, error) {
	if ctx == nil {
		return nil, errors.New("link: context is nil")
	}
	if d.Address == "" {
		return nil, errors.New("link: network address is required")
	}

	if d.Listen {
		if d.Network != "udp" {
			return nil, fmt.Errorf("link: cannot listen on %s", d.Network)
		}
		var lc net.ListenConfig
		pc, err := lc.ListenPacket(ctx, "udp", d.Address)
		if err != nil {
			return nil, fmt.Errorf("link: listen %s: %w", d.Address, err)
		}
		return &packetLink{conn: pc, alive: true}, nil
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, d.Network, d.Address)
	if err != nil {
		return nil, fmt.Errorf("link: dial %s %s: %w", d.Network, d.Address, err)
	}
	return &connLink{conn: conn, alive: true}, nil
}

func (d NetDialer) String() string {
	if d.Listen {
		return "udpin:" + d.Address
	}
	return d.Network + ":" + d.Address
}

// isTimeout reports whether err is an expired read deadline.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type connLink struct {
	conn  net.Conn
	buf   [2048]byte
	alive bool
}

func (l *connLink) Send(p []byte) error {
	if !l.alive {
		return ErrDown
	}
	if _, err := l.conn.Write(p); err != nil {
		l.alive = false
		return fmt.Errorf("%w: write %s: %v", ErrDown, l.conn.RemoteAddr(), err)
	}
	return nil
}

func (l *connLink) TryRecv(timeout time.Duration) ([]byte, error) {
	if !l.alive {
		return nil, ErrDown
	}
	if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		l.alive = false
		return nil, fmt.Errorf("%w: %v", ErrDown, err)
	}
	n, err := l.conn.Read(l.buf[:])
	if err != nil && !isTimeout(err) {
		l.alive = false
		return nil, fmt.Errorf("%w: read %s: %v", ErrDown, l.conn.RemoteAddr(), err)
	}
	if n == 0 {
		return nil, nil
	}
	return append([]byte(nil), l.buf[:n]...), nil
}

func (l *connLink) IsAlive() bool {
	return l.alive
}

func (l *connLink) Close() error {
	l.alive = false
	return l.conn.Close()
}

// packetLink is a bound UDP socket. It cannot send before a peer has
// been heard from.
type packetLink struct {
	conn  net.PacketConn
	peer  net.Addr
	buf   [2048]byte
	alive bool
}

func (l *packetLink) Send(p []byte) error {
	if !l.alive {
		return ErrDown
	}
	if l.peer == nil {
		return ErrNoPeer
	}
	if _, err := l.conn.WriteTo(p, l.peer); err != nil {
		l.alive = false
		return fmt.Errorf("%w: write %s: %v", ErrDown, l.peer, err)
	}
	return nil
}

func (l *packetLink) TryRecv(timeout time.Duration) ([]byte, error) {
	if !l.alive {
		return nil, ErrDown
	}
	if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		l.alive = false
		return nil, fmt.Errorf("%w: %v", ErrDown, err)
	}
	n, addr, err := l.conn.ReadFrom(l.buf[:])
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		l.alive = false
		return nil, fmt.Errorf("%w: read %s: %v", ErrDown, l.conn.LocalAddr(), err)
	}
	l.peer = addr
	if n == 0 {
		return nil, nil
	}
	return append([]byte(nil), l.buf[:n]...), nil
}

// LocalAddr is the bound address, useful when listening on port 0.
func (l *packetLink) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

func (l *packetLink) IsAlive() bool {
	return l.alive
}

func (l *packetLink) Ready() bool {
	return l.alive && l.peer != nil
}

func (l *packetLink) Close() error {
	l.alive = false
	return l.conn.Close()
}
