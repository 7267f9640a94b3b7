package link

import "errors"

var (
	// ErrDown is returned by Send and TryRecv once a link has failed or
	// has been closed. Callers treat it as a link-down event and redial.
	ErrDown = errors.New("link down")

	// ErrNoPeer is returned by Send on a UDP listener that has not
	// received anything yet, so there is no address to send to.
	ErrNoPeer = errors.New("no peer yet")

	// ErrBadDescriptor is returned by ParseDescriptor for a descriptor it
	// cannot turn into a Dialer.
	ErrBadDescriptor = errors.New("invalid link descriptor")
)
