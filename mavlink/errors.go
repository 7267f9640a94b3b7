package mavlink

import "errors"

var (
	// ErrNotMAVLink means the bytes do not start with a MAVLink frame.
	ErrNotMAVLink = errors.New("not a MAVLink frame")

	// ErrTruncated means a frame header was found but the frame is incomplete.
	ErrTruncated = errors.New("truncated MAVLink frame")

	// ErrUnknownMessage is returned for message names or ids missing from
	// the message table.
	ErrUnknownMessage = errors.New("unknown MAVLink message")
)
