package forward

import (
	"errors"
	"fmt"
)

var (
	// ErrOversize is returned by Enqueue for a message larger than the
	// bucket capacity. Such a message could never be paid for.
	ErrOversize = errors.New("message larger than token bucket capacity")

	// ErrQueueFull is returned by Enqueue when a direction is at its depth
	// limit and no best-effort message can be evicted.
	ErrQueueFull = errors.New("forward queue full")

	// ErrBackpressure is returned by Enqueue for a best-effort message that
	// finds its direction full of essential traffic. Best-effort messages
	// aged out by Tick are counted under the same cause but not reported.
	ErrBackpressure = errors.New("best-effort message dropped under backpressure")
)

// SinkError reports a failed write towards one direction. The bridge
// treats it as the loss of that direction's link.
type SinkError struct {
	Direction Direction
	Err       error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("forward %s: %v", e.Direction, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
