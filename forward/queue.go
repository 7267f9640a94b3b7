package forward

import (
	"fmt"
	"time"
)

// Direction is the way a message travels through the bridge.
type Direction int

const (
	ToModem Direction = iota
	ToAutopilot
)

// Directions lists every direction in service order.
var Directions = [...]Direction{ToModem, ToAutopilot}

func (d Direction) String() string {
	switch d {
	case ToModem:
		return "to-modem"
	case ToAutopilot:
		return "to-autopilot"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Priority is the scheduling class of a message.
type Priority int

const (
	BestEffort Priority = iota
	Essential
)

func (p Priority) String() string {
	switch p {
	case BestEffort:
		return "best-effort"
	case Essential:
		return "essential"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Message is one queued unit of traffic. It is never modified once queued.
type Message struct {
	Data       []byte
	Priority   Priority
	EnqueuedAt time.Time
}

// Bits is the cost of the message in tokens.
func (m Message) Bits() int64 {
	return int64(len(m.Data)) * 8
}

// fifo is a first-in first-out list of messages.
type fifo struct {
	items []Message
}

func (f *fifo) push(m Message) {
	f.items = append(f.items, m)
}

func (f *fifo) peek() (Message, bool) {
	if len(f.items) == 0 {
		return Message{}, false
	}
	return f.items[0], true
}

func (f *fifo) pop() (Message, bool) {
	if len(f.items) == 0 {
		return Message{}, false
	}
	m := f.items[0]
	f.items[0] = Message{}
	f.items = f.items[1:]
	if len(f.items) == 0 {
		f.items = nil
	}
	return m, true
}

func (f *fifo) len() int {
	return len(f.items)
}

// Queue holds the pending messages of one direction. Essential messages
// always leave before best-effort ones, each class is FIFO.
type Queue struct {
	essential  fifo
	bestEffort fifo
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(m Message) {
	if m.Priority == Essential {
		q.essential.push(m)
		return
	}
	q.bestEffort.push(m)
}

func (q *Queue) PeekEssential() (Message, bool) {
	return q.essential.peek()
}

func (q *Queue) PopEssential() (Message, bool) {
	return q.essential.pop()
}

func (q *Queue) PeekBestEffort() (Message, bool) {
	return q.bestEffort.peek()
}

func (q *Queue) PopBestEffort() (Message, bool) {
	return q.bestEffort.pop()
}

// Pop removes the next message in service order.
func (q *Queue) Pop() (Message, bool) {
	if m, ok := q.essential.pop(); ok {
		return m, true
	}
	return q.bestEffort.pop()
}

func (q *Queue) Len() int {
	return q.essential.len() + q.bestEffort.len()
}

func (q *Queue) LenEssential() int {
	return q.essential.len()
}

func (q *Queue) LenBestEffort() int {
	return q.bestEffort.len()
}

// DropStale removes best-effort messages queued for longer than
// maxResidency and returns how many were dropped. Essential messages
// never go stale. A non-positive maxResidency disables ageing.
func (q *Queue) DropStale(now time.Time, maxResidency time.Duration) int {
	if maxResidency <= 0 {
		return 0
	}
	dropped := 0
	for {
		m, ok := q.bestEffort.peek()
		if !ok || now.Sub(m.EnqueuedAt) <= maxResidency {
			return dropped
		}
		q.bestEffort.pop()
		dropped++
	}
}

// DropOversize removes messages of either class costing more than
// maxBits and returns how many were dropped.
func (q *Queue) DropOversize(maxBits int64) int {
	return q.essential.dropOver(maxBits) + q.bestEffort.dropOver(maxBits)
}

func (f *fifo) dropOver(maxBits int64) int {
	kept := f.items[:0]
	for _, m := range f.items {
		if m.Bits() <= maxBits {
			kept = append(kept, m)
		}
	}
	dropped := len(f.items) - len(kept)
	clear(f.items[len(kept):])
	f.items = kept
	if len(f.items) == 0 {
		f.items = nil
	}
	return dropped
}

// DropOldestBestEffort evicts the head of the best-effort class.
func (q *Queue) DropOldestBestEffort() bool {
	_, ok := q.bestEffort.pop()
	return ok
}

// Flush empties the queue and returns how many messages were discarded.
func (q *Queue) Flush() int {
	n := q.Len()
	q.essential = fifo{}
	q.bestEffort = fifo{}
	return n
}
