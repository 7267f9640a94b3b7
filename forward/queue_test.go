package forward_test

import (
	"testing"
	"time"

	"i4.energy/across/satbridge/forward"
)

func msg(id byte, prio forward.Priority, at time.Time) forward.Message {
	return forward.Message{Data: []byte{id}, Priority: prio, EnqueuedAt: at}
}

func TestQueue(t *testing.T) {
	t.Run("Essential before best-effort, FIFO within class", func(t *testing.T) {
		q := forward.NewQueue()
		q.Push(msg(1, forward.BestEffort, t0))
		q.Push(msg(2, forward.Essential, t0))
		q.Push(msg(3, forward.BestEffort, t0))
		q.Push(msg(4, forward.Essential, t0))

		var order []byte
		for {
			m, ok := q.Pop()
			if !ok {
				break
			}
			order = append(order, m.Data[0])
		}
		want := []byte{2, 4, 1, 3}
		if string(order) != string(want) {
			t.Errorf("order = %v, want %v", order, want)
		}
	})

	t.Run("DropStale only ages best-effort", func(t *testing.T) {
		q := forward.NewQueue()
		q.Push(msg(1, forward.Essential, t0))
		q.Push(msg(2, forward.BestEffort, t0))
		q.Push(msg(3, forward.BestEffort, t0.Add(3*time.Second)))

		if n := q.DropStale(t0.Add(5*time.Second), 5*time.Second); n != 0 {
			t.Errorf("dropped %d messages at exactly the residency limit", n)
		}
		if n := q.DropStale(t0.Add(6*time.Second), 5*time.Second); n != 1 {
			t.Errorf("expected 1 stale message, got %d", n)
		}
		if q.LenEssential() != 1 || q.LenBestEffort() != 1 {
			t.Errorf("unexpected lengths %d/%d", q.LenEssential(), q.LenBestEffort())
		}
		if n := q.DropStale(t0.Add(time.Hour), 5*time.Second); n != 1 || q.LenEssential() != 1 {
			t.Errorf("essential messages never go stale, dropped %d", n)
		}
	})

	t.Run("Flush", func(t *testing.T) {
		q := forward.NewQueue()
		q.Push(msg(1, forward.Essential, t0))
		q.Push(msg(2, forward.BestEffort, t0))
		if n := q.Flush(); n != 2 || q.Len() != 0 {
			t.Errorf("flush returned %d, %d left", n, q.Len())
		}
	})
}
