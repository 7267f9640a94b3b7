package forward

import (
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Sink delivers one message towards a direction. A nil Sink means the
// direction is not ready and its messages stay queued.
type Sink func(p []byte) error

// Sinks holds one Sink per Direction.
type Sinks [len(Directions)]Sink

// Config holds the forwarder settings. Zero values select the defaults.
type Config struct {
	// RateBps is the combined bit rate of both directions.
	RateBps int64
	// BurstBits is the bucket capacity. Defaults to one second at RateBps.
	BurstBits int64
	// MaxResidency is how long a best-effort message may wait.
	MaxResidency time.Duration
	// MaxQueueDepth bounds the messages queued per direction.
	MaxQueueDepth int
	Logger        *slog.Logger
}

const (
	DefaultRateBps       = 2400
	DefaultMaxResidency  = 5 * time.Second
	DefaultMaxQueueDepth = 1024
)

func (c *Config) setDefaults() {
	if c.RateBps <= 0 {
		c.RateBps = DefaultRateBps
	}
	if c.BurstBits <= 0 {
		c.BurstBits = c.RateBps
	}
	if c.MaxResidency == 0 {
		c.MaxResidency = DefaultMaxResidency
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// DirectionStats are cumulative counters of one direction.
type DirectionStats struct {
	Forwarded           int
	ForwardedBytes      int64
	EssentialForwarded  int
	BestEffortForwarded int
	BackpressureDrops   int
	LinkLossDrops       int
	Rejected            int // oversize or queue full at Enqueue, oversize after Update
	Queued              int
}

// Stats is a snapshot of the forwarder.
type Stats struct {
	Directions [len(Directions)]DirectionStats
	Tokens     int64
	Capacity   int64
}

// Forwarder schedules the traffic of both directions through one token
// bucket. Essential messages go first, best-effort messages use what is
// left and age out when they wait too long. All methods must be called
// from the single scheduling loop.
type Forwarder struct {
	config Config
	bucket *TokenBucket
	queues [len(Directions)]*Queue
	stats  [len(Directions)]DirectionStats
	logger *slog.Logger
}

func New(config Config) *Forwarder {
	config.setDefaults()
	f := &Forwarder{
		config: config,
		bucket: NewTokenBucket(config.RateBps, config.BurstBits),
		logger: config.Logger.With("component", "forward"),
	}
	for _, d := range Directions {
		f.queues[d] = NewQueue()
	}
	return f
}

// Update applies new settings. Queued messages are kept unless they no
// longer fit a smaller bucket, those are dropped and counted as rejected.
// Tokens above a smaller capacity are discarded.
func (f *Forwarder) Update(config Config) {
	config.setDefaults()
	f.config = config
	f.logger = config.Logger.With("component", "forward")
	f.bucket.SetRate(config.RateBps, config.BurstBits)

	for _, d := range Directions {
		if n := f.queues[d].DropOversize(f.bucket.Capacity()); n > 0 {
			f.stats[d].Rejected += n
			f.logger.Warn("dropped queued messages larger than the new bucket", "direction", d.String(), "count", n)
		}
	}
}

// Enqueue queues data for dir. The data is not copied and must not be
// modified afterwards.
func (f *Forwarder) Enqueue(dir Direction, data []byte, prio Priority, now time.Time) error {
	m := Message{Data: data, Priority: prio, EnqueuedAt: now}
	if m.Bits() > f.bucket.Capacity() {
		f.stats[dir].Rejected++
		return ErrOversize
	}

	q := f.queues[dir]
	if q.Len() >= f.config.MaxQueueDepth {
		if !q.DropOldestBestEffort() {
			f.stats[dir].Rejected++
			if prio == BestEffort {
				f.stats[dir].BackpressureDrops++
				return ErrBackpressure
			}
			return ErrQueueFull
		}
		f.stats[dir].BackpressureDrops++
	}
	q.Push(m)
	return nil
}

// Tick refills the bucket, ages out stale best-effort messages and sends
// what the tokens allow. Directions whose sink is nil are skipped. Failed
// sink writes are returned as *SinkError values; the failed direction is
// not served again in this tick and its message stays queued.
func (f *Forwarder) Tick(now time.Time, sinks Sinks) error {
	f.bucket.Refill(now)

	for _, d := range Directions {
		if n := f.queues[d].DropStale(now, f.config.MaxResidency); n > 0 {
			f.stats[d].BackpressureDrops += n
		}
	}

	var result *multierror.Error
	fail := func(d Direction, err error) {
		sinks[d] = nil
		result = multierror.Append(result, &SinkError{Direction: d, Err: err})
	}

	// Essential traffic, oldest first across directions.
	blocked := false
	for {
		d, m, ok := f.oldest(sinks, (*Queue).PeekEssential)
		if !ok {
			break
		}
		if !f.bucket.Fits(m.Bits()) {
			blocked = true
			break
		}
		if err := sinks[d](m.Data); err != nil {
			fail(d, err)
			continue
		}
		f.bucket.Take(m.Bits())
		f.queues[d].PopEssential()
		f.count(d, m)
	}

	// Best-effort only when no essential message is left waiting on a
	// ready direction.
	if !blocked {
		for {
			d, m, ok := f.oldest(sinks, (*Queue).PeekBestEffort)
			if !ok || !f.bucket.Fits(m.Bits()) {
				break
			}
			if err := sinks[d](m.Data); err != nil {
				fail(d, err)
				continue
			}
			f.bucket.Take(m.Bits())
			f.queues[d].PopBestEffort()
			f.count(d, m)
		}
	}

	return result.ErrorOrNil()
}

// oldest returns the direction whose head, as selected by peek, was
// queued first among the ready directions.
func (f *Forwarder) oldest(sinks Sinks, peek func(*Queue) (Message, bool)) (Direction, Message, bool) {
	var (
		best  Direction
		head  Message
		found bool
	)
	for _, d := range Directions {
		if sinks[d] == nil {
			continue
		}
		m, ok := peek(f.queues[d])
		if !ok {
			continue
		}
		if !found || m.EnqueuedAt.Before(head.EnqueuedAt) {
			best, head, found = d, m, true
		}
	}
	return best, head, found
}

func (f *Forwarder) count(d Direction, m Message) {
	s := &f.stats[d]
	s.Forwarded++
	s.ForwardedBytes += int64(len(m.Data))
	if m.Priority == Essential {
		s.EssentialForwarded++
	} else {
		s.BestEffortForwarded++
	}
}

// Flush drops everything queued for dir after its link failed.
func (f *Forwarder) Flush(dir Direction) int {
	n := f.queues[dir].Flush()
	f.stats[dir].LinkLossDrops += n
	if n > 0 {
		f.logger.Debug("queue flushed after link loss", "direction", dir.String(), "dropped", n)
	}
	return n
}

// Pending returns the number of queued messages for dir.
func (f *Forwarder) Pending(dir Direction) int {
	return f.queues[dir].Len()
}

// PendingEssential returns the number of queued essential messages for dir.
func (f *Forwarder) PendingEssential(dir Direction) int {
	return f.queues[dir].LenEssential()
}

func (f *Forwarder) Stats() Stats {
	s := Stats{
		Directions: f.stats,
		Tokens:     f.bucket.Tokens(),
		Capacity:   f.bucket.Capacity(),
	}
	for _, d := range Directions {
		s.Directions[d].Queued = f.queues[d].Len()
	}
	return s
}
