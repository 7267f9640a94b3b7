package forward

import "time"

// TokenBucket meters bits at a fixed rate with a bounded burst.
//
// Tokens are whole bits. The fractional bits earned between refills are
// carried in bit-nanoseconds so that many short ticks earn exactly what
// one long tick would. The bucket starts empty and its first Refill only
// records the reference time.
type TokenBucket struct {
	rate     int64 // bits per second
	capacity int64 // bits
	tokens   int64
	carry    int64 // bit-nanoseconds not yet worth a whole bit
	last     time.Time
	started  bool
}

func NewTokenBucket(rateBps, capacityBits int64) *TokenBucket {
	b := &TokenBucket{}
	b.SetRate(rateBps, capacityBits)
	return b
}

// SetRate changes rate and capacity. Tokens above the new capacity are
// discarded.
func (b *TokenBucket) SetRate(rateBps, capacityBits int64) {
	if rateBps < 0 {
		rateBps = 0
	}
	if capacityBits < 0 {
		capacityBits = 0
	}
	b.rate = rateBps
	b.capacity = capacityBits
	if b.tokens > b.capacity {
		b.tokens = b.capacity
		b.carry = 0
	}
}

// Refill adds the tokens earned since the previous refill. Time that does
// not advance, or goes backwards, earns nothing.
func (b *TokenBucket) Refill(now time.Time) {
	if !b.started {
		b.started = true
		b.last = now
		return
	}
	if !now.After(b.last) {
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	if b.rate == 0 || b.tokens >= b.capacity {
		b.carry = 0
		return
	}

	// Never earn more than it takes to fill up, which also keeps the
	// product below overflow for any realistic capacity.
	need := (b.capacity-b.tokens)*int64(time.Second) - b.carry
	if limit := need/b.rate + 1; elapsed > limit {
		elapsed = limit
	}

	earned := elapsed*b.rate + b.carry
	b.tokens += earned / int64(time.Second)
	b.carry = earned % int64(time.Second)
	if b.tokens >= b.capacity {
		b.tokens = b.capacity
		b.carry = 0
	}
}

// Fits reports whether bits could be taken now.
func (b *TokenBucket) Fits(bits int64) bool {
	return bits >= 0 && bits <= b.tokens
}

// Take removes bits if all of them are available. A message is either
// paid for in full or not at all.
func (b *TokenBucket) Take(bits int64) bool {
	if !b.Fits(bits) {
		return false
	}
	b.tokens -= bits
	return true
}

func (b *TokenBucket) Tokens() int64 {
	return b.tokens
}

func (b *TokenBucket) Capacity() int64 {
	return b.capacity
}

func (b *TokenBucket) Rate() int64 {
	return b.rate
}
