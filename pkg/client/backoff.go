package client

import "time"

// Backoff yields the geometrically growing reconnect delays. It is a
// plain value type so the reconnect schedule can be inspected and
// tested without a live socket.
type Backoff struct {
	floor   time.Duration
	ceil    time.Duration
	factor  float64
	next    time.Duration
	attempt int
}

func NewBackoff(floor, ceil time.Duration) *Backoff {
	return &Backoff{
		floor:  floor,
		ceil:   ceil,
		factor: 1.5,
		next:   floor,
	}
}

// Next returns the delay to wait before the upcoming attempt and
// advances the schedule.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.attempt++

	grown := time.Duration(float64(b.next) * b.factor)
	if grown > b.ceil {
		grown = b.ceil
	}
	b.next = grown

	return d
}

// Reset rewinds the schedule to the floor delay, called on a successful
// connection.
func (b *Backoff) Reset() {
	b.next = b.floor
	b.attempt = 0
}

// Attempts is the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int { return b.attempt }
