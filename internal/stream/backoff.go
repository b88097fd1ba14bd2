package stream

import "time"

const (
	defaultBackoffBase    = 2 * time.Second
	defaultBackoffCeiling = 60 * time.Second
)

// Backoff is the reconnect delay state machine shared by the streaming
// clients. Delays double from base up to ceiling, with no jitter. Not safe
// for concurrent use; each connection loop owns its own instance.
type Backoff struct {
	base    time.Duration
	ceiling time.Duration
	attempt int
	next    time.Duration
}

// NewBackoff creates a backoff machine. Non-positive arguments fall back to
// the defaults (2s base, 60s ceiling).
func NewBackoff(base, ceiling time.Duration) *Backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if ceiling <= 0 {
		ceiling = defaultBackoffCeiling
	}
	b := &Backoff{base: base, ceiling: ceiling}
	b.Reset()
	return b
}

// Next returns the delay to wait before the next attempt and advances the
// machine.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.attempt++
	b.next *= 2
	if b.next > b.ceiling {
		b.next = b.ceiling
	}
	return d
}

// Attempt returns how many delays have been handed out since the last reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset returns the machine to its initial state. Called after a connection
// is established so the next failure starts from the base delay again.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.next = b.base
}
