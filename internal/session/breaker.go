package session

import "time"

// Default send breaker parameters.
const (
	defaultSendFailures = 5
	defaultSendCooldown = 2 * time.Second
)

// sendBreaker stops calling Peer.Send after consecutive failures. While open,
// frames are dropped without touching the peer. Once the cooldown has passed
// one probe frame is let through: success closes the breaker, failure starts
// a new cooldown.
//
// It is owned by the send loop and needs no locking.
type sendBreaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	failures int
	open     bool
	openedAt time.Time
}

func newSendBreaker(maxFailures int, cooldown time.Duration) *sendBreaker {
	return &sendBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// allow reports whether the next frame may be sent.
func (b *sendBreaker) allow() bool {
	return !b.open || b.now().Sub(b.openedAt) >= b.cooldown
}

// failure records a failed send and reports whether the breaker just opened.
// A failed probe restarts the cooldown without reporting.
func (b *sendBreaker) failure() (opened bool) {
	if b.open {
		b.openedAt = b.now()
		return false
	}
	b.failures++
	if b.failures < b.maxFailures {
		return false
	}
	b.open = true
	b.openedAt = b.now()
	return true
}

// success records a delivered frame and reports whether the breaker just
// closed.
func (b *sendBreaker) success() (closed bool) {
	b.failures = 0
	if !b.open {
		return false
	}
	b.open = false
	return true
}
