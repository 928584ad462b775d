package conn

import "time"

// Backoff computes reconnect delays as min(Base * 2^attempt, Max).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// maxShift keeps Base<<attempt from overflowing time.Duration.
const maxShift = 30

// Delay returns the wait before reconnect attempt number attempt+1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		return b.Max
	}
	d := b.Base << attempt
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}
