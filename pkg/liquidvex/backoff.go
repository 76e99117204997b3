package liquidvex

import "time"

// DefaultReconnectDelay is the fixed wait between reconnect attempts.
const DefaultReconnectDelay = 3 * time.Second

// BackoffPolicy returns how long to wait before reconnect attempt n
// (starting at 0).
type BackoffPolicy interface {
	Next(attempt int) time.Duration
}

// FixedBackoff waits the same interval before every attempt.
type FixedBackoff time.Duration

func (f FixedBackoff) Next(int) time.Duration {
	if f <= 0 {
		return DefaultReconnectDelay
	}
	return time.Duration(f)
}

// ExponentialBackoff doubles Base per attempt, capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (e ExponentialBackoff) Next(attempt int) time.Duration {
	base, max := e.Base, e.Max
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	if attempt < 0 {
		return base
	}
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<attempt)
	if d > max || d <= 0 {
		return max
	}
	return d
}
