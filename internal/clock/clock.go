// Package clock abstracts wall-clock reads and waits so retry windows, idle
// expiry and acquire timeouts can be driven by a fake clock in tests. The interface is a subset
// of github.com/jonboulle/clockwork.Clock, so a clockwork fake satisfies it
// directly.
package clock

import "time"

type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
