package balancer

import (
	"time"

	"github.com/angeloszaimis/proxypool/internal/worker"
)

// Method is a pluggable election algorithm. Implementations keep their
// state in the workers' shared records so that every process sharing the
// store contributes to the same schedule.
type Method interface {
	Name() string
	// Select elects one worker for req, or returns an error wrapping
	// ErrNoBackend.
	Select(b *Balancer, req *Request) (*worker.Worker, error)
	// Reset clears scheduling state.
	Reset(b *Balancer) error
	// Age decays scheduling state; called periodically.
	Age(b *Balancer) error
	// UpdateStatus is called once per elected request with its outcome.
	UpdateStatus(b *Balancer, w *worker.Worker, out Outcome) error
}

// MethodResolver returns the method registered under name.
type MethodResolver func(name string) (Method, error)

// Request is the part of an inbound request election depends on.
type Request struct {
	// Route is the sticky route carried by the request, if any.
	Route string
	// Key fingerprints the request for methods that hash on it.
	Key string

	exclude map[int]struct{}
}

// Exclude removes w from further elections for this request.
func (r *Request) Exclude(w *worker.Worker) {
	if r.exclude == nil {
		r.exclude = make(map[int]struct{})
	}
	r.exclude[w.Slot()] = struct{}{}
}

// Excluded reports whether w was excluded.
func (r *Request) Excluded(w *worker.Worker) bool {
	if r == nil {
		return false
	}
	_, ok := r.exclude[w.Slot()]
	return ok
}

// Outcome describes how an elected request ended.
type Outcome struct {
	Err        error
	StatusCode int
	Sent       int64
	Received   int64
	Duration   time.Duration
}

// Failed reports whether the request did not complete.
func (o Outcome) Failed() bool { return o.Err != nil }
