package proxy

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names the lifecycle step a request failed in.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageAcquire Stage = "acquire"
	StageConnect Stage = "connect"
	StageForward Stage = "forward"
)

// ErrForward wraps failures reported by the protocol layer.
var ErrForward = errors.New("forwarding to backend failed")

// Error is returned by the controller. It names the worker and balancer
// involved and the worker's status letters at the time of failure.
type Error struct {
	Stage        Stage
	Worker       string
	Balancer     string
	WorkerStatus string
	Attempts     int
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "proxy %s", e.Stage)
	if e.Balancer != "" {
		fmt.Fprintf(&b, " balancer=%s", e.Balancer)
	}
	if e.Worker != "" {
		fmt.Fprintf(&b, " worker=%s", e.Worker)
	}
	if e.WorkerStatus != "" {
		fmt.Fprintf(&b, " status=%s", e.WorkerStatus)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " attempts=%d", e.Attempts)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }
