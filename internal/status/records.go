package status

import (
	"errors"
	"fmt"
	"time"
)

// Field capacities of the shared records. Values that do not fit are
// rejected rather than truncated.
const (
	MaxNameSize     = 96
	MaxSchemeSize   = 16
	MaxHostnameSize = 64
	MaxRouteSize    = 64
	MaxStickySize   = 64
	MaxMethodSize   = 16
	nonceSize       = 40
)

// DefaultRetry is the interval a worker stays in error before it is tried
// again.
const DefaultRetry = 60 * time.Second

// ErrFieldTooLong is returned when a string does not fit its record field.
var ErrFieldTooLong = errors.New("status: field too long")

// WorkerStatus is the shared part of a worker.
type WorkerStatus struct {
	Name     string
	Scheme   string
	Hostname string
	Route    string
	Redirect string
	Balancer string
	Port     int

	Index    int
	Hash     Hashes
	Status   State
	LBSet    int
	LBFactor int
	LBStatus int64
	Retries  int

	Min  int
	SMax int
	HMax int

	TTL         time.Duration
	Retry       time.Duration
	Timeout     time.Duration
	ConnTimeout time.Duration
	Acquire     time.Duration
	PingTimeout time.Duration

	Elected     uint64
	Busy        uint64
	Transferred int64
	Read        int64

	Updated   time.Time
	ErrorTime time.Time

	KeepAlive    bool
	DisableReuse bool
}

// Key returns the worker's identity key.
func (w *WorkerStatus) Key() string {
	return WorkerKey(w.Scheme, w.Hostname, w.Port, w.Route)
}

func (w *WorkerStatus) walk(v visitor) {
	v.str(&w.Name, MaxNameSize)
	v.str(&w.Scheme, MaxSchemeSize)
	v.str(&w.Hostname, MaxHostnameSize)
	v.str(&w.Route, MaxRouteSize)
	v.str(&w.Redirect, MaxRouteSize)
	v.str(&w.Balancer, MaxNameSize)
	v.u16(&w.Port)
	v.i32(&w.Index)
	v.u32(&w.Hash.Def)
	v.u32(&w.Hash.FNV)
	status := uint32(w.Status)
	v.u32(&status)
	w.Status = State(status)
	v.i32(&w.LBSet)
	v.i32(&w.LBFactor)
	v.i64(&w.LBStatus)
	v.i32(&w.Retries)
	v.i32(&w.Min)
	v.i32(&w.SMax)
	v.i32(&w.HMax)
	v.dur(&w.TTL)
	v.dur(&w.Retry)
	v.dur(&w.Timeout)
	v.dur(&w.ConnTimeout)
	v.dur(&w.Acquire)
	v.dur(&w.PingTimeout)
	v.u64(&w.Elected)
	v.u64(&w.Busy)
	v.i64(&w.Transferred)
	v.i64(&w.Read)
	v.ts(&w.Updated)
	v.ts(&w.ErrorTime)
	v.flags(&w.KeepAlive, &w.DisableReuse)
}

// Validate checks that every string fits its field.
func (w *WorkerStatus) Validate() error {
	return checkLengths(
		field{"name", w.Name, MaxNameSize},
		field{"scheme", w.Scheme, MaxSchemeSize},
		field{"hostname", w.Hostname, MaxHostnameSize},
		field{"route", w.Route, MaxRouteSize},
		field{"redirect", w.Redirect, MaxRouteSize},
		field{"balancer", w.Balancer, MaxNameSize},
	)
}

// BalancerStatus is the shared part of a balancer.
type BalancerStatus struct {
	Name       string
	StickyPath string
	Sticky     string
	Method     string
	Nonce      string
	VHost      string
	VPath      string

	Index       int
	Hash        Hashes
	MaxAttempts int
	MaxWorkers  int

	Timeout  time.Duration
	Updated  time.Time
	WUpdated time.Time
	// Aged is when any process last ran the method's age pass.
	Aged time.Time

	StickyForce    bool
	SColonSep      bool
	MaxAttemptsSet bool
	NeedReset      bool
	VHosted        bool
	Inactive       bool
	ForceRecovery  bool
}

func (b *BalancerStatus) walk(v visitor) {
	v.str(&b.Name, MaxNameSize)
	v.str(&b.StickyPath, MaxStickySize)
	v.str(&b.Sticky, MaxStickySize)
	v.str(&b.Method, MaxMethodSize)
	v.str(&b.Nonce, nonceSize)
	v.str(&b.VHost, MaxHostnameSize)
	v.str(&b.VPath, MaxRouteSize)
	v.i32(&b.Index)
	v.u32(&b.Hash.Def)
	v.u32(&b.Hash.FNV)
	v.i32(&b.MaxAttempts)
	v.i32(&b.MaxWorkers)
	v.dur(&b.Timeout)
	v.ts(&b.Updated)
	v.ts(&b.WUpdated)
	v.ts(&b.Aged)
	v.flags(&b.StickyForce, &b.SColonSep, &b.MaxAttemptsSet, &b.NeedReset,
		&b.VHosted, &b.Inactive, &b.ForceRecovery)
}

// Validate checks that every string fits its field.
func (b *BalancerStatus) Validate() error {
	return checkLengths(
		field{"name", b.Name, MaxNameSize},
		field{"stickysession path", b.StickyPath, MaxStickySize},
		field{"stickysession", b.Sticky, MaxStickySize},
		field{"lbmethod", b.Method, MaxMethodSize},
		field{"nonce", b.Nonce, nonceSize},
		field{"vhost", b.VHost, MaxHostnameSize},
		field{"vpath", b.VPath, MaxRouteSize},
	)
}

var (
	workerRecordSize   = recordSize(func(v visitor) { (&WorkerStatus{}).walk(v) })
	balancerRecordSize = recordSize(func(v visitor) { (&BalancerStatus{}).walk(v) })
)

// WorkerRecordSize is the encoded size of a WorkerStatus.
func WorkerRecordSize() int { return workerRecordSize }

// BalancerRecordSize is the encoded size of a BalancerStatus.
func BalancerRecordSize() int { return balancerRecordSize }

func recordSize(walk func(visitor)) int {
	s := &sizer{}
	walk(s)
	return s.n
}

func encodeWorker(w *WorkerStatus, b []byte) {
	w.walk(&encoder{b: b})
}

func decodeWorker(b []byte) WorkerStatus {
	var w WorkerStatus
	w.walk(&decoder{b: b})
	return w
}

func encodeBalancer(bs *BalancerStatus, b []byte) {
	bs.walk(&encoder{b: b})
}

func decodeBalancer(b []byte) BalancerStatus {
	var bs BalancerStatus
	bs.walk(&decoder{b: b})
	return bs
}

type field struct {
	name  string
	value string
	max   int
}

func checkLengths(fields ...field) error {
	for _, f := range fields {
		if len(f.value) > f.max {
			return fmt.Errorf("%w: %s %q exceeds %d bytes", ErrFieldTooLong, f.name, f.value, f.max)
		}
	}
	return nil
}
