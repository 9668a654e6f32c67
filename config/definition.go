package config

import (
	"fmt"

	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/lbmethod"
	"github.com/angeloszaimis/proxypool/internal/proxy"
	"github.com/angeloszaimis/proxypool/internal/status"
)

// Definition converts w into the record a worker is created from, filling
// in defaults.
func (w WorkerConfig) Definition() (status.WorkerStatus, error) {
	scheme, host, port, err := proxy.ParseWorkerURL(w.URL)
	if err != nil {
		return status.WorkerStatus{}, fmt.Errorf("%w: worker %q: %w", ErrConfig, w.Name, err)
	}
	state, err := status.State(0).Apply(w.Status)
	if err != nil {
		return status.WorkerStatus{}, fmt.Errorf("%w: worker %q: %w", ErrConfig, w.Name, err)
	}

	ws := WorkerDefaults()
	ws.Name = w.Name
	ws.Scheme = scheme
	ws.Hostname = host
	ws.Port = port
	ws.Route = w.Route
	ws.Redirect = w.Redirect
	ws.Status = state
	ws.LBSet = w.LBSet
	ws.Min = w.Min
	ws.TTL = w.TTL
	ws.Timeout = w.Timeout
	ws.ConnTimeout = w.ConnectTimeout
	ws.Acquire = w.Acquire
	ws.PingTimeout = w.Ping
	ws.KeepAlive = w.KeepAlive
	ws.DisableReuse = w.DisableReuse

	if w.LBFactor > 0 {
		ws.LBFactor = w.LBFactor
	}
	if w.HMax > 0 {
		ws.HMax = w.HMax
	}
	ws.SMax = ws.HMax
	if w.SMax > 0 {
		ws.SMax = w.SMax
	}
	if w.Retry != nil {
		ws.Retry = *w.Retry
	}
	return ws, nil
}

// WorkerDefaults returns the settings of a worker defined without any.
func WorkerDefaults() status.WorkerStatus {
	return status.WorkerStatus{
		LBFactor: DefaultLBFactor,
		HMax:     DefaultHMax,
		SMax:     DefaultHMax,
		Retry:    DefaultRetry,
	}
}

// Definition converts b into a balancer configuration.
func (b BalancerConfig) Definition(growth int) balancer.Config {
	cfg := balancer.Config{
		Name:          b.Name,
		Sticky:        b.Sticky,
		StickyPath:    b.StickyPath,
		SColonSep:     b.SColonSep,
		StickyForce:   b.StickyForce,
		ForceRecovery: b.ForceRecovery,
		Timeout:       b.Timeout,
		Growth:        growth,
		ErrorStatuses: b.ErrorStatuses,
	}
	if b.MaxAttempts != nil {
		cfg.MaxAttempts = *b.MaxAttempts
		cfg.MaxAttemptsSet = true
	}
	return cfg
}

// MethodName returns the balancer's method, or the default one.
func (b BalancerConfig) MethodName() string {
	if b.Method == "" {
		return lbmethod.DefaultMethod
	}
	return b.Method
}
