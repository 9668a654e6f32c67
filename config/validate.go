package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/angeloszaimis/proxypool/internal/lbmethod"
	"github.com/angeloszaimis/proxypool/internal/proxy"
	"github.com/angeloszaimis/proxypool/internal/status"
)

func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Logging),
		validation.Field(&c.Store),
		validation.Field(&c.Maintenance),
		validation.Field(&c.Workers),
		validation.Field(&c.Balancers),
		validation.Field(&c.Routes),
	)
	if err != nil {
		return err
	}

	return c.validateReferences()
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&s.Address,
			validation.Required,
			validation.By(validateHostPort),
		),
		validation.Field(&s.AdminAddress,
			validation.By(validateHostPort),
		),
		validation.Field(&s.ShutdownTimeout, validation.Min(0)),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Growth, validation.Min(0)),
		validation.Field(&s.BGrowth, validation.Min(0)),
	)
}

func (m MaintenanceConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Interval, validation.Required, validation.Min(0)),
	)
}

func (w WorkerConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.Name, validation.Required, validation.Length(1, status.MaxNameSize)),
		validation.Field(&w.URL, validation.Required, validation.By(validateWorkerURL)),
		validation.Field(&w.Route, validation.Length(0, status.MaxRouteSize)),
		validation.Field(&w.Redirect, validation.Length(0, status.MaxRouteSize)),
		validation.Field(&w.LBFactor, validation.Min(0), validation.Max(100)),
		validation.Field(&w.LBSet, validation.Min(0), validation.Max(99)),
		validation.Field(&w.Min, validation.Min(0)),
		validation.Field(&w.SMax, validation.Min(0)),
		validation.Field(&w.TTL, validation.Min(0)),
		validation.Field(&w.Retry, validation.Min(0)),
		validation.Field(&w.Timeout, validation.Min(0)),
		validation.Field(&w.ConnectTimeout, validation.Min(0)),
		validation.Field(&w.Acquire, validation.Min(0)),
		validation.Field(&w.Ping, validation.Min(0)),
		validation.Field(&w.Status, validation.By(validateStatus)),
		validation.Field(&w.HMax, validation.Min(0), validation.By(func(any) error {
			hmax := w.HMax
			if hmax == 0 {
				hmax = DefaultHMax
			}
			if w.Min > hmax {
				return validation.NewError("validation_min_above_hmax", "min must not exceed hmax")
			}
			if w.SMax > hmax {
				return validation.NewError("validation_smax_above_hmax", "smax must not exceed hmax")
			}
			return nil
		})),
	)
}

func (b BalancerConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Name, validation.Required, validation.Length(1, status.MaxNameSize)),
		validation.Field(&b.Method, validation.In(methodNames()...)),
		validation.Field(&b.Sticky, validation.Length(0, status.MaxStickySize)),
		validation.Field(&b.StickyPath, validation.Length(0, status.MaxStickySize)),
		validation.Field(&b.MaxAttempts, validation.Min(0)),
		validation.Field(&b.Timeout, validation.Min(0)),
		validation.Field(&b.Growth, validation.Min(0)),
		validation.Field(&b.ErrorStatuses, validation.Each(validation.Min(100), validation.Max(599))),
		validation.Field(&b.Members),
	)
}

func (r RouteConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Prefix,
			validation.Required,
			validation.By(func(value any) error {
				if p, _ := value.(string); !strings.HasPrefix(p, "/") {
					return validation.NewError("validation_invalid_prefix", "must start with /")
				}
				return nil
			}),
		),
		validation.Field(&r.Target, validation.Required, validation.By(validateTarget)),
	)
}

// validateReferences checks what single sections cannot: unique names and
// endpoints and route targets that exist.
func (c *Config) validateReferences() error {
	errs := validation.Errors{}

	balancers := make(map[string]bool, len(c.Balancers))
	for i, b := range c.Balancers {
		if balancers[b.Name] {
			errs[fmt.Sprintf("balancers.%d.name", i)] = validation.NewError("validation_duplicate", "duplicate balancer name")
		}
		balancers[b.Name] = true

		names := make(map[string]bool, len(b.Members))
		endpoints := make(map[string]bool, len(b.Members))
		for j, m := range b.Members {
			key := endpointKey(m)
			if names[m.Name] || endpoints[key] {
				errs[fmt.Sprintf("balancers.%d.members.%d", i, j)] = validation.NewError("validation_duplicate", "duplicate member name or endpoint")
			}
			names[m.Name], endpoints[key] = true, true
		}
	}

	workers := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		key := endpointKey(w)
		if workers[key] {
			errs[fmt.Sprintf("workers.%d", i)] = validation.NewError("validation_duplicate", "duplicate worker endpoint")
		}
		workers[key] = true
	}

	for i, r := range c.Routes {
		u, err := url.Parse(r.Target)
		if err != nil {
			continue
		}
		if u.Scheme == proxy.BalancerScheme {
			if !balancers[u.Host] {
				errs[fmt.Sprintf("routes.%d.target", i)] = validation.NewError("validation_unknown_balancer", "unknown balancer")
			}
			continue
		}
		scheme, host, port, err := proxy.ParseWorkerURL(r.Target)
		if err != nil || !workers[status.WorkerKey(scheme, host, port, "")] {
			errs[fmt.Sprintf("routes.%d.target", i)] = validation.NewError("validation_unknown_worker", "no worker defined for target")
		}
	}

	return errs.Filter()
}

func endpointKey(w WorkerConfig) string {
	scheme, host, port, err := proxy.ParseWorkerURL(w.URL)
	if err != nil {
		return w.URL
	}
	return status.WorkerKey(scheme, host, port, w.Route)
}

func methodNames() []any {
	names := lbmethod.Names()
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateWorkerURL(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	scheme, host, _, err := proxy.ParseWorkerURL(raw)
	if err != nil {
		return validation.NewError("validation_invalid_url", err.Error())
	}

	if scheme == proxy.BalancerScheme {
		return validation.NewError("validation_invalid_scheme", "worker URL cannot address a balancer")
	}

	if len(scheme) > status.MaxSchemeSize || len(host) > status.MaxHostnameSize {
		return validation.NewError("validation_too_long", "scheme or host too long")
	}

	return nil
}

func validateTarget(value interface{}) error {
	raw, _ := value.(string)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return validation.NewError("validation_invalid_url", "must be a balancer:// or worker URL")
	}
	return nil
}

func validateStatus(value interface{}) error {
	expr, _ := value.(string)
	if _, err := status.State(0).Apply(expr); err != nil {
		return validation.NewError("validation_invalid_status", err.Error())
	}
	return nil
}
