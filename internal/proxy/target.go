package proxy

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

// BalancerScheme prefixes URLs that address a balancer by name.
const BalancerScheme = "balancer"

var defaultPorts = map[string]int{
	"http":  80,
	"https": 443,
	"ws":    80,
	"wss":   443,
	"ajp":   8009,
}

// DefaultPort returns the well-known port of scheme, or zero.
func DefaultPort(scheme string) int {
	return defaultPorts[strings.ToLower(scheme)]
}

// Target is where a request was routed. Balancer is nil for standalone
// workers.
type Target struct {
	Worker   *worker.Worker
	Balancer *balancer.Balancer
}

func (t Target) balancerName() string {
	if t.Balancer == nil {
		return ""
	}
	return t.Balancer.Name()
}

// ParseWorkerURL splits a worker URL into scheme, host and port, applying
// the scheme's default port when none is given.
func ParseWorkerURL(raw string) (scheme, host string, port int, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", 0, err
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", "", 0, fmt.Errorf("url %q needs a scheme and host", raw)
	}

	scheme = strings.ToLower(u.Scheme)
	host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return "", "", 0, fmt.Errorf("url %q has an invalid port", raw)
		}
	} else if port = DefaultPort(scheme); port == 0 {
		return "", "", 0, fmt.Errorf("url %q has no port and scheme %q has no default", raw, scheme)
	}
	return scheme, host, port, nil
}
