package lbmethod

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/angeloszaimis/proxypool/internal/balancer"
)

// ErrUnknownMethod is returned for names not in the registry.
var ErrUnknownMethod = errors.New("unknown balancer method")

// DefaultMethod is used when a balancer does not name one.
const DefaultMethod = "byrequests"

var (
	mu      sync.RWMutex
	methods = map[string]func() balancer.Method{
		"byrequests": func() balancer.Method { return &ByRequests{} },
		"bytraffic":  func() balancer.Method { return &ByTraffic{} },
		"bybusyness": func() balancer.Method { return &ByBusyness{} },
	}
)

// Register adds a method constructor under name, replacing any previous
// one.
func Register(name string, factory func() balancer.Method) {
	mu.Lock()
	defer mu.Unlock()
	methods[name] = factory
}

// Lookup returns a new instance of the named method. An empty name selects
// DefaultMethod.
func Lookup(name string) (balancer.Method, error) {
	if name == "" {
		name = DefaultMethod
	}
	mu.RLock()
	factory, ok := methods[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
	return factory(), nil
}

// Names lists the registered methods in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
