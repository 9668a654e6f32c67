package balancer

import (
	"net/http"
	"strings"
)

// StickyRoute extracts the route of the session carried by r: the sticky
// cookie first, then the sticky path parameter. Session values have the
// form "<session>.<route>"; a value without a dot carries no route.
func (b *Balancer) StickyRoute(r *http.Request) string {
	bs, err := b.Status()
	if err != nil {
		return ""
	}

	if bs.Sticky != "" {
		if c, err := r.Cookie(bs.Sticky); err == nil {
			if route := RouteOf(c.Value); route != "" {
				return route
			}
		}
	}

	name := bs.StickyPath
	if name == "" {
		name = bs.Sticky
	}
	if name == "" {
		return ""
	}
	if bs.SColonSep {
		return RouteOf(pathParam(r.URL.Path, name))
	}
	return RouteOf(r.URL.Query().Get(name))
}

// RouteOf returns the route part of a session value.
func RouteOf(value string) string {
	_, route, ok := strings.Cut(value, ".")
	if !ok {
		return ""
	}
	return route
}

// pathParam finds ";name=value" in path.
func pathParam(path, name string) string {
	for seg := range strings.SplitSeq(path, ";") {
		k, v, ok := strings.Cut(seg, "=")
		if ok && k == name {
			if i := strings.IndexAny(v, "/?"); i >= 0 {
				v = v[:i]
			}
			return v
		}
	}
	return ""
}
