package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/connpool"
	"github.com/angeloszaimis/proxypool/internal/proxy"
)

// Route sends requests whose path starts with Prefix to Target, a
// balancer://name or scheme://host:port URL. The prefix is replaced by the
// target's path.
type Route struct {
	Prefix string
	Target string
}

type ProxyHandler struct {
	logger *slog.Logger
	ctrl   *proxy.Controller
	routes []Route
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

// NewProxyHandler returns a handler for routes. Longer prefixes win.
func NewProxyHandler(logger *slog.Logger, ctrl *proxy.Controller, routes []Route) *ProxyHandler {
	sorted := slices.Clone(routes)
	slices.SortStableFunc(sorted, func(a, b Route) int { return len(b.Prefix) - len(a.Prefix) })
	return &ProxyHandler{
		logger: logger.With(slog.String("component", "handler")),
		ctrl:   ctrl,
		routes: sorted,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)

	h.logger.Debug("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host))

	route, ok := h.match(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	target, path := rewrite(route, r.URL)

	req := &balancer.Request{Key: clientIP}
	if u, err := url.Parse(route.Target); err == nil && u.Scheme == proxy.BalancerScheme {
		if b, ok := h.ctrl.Balancer(u.Host); ok {
			req.Route = b.StickyRoute(r)
		}
	}

	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	res, err := h.ctrl.Do(r.Context(), target, req, forwarder(wrapped, r, path))
	if err != nil {
		h.fail(wrapped, r, clientIP, err)
		return
	}

	h.logger.Debug("Request completed",
		slog.String("client", clientIP),
		slog.String("worker", res.Worker),
		slog.String("balancer", res.Balancer),
		slog.Int("status", res.StatusCode),
		slog.Int("attempts", res.Attempts),
		slog.Duration("duration", res.Duration))
}

func (h *ProxyHandler) fail(w *statusRecorder, r *http.Request, clientIP string, err error) {
	code := errorStatus(err)
	h.logger.Warn("Request failed",
		slog.String("client", clientIP),
		slog.String("path", r.URL.Path),
		slog.Int("status", code),
		slog.Any("error", err))

	if w.wroteHeader {
		// The response is already on its way; the client sees a truncated body.
		return
	}
	http.Error(w, http.StatusText(code), code)
}

// errorStatus maps controller errors to the status sent to the client.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, balancer.ErrNoBackend),
		errors.Is(err, connpool.ErrPoolExhausted),
		errors.Is(err, connpool.ErrAcquireTimeout),
		errors.Is(err, connpool.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (h *ProxyHandler) match(path string) (Route, bool) {
	for _, rt := range h.routes {
		if path == rt.Prefix || strings.HasPrefix(path, strings.TrimSuffix(rt.Prefix, "/")+"/") || rt.Prefix == "/" {
			return rt, true
		}
	}
	return Route{}, false
}

// rewrite returns the target URL for u under rt and the request URI sent to
// the backend.
func rewrite(rt Route, u *url.URL) (string, string) {
	rest := strings.TrimPrefix(u.Path, strings.TrimSuffix(rt.Prefix, "/"))
	base := strings.TrimSuffix(rt.Target, "/")

	path := "/" + strings.TrimPrefix(rest, "/")
	if tu, err := url.Parse(base); err == nil && tu.Scheme != proxy.BalancerScheme {
		path = strings.TrimSuffix(tu.Path, "/") + path
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return base + "/" + strings.TrimPrefix(rest, "/"), path
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.statusCode = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}
