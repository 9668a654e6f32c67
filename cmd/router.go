package main

import (
	"net/http"

	"github.com/angeloszaimis/proxypool/internal/admin"
	"github.com/angeloszaimis/proxypool/internal/handler"
	"github.com/angeloszaimis/proxypool/internal/metrics"
)

// setupRouter serves proxied traffic and the administrative endpoints on
// one listener.
func setupRouter(proxyHandler *handler.ProxyHandler, manager *admin.Manager, collector *metrics.Collector, prom http.Handler) *http.ServeMux {
	mux := setupAdminRouter(manager, collector, prom)
	mux.Handle("/", proxyHandler)
	return mux
}

func setupAdminRouter(manager *admin.Manager, collector *metrics.Collector, prom http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	manager.Register(mux)
	mux.HandleFunc("GET /metrics", collector.Handler())
	mux.Handle("GET /metrics/prometheus", prom)

	return mux
}
