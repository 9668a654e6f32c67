package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/proxypool/config"
	"github.com/angeloszaimis/proxypool/internal/admin"
	"github.com/angeloszaimis/proxypool/internal/handler"
	"github.com/angeloszaimis/proxypool/internal/httpserver"
	"github.com/angeloszaimis/proxypool/internal/lbmethod"
	"github.com/angeloszaimis/proxypool/internal/maintenance"
	"github.com/angeloszaimis/proxypool/internal/metrics"
	"github.com/angeloszaimis/proxypool/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Proxy stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("Proxy stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	collector := metrics.NewCollector(1000, log)

	app, err := buildProxy(cfg, log, collector)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("Error closing proxy", slog.Any("err", err))
		}
	}()

	if err := app.Prewarm(ctx); err != nil {
		log.Warn("Could not prewarm every connection pool", slog.Any("err", err))
	}

	prom, err := metrics.PrometheusHandler(app.ctrl)
	if err != nil {
		return err
	}
	proxyHandler := handler.NewProxyHandler(log, app.ctrl, routes(cfg))
	manager := admin.NewManager(log, app.ctrl, lbmethod.Lookup, config.WorkerDefaults())

	serverOpts := httpserver.Options{ShutdownTimeout: cfg.Server.ShutdownTimeout}
	var servers []*httpserver.Server
	if cfg.Server.AdminAddress == "" {
		srv, err := httpserver.New(cfg.Server.Address, setupRouter(proxyHandler, manager, collector, prom), serverOpts)
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	} else {
		srv, err := httpserver.New(cfg.Server.Address, proxyHandler, serverOpts)
		if err != nil {
			return err
		}
		adminSrv, err := httpserver.New(cfg.Server.AdminAddress, setupAdminRouter(manager, collector, prom), serverOpts)
		if err != nil {
			return err
		}
		servers = append(servers, srv, adminSrv)
	}

	g, gctx := errgroup.WithContext(ctx)

	collector.Start(gctx)
	g.Go(func() error {
		maintenance.Run(gctx, app.ctrl, cfg.Maintenance.Interval, log)
		return nil
	})
	for _, srv := range servers {
		g.Go(func() error {
			log.Info("Listening", slog.String("address", srv.Addr()))
			if err := srv.Run(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	<-gctx.Done()
	log.Info("Shutting down gracefully...")
	return g.Wait()
}

func routes(cfg *config.Config) []handler.Route {
	out := make([]handler.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		out = append(out, handler.Route{Prefix: r.Prefix, Target: r.Target})
	}
	return out
}
