package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/proxypool/config"
	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/lbmethod"
	"github.com/angeloszaimis/proxypool/internal/metrics"
	"github.com/angeloszaimis/proxypool/internal/proxy"
	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

type proxyApp struct {
	store *status.Store
	ctrl  *proxy.Controller
	log   *slog.Logger
}

// buildProxy opens the status store and creates every configured worker
// and balancer. Balancers are frozen afterwards so runtime growth is
// bounded by their configured growth.
func buildProxy(cfg *config.Config, log *slog.Logger, collector *metrics.Collector) (*proxyApp, error) {
	store, err := status.Open(status.Options{
		Dir:       cfg.Store.Dir,
		Workers:   cfg.WorkerSlots(),
		Balancers: cfg.BalancerSlots(),
	})
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}

	popts := proxy.Options{Logger: log}
	wopts := worker.Options{Logger: log}
	if collector != nil {
		popts.OnElect = collector.OnElect
		popts.OnFinalize = collector.OnFinalize
		wopts.OnStateChange = collector.OnStateChange
	}

	app := &proxyApp{store: store, ctrl: proxy.New(popts), log: log}

	if err := app.addWorkers(cfg, wopts); err != nil {
		return nil, errors.Join(err, app.Close())
	}
	if err := app.addBalancers(cfg, wopts); err != nil {
		return nil, errors.Join(err, app.Close())
	}

	log.Info("Proxy configured",
		slog.Int("balancers", len(app.ctrl.Balancers())),
		slog.Int("workers", len(app.ctrl.AllWorkers())),
		slog.String("store", storeKind(cfg.Store.Dir)))
	return app, nil
}

func (a *proxyApp) addWorkers(cfg *config.Config, wopts worker.Options) error {
	for _, wc := range cfg.Workers {
		def, err := wc.Definition()
		if err != nil {
			return err
		}
		w, err := worker.New(a.store, def, 0, wopts)
		if err != nil {
			return fmt.Errorf("worker %q: %w", wc.Name, err)
		}
		if err := a.ctrl.AddWorker(w); err != nil {
			return errors.Join(err, w.Close())
		}
	}
	return nil
}

func (a *proxyApp) addBalancers(cfg *config.Config, wopts worker.Options) error {
	for _, bc := range cfg.Balancers {
		method, err := lbmethod.Lookup(bc.MethodName())
		if err != nil {
			return fmt.Errorf("%w: balancer %q: %w", config.ErrConfig, bc.Name, err)
		}

		b, err := balancer.New(a.store, bc.Definition(cfg.BalancerGrowth(bc)), method, balancer.Options{
			Worker:   wopts,
			Resolver: lbmethod.Lookup,
			Logger:   a.log,
		})
		if err != nil {
			return fmt.Errorf("balancer %q: %w", bc.Name, err)
		}
		if err := a.ctrl.AddBalancer(b); err != nil {
			return err
		}

		for _, mc := range bc.Members {
			def, err := mc.Definition()
			if err != nil {
				return err
			}
			if _, err := b.AddWorker(def); err != nil {
				return fmt.Errorf("balancer %q: %w", bc.Name, err)
			}
		}
		if err := b.Freeze(); err != nil {
			return fmt.Errorf("balancer %q: %w", bc.Name, err)
		}
	}
	return nil
}

// Prewarm dials every pool's minimum of idle connections.
func (a *proxyApp) Prewarm(ctx context.Context) error {
	var g errgroup.Group
	for _, w := range a.ctrl.AllWorkers() {
		g.Go(func() error {
			if err := w.Pool().Prewarm(ctx); err != nil {
				return fmt.Errorf("worker %q: %w", w.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close releases every pool and the status store.
func (a *proxyApp) Close() error {
	var errs []error
	for _, w := range a.ctrl.Workers() {
		errs = append(errs, w.Close())
	}
	for _, b := range a.ctrl.Balancers() {
		errs = append(errs, b.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func storeKind(dir string) string {
	if dir == "" {
		return "memory"
	}
	return dir
}
