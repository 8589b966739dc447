// Package app assembles a service process from configuration and runs its
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cardtable/internal/config"
	"cardtable/internal/hub"
	"cardtable/internal/metrics"
	"cardtable/internal/registry"
	"cardtable/internal/resilience"
	"cardtable/internal/router"
	"cardtable/internal/websocket"
)

// readinessWait is how long Start waits for an immediate serve failure.
const readinessWait = 100 * time.Millisecond

// Application owns every long-lived component of one service process.
// Components that a service does not use stay nil.
type Application struct {
	config     *config.Config
	log        *logrus.Entry
	metrics    *metrics.Metrics
	httpServer *http.Server
	listener   net.Listener

	hub        *hub.Hub
	router     *router.Router
	wsRegistry *websocket.Registry
	registrar  *registry.Registrar

	// closers release stores in order during Stop.
	closers []namedCloser

	mu       sync.Mutex
	started  bool
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

func newApplication(cfg *config.Config, log *logrus.Entry, m *metrics.Metrics) *Application {
	return &Application{config: cfg, log: log, metrics: m}
}

func (app *Application) addCloser(name string, fn func(ctx context.Context) error) {
	app.closers = append(app.closers, namedCloser{name: name, close: fn})
}

// closeStores runs every closer; used both by Stop and by failed construction.
func (app *Application) closeStores(ctx context.Context) error {
	var errs []error
	for _, c := range app.closers {
		if err := c.close(ctx); err != nil {
			app.log.WithError(err).WithField("store", c.name).Error("failed to close store")
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}

func (app *Application) serve(handler http.Handler) {
	app.httpServer = &http.Server{
		Addr:         app.config.HTTP.Addr(),
		Handler:      handler,
		ReadTimeout:  app.config.HTTP.ReadTimeout.Duration,
		WriteTimeout: app.config.HTTP.WriteTimeout.Duration,
	}
}

func (app *Application) breakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: app.config.Resilience.FailureThreshold,
		RecoveryTimeout:  app.config.Resilience.RecoveryTimeout.Duration,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			app.metrics.BreakerStateChanged(name, from, to)
			app.log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	}
}

func (app *Application) invokerConfig() resilience.InvokerConfig {
	return resilience.InvokerConfig{
		Timeout:      app.config.Resilience.RequestTimeout.Duration,
		MaxRetries:   app.config.Resilience.MaxRetries,
		RetryBackoff: app.config.Resilience.RetryBackoff.Duration,
	}
}

// Start brings components up in dependency order: hub, HTTP listener,
// registry heartbeat, background maintenance.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.started {
		return ErrAlreadyStarted
	}

	if app.hub != nil {
		if err := app.hub.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event hub: %w", err)
		}
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.stopHub()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	serveErr := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		app.stopHub()
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		_ = app.httpServer.Close()
		app.stopHub()
		return ctx.Err()
	case <-time.After(readinessWait):
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	app.bgCancel = cancel

	if app.registrar != nil {
		if err := app.registrar.Start(bgCtx); err != nil {
			app.log.WithError(err).Warn("service registry heartbeat not started")
		}
	}
	if app.router != nil {
		limiter := app.router.RateLimiter()
		window := app.config.WebSocket.RateWindow.Duration
		app.bg.Add(1)
		go func() {
			defer app.bg.Done()
			limiter.RunCleanup(bgCtx, window)
		}()
	}

	app.started = true
	app.log.WithField("addr", app.Addr()).Info("service started")
	return nil
}

// Stop shuts down in reverse dependency order: HTTP server and live
// connections, hub, registry heartbeat, then stores.
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if !app.started {
		return app.closeStores(ctx)
	}
	app.started = false
	app.log.Info("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	if app.wsRegistry != nil {
		app.wsRegistry.CloseAll()
	}
	if app.router != nil {
		app.router.Stop()
	}
	app.stopHub()

	if app.registrar != nil {
		if err := app.registrar.Stop(ctx); err != nil && !errors.Is(err, registry.ErrNotRunning) {
			errs = append(errs, fmt.Errorf("registrar: %w", err))
		}
	}
	app.bgCancel()
	app.bg.Wait()

	if err := app.closeStores(ctx); err != nil {
		errs = append(errs, err)
	}

	app.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (app *Application) stopHub() {
	if app.hub == nil {
		return
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.log.WithError(err).Warn("event hub shutdown error")
	}
}

// Addr is the bound listen address once started, else the configured one.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}
