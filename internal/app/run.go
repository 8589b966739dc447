package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"cardtable/internal/config"
	"cardtable/internal/logging"
)

type constructor func(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Application, error)

var constructors = map[string]constructor{
	config.ServiceAccounts: NewAccounts,
	config.ServiceGames:    NewGames,
}

// Run loads configuration for service, starts it and blocks until ctx is
// done, then shuts down within the configured shutdown timeout.
func Run(ctx context.Context, service string) error {
	build, ok := constructors[service]
	if !ok {
		return fmt.Errorf("unknown service %q", service)
	}

	cfg, err := config.Load(service)
	if err != nil {
		return err
	}
	log := logging.New(&logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, service)

	application, err := build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-ctx.Done()
	log.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
