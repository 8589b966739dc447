// Package registry advertises a service instance in a Redis list so that a
// gateway can discover it.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Config controls the heartbeat.
type Config struct {
	Enabled       bool          `json:"enabled"`
	Key           string        `json:"key"`     // e.g. service:A
	Address       string        `json:"address"` // advertised host:port
	Interval      time.Duration `json:"interval"`
	RetryInterval time.Duration `json:"retry_interval"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Interval:      30 * time.Second,
		RetryInterval: 5 * time.Second,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Key == "" {
		return errors.New("registry key cannot be empty")
	}
	if c.Address == "" {
		return errors.New("registry address cannot be empty")
	}
	if c.Interval <= 0 || c.RetryInterval <= 0 {
		return errors.New("registry intervals must be greater than 0")
	}
	return nil
}

// ListClient is the slice of the Redis API the registrar needs.
type ListClient interface {
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

var (
	ErrAlreadyRunning = errors.New("registrar already running")
	ErrNotRunning     = errors.New("registrar not running")
)

// Registrar keeps the address present exactly once in the list while running.
type Registrar struct {
	client ListClient
	config Config
	log    *logrus.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRegistrar(client ListClient, cfg Config, log *logrus.Entry) *Registrar {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	return &Registrar{client: client, config: cfg, log: log}
}

// Start launches the heartbeat goroutine. It returns immediately.
func (r *Registrar) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.loop(ctx, r.done)
	return nil
}

// Stop ends the heartbeat and withdraws the address.
func (r *Registrar) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := r.client.LRem(ctx, r.config.Key, 0, r.config.Address).Err(); err != nil {
		r.log.WithError(err).Warn("failed to deregister service")
		return err
	}
	r.log.WithFields(logrus.Fields{"key": r.config.Key, "address": r.config.Address}).Info("service deregistered")
	return nil
}

func (r *Registrar) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		wait := r.config.Interval
		if err := r.Register(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).Warn("service registration failed")
			wait = r.config.RetryInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Register replaces any previous entry for the address with a fresh one at
// the head of the list.
func (r *Registrar) Register(ctx context.Context) error {
	if err := r.client.LRem(ctx, r.config.Key, 0, r.config.Address).Err(); err != nil {
		return err
	}
	if err := r.client.LPush(ctx, r.config.Key, r.config.Address).Err(); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"key": r.config.Key, "address": r.config.Address}).Debug("service registered")
	return nil
}
