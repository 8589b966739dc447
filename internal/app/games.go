package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"cardtable/internal/api"
	"cardtable/internal/auth"
	"cardtable/internal/cache"
	"cardtable/internal/config"
	"cardtable/internal/game"
	"cardtable/internal/gamestore"
	"cardtable/internal/logging"
	"cardtable/internal/metrics"
	"cardtable/internal/registry"
	"cardtable/internal/resilience"
	"cardtable/pkg/types"
)

// NewGames wires the games service: Mongo document store, Redis cache and
// the game routes.
func NewGames(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	app := newApplication(cfg, log, metrics.New("cardtable_games"))

	mongoClient, err := gamestore.Connect(ctx, gamestore.Config{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: cfg.Mongo.ConnectTimeout.Duration,
		MaxPoolSize:    cfg.Mongo.MaxPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	app.addCloser("mongo", mongoClient.Disconnect)
	store := gamestore.NewStore(mongoClient, cfg.Mongo.Database)

	redisClient, err := cache.Connect(ctx, redisConfig(cfg))
	if err != nil {
		_ = app.closeStores(ctx)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.addCloser("redis", func(context.Context) error { return redisClient.Close() })
	gameCache := cache.NewGameCache(redisClient)

	if cfg.Registry.Enabled {
		app.registrar = newRegistrar(redisClient, cfg, log)
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration, cfg.Auth.Issuer)
	if err != nil {
		_ = app.closeStores(ctx)
		return nil, err
	}

	games := game.NewService(store, gameCache, cfg.Game.CacheTTL.Duration, logging.Component(log, "game"))
	games.OnGameStarted = func(*types.Game) { app.metrics.GameStarted() }

	invokers := resilience.NewSet(app.breakerConfig(), app.invokerConfig(), app.metrics)
	gate := resilience.NewRequestGate(resilience.GateConfig{
		Secret:      cfg.Gateway.Secret,
		MaxInFlight: cfg.Gateway.MaxInFlight,
	})

	app.serve(api.NewGamesServer(api.GamesDeps{
		Games:    games,
		Guard:    api.NewGuard(gate, invokers, tokens, app.metrics, logging.Component(log, "api")),
		Invokers: invokers,
		Metrics:  app.metrics,
		Store:    store,
		Cache:    gameCache,
		Log:      logging.Component(log, "api"),
	}))
	return app, nil
}

func newRegistrar(client *redis.Client, cfg *config.Config, log *logrus.Entry) *registry.Registrar {
	return registry.NewRegistrar(client, registry.Config{
		Enabled:       true,
		Key:           cfg.Registry.Key,
		Address:       cfg.Registry.Address,
		Interval:      cfg.Registry.Interval.Duration,
		RetryInterval: cfg.Registry.RetryInterval.Duration,
	}, logging.Component(log, "registry"))
}
