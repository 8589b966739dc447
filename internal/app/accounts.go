package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"cardtable/internal/account"
	"cardtable/internal/api"
	"cardtable/internal/auth"
	"cardtable/internal/cache"
	"cardtable/internal/config"
	"cardtable/internal/database"
	"cardtable/internal/hub"
	"cardtable/internal/lobby"
	"cardtable/internal/logging"
	"cardtable/internal/metrics"
	"cardtable/internal/resilience"
	"cardtable/internal/router"
	"cardtable/internal/session"
	"cardtable/internal/websocket"
	dbconfig "cardtable/pkg/database"
)

// ClassLobby is the breaker class guarding lobby events.
const ClassLobby = "lobby"

// NewAccounts wires the accounts service: user store, identity, score
// routes and the real-time lobby channel.
func NewAccounts(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	app := newApplication(cfg, log, metrics.New("cardtable_accounts"))

	store, err := database.NewManager(databaseConfig(cfg), logging.Component(log, "database"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize user store: %w", err)
	}
	app.addCloser("database", func(context.Context) error { return store.Close() })
	if err := store.Migrate(); err != nil {
		_ = app.closeStores(ctx)
		return nil, err
	}

	// Redis only backs the registry heartbeat here.
	var redisHealth api.HealthChecker
	if cfg.Registry.Enabled {
		client, err := cache.Connect(ctx, redisConfig(cfg))
		if err != nil {
			_ = app.closeStores(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.addCloser("redis", func(context.Context) error { return client.Close() })
		redisHealth = pingRedis(client)
		app.registrar = newRegistrar(client, cfg, log)
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration, cfg.Auth.Issuer)
	if err != nil {
		_ = app.closeStores(ctx)
		return nil, err
	}
	accounts := account.NewService(store, auth.NewPasswords(cfg.Auth.BcryptCost), tokens, logging.Component(log, "account"))

	invokers := resilience.NewSet(app.breakerConfig(), app.invokerConfig(), app.metrics)
	gate := resilience.NewRequestGate(resilience.GateConfig{
		Secret:      cfg.Gateway.Secret,
		MaxInFlight: cfg.Gateway.MaxInFlight,
	})
	guard := api.NewGuard(gate, invokers, tokens, app.metrics, logging.Component(log, "api"))

	app.wsRegistry = websocket.NewRegistry()
	app.hub = hub.NewHub(hub.FromRegistry(app.wsRegistry), logging.Component(log, "hub"))

	lobbies := lobby.NewRegistry(lobby.Config{MaxMembers: cfg.Lobby.MaxMembers}, app.hub, logging.Component(log, "lobby"))
	lobbies.OnCountChange = app.metrics.SetLobbies

	directory := session.NewDirectory(tokens, logging.Component(log, "session"))
	app.router = router.NewRouter(directory, lobbies, invokers.Invoker(ClassLobby), router.Config{
		RateLimit:       cfg.WebSocket.RateLimit,
		RateWindow:      cfg.WebSocket.RateWindow.Duration,
		DisconnectGrace: cfg.WebSocket.DisconnectGrace.Duration,
	}, logging.Component(log, "router"))

	wsHandler := websocket.NewHandler(app.wsRegistry, directory, app.router, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval.Duration,
		ReadTimeout:    cfg.WebSocket.ReadTimeout.Duration,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logging.Component(log, "websocket"))
	wsHandler.OnOpen = app.metrics.ConnectionOpened
	wsHandler.OnClose = app.metrics.ConnectionClosed

	app.serve(api.NewAccountsServer(api.AccountsDeps{
		Accounts: accounts,
		Guard:    guard,
		Invokers: invokers,
		Gate:     gate,
		Metrics:  app.metrics,
		Database: store,
		Redis:    redisHealth,
		Realtime: wsHandler,
		Log:      logging.Component(log, "api"),
	}))
	return app, nil
}

func databaseConfig(cfg *config.Config) *dbconfig.Config {
	return &dbconfig.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Duration,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime.Duration,
	}
}

func redisConfig(cfg *config.Config) cache.Config {
	return cache.Config{
		URL:          cfg.Redis.URL,
		DialTimeout:  cfg.Redis.DialTimeout.Duration,
		ReadTimeout:  cfg.Redis.ReadTimeout.Duration,
		WriteTimeout: cfg.Redis.WriteTimeout.Duration,
		PoolSize:     cfg.Redis.PoolSize,
	}
}

func pingRedis(client *redis.Client) api.HealthChecker {
	return api.HealthCheckFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}
