// Package config loads process settings in three layers: built-in defaults,
// CARDTABLE_* environment variables, then an optional JSON file named by
// CARDTABLE_CONFIG_FILE. The result is validated before use.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Services this package knows defaults for.
const (
	ServiceAccounts = "accounts"
	ServiceGames    = "games"
)

// FileEnv names the JSON file applied on top of the environment.
const FileEnv = "CARDTABLE_CONFIG_FILE"

type Config struct {
	Service    string            `json:"service"`
	HTTP       *HTTPConfig       `json:"http"`
	WebSocket  *WebSocketConfig  `json:"websocket"`
	Database   *DatabaseConfig   `json:"database"`
	Redis      *RedisConfig      `json:"redis"`
	Mongo      *MongoConfig      `json:"mongo"`
	Gateway    *GatewayConfig    `json:"gateway"`
	Resilience *ResilienceConfig `json:"resilience"`
	Auth       *AuthConfig       `json:"auth"`
	Lobby      *LobbyConfig      `json:"lobby"`
	Game       *GameConfig       `json:"game"`
	Registry   *RegistryConfig   `json:"registry"`
	Logging    *LoggingConfig    `json:"logging"`
}

type HTTPConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// Addr is the listen address.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	PingInterval   Duration `json:"ping_interval"`
	ReadTimeout    Duration `json:"read_timeout"`
	MaxMessageSize int64    `json:"max_message_size"`
	AllowedOrigins []string `json:"allowed_origins"`
	// DisconnectGrace is how long a user with no live connection keeps
	// their lobby seats. Zero releases them immediately.
	DisconnectGrace Duration `json:"disconnect_grace"`
	RateLimit       int      `json:"rate_limit"`
	RateWindow      Duration `json:"rate_window"`
}

type DatabaseConfig struct {
	Driver          string   `json:"driver"`
	DSN             string   `json:"dsn"`
	MaxConnections  int      `json:"max_connections"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `json:"conn_max_idle_time"`
}

type RedisConfig struct {
	URL          string   `json:"url"`
	DialTimeout  Duration `json:"dial_timeout"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
	PoolSize     int      `json:"pool_size"`
}

type MongoConfig struct {
	URI            string   `json:"uri"`
	Database       string   `json:"database"`
	ConnectTimeout Duration `json:"connect_timeout"`
	MaxPoolSize    uint64   `json:"max_pool_size"`
}

type GatewayConfig struct {
	Secret      string `json:"secret"`
	MaxInFlight int    `json:"max_in_flight"`
}

type ResilienceConfig struct {
	FailureThreshold int      `json:"failure_threshold"`
	RecoveryTimeout  Duration `json:"recovery_timeout"`
	RequestTimeout   Duration `json:"request_timeout"`
	MaxRetries       int      `json:"max_retries"`
	RetryBackoff     Duration `json:"retry_backoff"`
}

type AuthConfig struct {
	JWTSecret  string   `json:"jwt_secret"`
	TokenTTL   Duration `json:"token_ttl"`
	Issuer     string   `json:"issuer"`
	BcryptCost int      `json:"bcrypt_cost"`
}

type LobbyConfig struct {
	MaxMembers int `json:"max_members"`
}

type GameConfig struct {
	CacheTTL Duration `json:"cache_ttl"`
}

type RegistryConfig struct {
	Enabled       bool     `json:"enabled"`
	Key           string   `json:"key"`
	Address       string   `json:"address"`
	Interval      Duration `json:"interval"`
	RetryInterval Duration `json:"retry_interval"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns settings for service. Ports and registry keys differ
// between the two services; everything else is shared.
func DefaultConfig(service string) *Config {
	port, key := 5000, "service:A"
	if service == ServiceGames {
		port, key = 5001, "service:B"
	}

	return &Config{
		Service: service,
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            port,
			ReadTimeout:     Seconds(30),
			WriteTimeout:    Seconds(30),
			ShutdownTimeout: Seconds(30),
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    Seconds(30),
			ReadTimeout:     Seconds(60),
			MaxMessageSize:  64 * 1024,
			DisconnectGrace: Seconds(30),
			RateLimit:       100,
			RateWindow:      Seconds(60),
		},
		Database: &DatabaseConfig{
			Driver:          "sqlite3",
			DSN:             "./data/cardtable.db",
			MaxConnections:  10,
			ConnMaxLifetime: Duration{time.Hour},
			ConnMaxIdleTime: Duration{10 * time.Minute},
		},
		Redis: &RedisConfig{
			URL:          "redis://localhost:6379/0",
			DialTimeout:  Seconds(5),
			ReadTimeout:  Seconds(3),
			WriteTimeout: Seconds(3),
			PoolSize:     10,
		},
		Mongo: &MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "cardtable",
			ConnectTimeout: Seconds(10),
			MaxPoolSize:    50,
		},
		Gateway: &GatewayConfig{
			MaxInFlight: 100,
		},
		Resilience: &ResilienceConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  Seconds(60),
			RequestTimeout:   Seconds(5),
			MaxRetries:       1,
			RetryBackoff:     Duration{100 * time.Millisecond},
		},
		Auth: &AuthConfig{
			TokenTTL:   Duration{24 * time.Hour},
			Issuer:     "cardtable",
			BcryptCost: 10,
		},
		Lobby: &LobbyConfig{
			MaxMembers: 4,
		},
		Game: &GameConfig{
			CacheTTL: Duration{time.Hour},
		},
		Registry: &RegistryConfig{
			Enabled:       true,
			Key:           key,
			Address:       fmt.Sprintf("localhost:%d", port),
			Interval:      Seconds(30),
			RetryInterval: Seconds(5),
		},
		Logging: &LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load applies defaults, the environment and the optional config file, then
// validates the result.
func Load(service string) (*Config, error) {
	return load(service, os.LookupEnv)
}

func load(service string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig(service)
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if path, ok := lookup(FileEnv); ok && path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFile overlays the JSON file; keys absent from the file keep their
// current values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Service != ServiceAccounts && c.Service != ServiceGames {
		return fmt.Errorf("unknown service %q", c.Service)
	}
	if c.HTTP == nil || c.WebSocket == nil || c.Database == nil || c.Redis == nil || c.Mongo == nil ||
		c.Gateway == nil || c.Resilience == nil || c.Auth == nil || c.Lobby == nil || c.Game == nil ||
		c.Registry == nil || c.Logging == nil {
		return errors.New("every configuration section is required")
	}

	// Port 0 picks a free port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout.Duration <= 0 || c.HTTP.WriteTimeout.Duration <= 0 || c.HTTP.ShutdownTimeout.Duration <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.Gateway.Secret == "" {
		return errors.New("gateway secret cannot be empty")
	}
	if c.Gateway.MaxInFlight <= 0 {
		return errors.New("gateway max in flight must be positive")
	}

	if c.Resilience.FailureThreshold <= 0 {
		return errors.New("breaker failure threshold must be positive")
	}
	if c.Resilience.RecoveryTimeout.Duration <= 0 || c.Resilience.RequestTimeout.Duration <= 0 {
		return errors.New("breaker recovery and request timeouts must be positive")
	}
	if c.Resilience.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}

	if c.Redis.URL == "" {
		return errors.New("redis url cannot be empty")
	}
	if c.Registry.Enabled && (c.Registry.Key == "" || c.Registry.Address == "") {
		return errors.New("registry key and address are required when the registry is enabled")
	}

	switch c.Service {
	case ServiceAccounts:
		return c.validateAccounts()
	default:
		return c.validateGames()
	}
}

func (c *Config) validateAccounts() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret cannot be empty")
	}
	if c.Database.Driver != "sqlite3" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn cannot be empty")
	}
	if c.Lobby.MaxMembers <= 0 {
		return errors.New("lobby max members must be positive")
	}
	if c.WebSocket.PingInterval.Duration <= 0 || c.WebSocket.ReadTimeout.Duration <= 0 {
		return errors.New("websocket ping interval and read timeout must be positive")
	}
	if c.WebSocket.PingInterval.Duration >= c.WebSocket.ReadTimeout.Duration {
		return errors.New("websocket ping interval must be shorter than the read timeout")
	}
	if c.WebSocket.DisconnectGrace.Duration < 0 {
		return errors.New("disconnect grace cannot be negative")
	}
	if c.WebSocket.RateLimit <= 0 || c.WebSocket.RateWindow.Duration <= 0 {
		return errors.New("websocket rate limit and window must be positive")
	}
	return nil
}

func (c *Config) validateGames() error {
	// Games verify bearer tokens issued by the accounts service.
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret cannot be empty")
	}
	if c.Mongo.URI == "" || c.Mongo.Database == "" {
		return errors.New("mongo uri and database cannot be empty")
	}
	if c.Game.CacheTTL.Duration <= 0 {
		return errors.New("game cache ttl must be positive")
	}
	return nil
}
