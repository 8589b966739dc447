package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "CARDTABLE_"

// envReader collects every malformed variable instead of stopping at the first.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) get(name string) (string, bool) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *envReader) setString(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = v
	}
}

func (r *envReader) setInt(name string, dst *int) {
	if v, ok := r.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) setBool(name string, dst *bool) {
	if v, ok := r.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = b
	}
}

func (r *envReader) setDuration(name string, dst *Duration) {
	if v, ok := r.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		dst.Duration = d
	}
}

func (r *envReader) setList(name string, dst *[]string) {
	if v, ok := r.get(name); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	r := &envReader{lookup: lookup}

	r.setString("HTTP_HOST", &c.HTTP.Host)
	r.setInt("HTTP_PORT", &c.HTTP.Port)
	r.setDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	r.setDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	r.setDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	r.setDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	r.setDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	r.setList("WEBSOCKET_ALLOWED_ORIGINS", &c.WebSocket.AllowedOrigins)
	r.setDuration("DISCONNECT_GRACE", &c.WebSocket.DisconnectGrace)
	r.setInt("RATE_LIMIT", &c.WebSocket.RateLimit)
	r.setDuration("RATE_WINDOW", &c.WebSocket.RateWindow)

	r.setString("DATABASE_DRIVER", &c.Database.Driver)
	r.setString("DATABASE_DSN", &c.Database.DSN)
	r.setInt("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)

	r.setString("REDIS_URL", &c.Redis.URL)
	r.setInt("REDIS_POOL_SIZE", &c.Redis.PoolSize)

	r.setString("MONGO_URI", &c.Mongo.URI)
	r.setString("MONGO_DATABASE", &c.Mongo.Database)

	r.setString("GATEWAY_SECRET", &c.Gateway.Secret)
	r.setInt("MAX_CONCURRENT_REQUESTS", &c.Gateway.MaxInFlight)

	r.setInt("BREAKER_FAILURE_THRESHOLD", &c.Resilience.FailureThreshold)
	r.setDuration("BREAKER_RECOVERY_TIMEOUT", &c.Resilience.RecoveryTimeout)
	r.setDuration("REQUEST_TIMEOUT", &c.Resilience.RequestTimeout)
	r.setInt("MAX_RETRIES", &c.Resilience.MaxRetries)
	r.setDuration("RETRY_BACKOFF", &c.Resilience.RetryBackoff)

	r.setString("JWT_SECRET", &c.Auth.JWTSecret)
	r.setDuration("JWT_TTL", &c.Auth.TokenTTL)
	r.setString("JWT_ISSUER", &c.Auth.Issuer)
	r.setInt("BCRYPT_COST", &c.Auth.BcryptCost)

	r.setInt("LOBBY_MAX_MEMBERS", &c.Lobby.MaxMembers)
	r.setDuration("GAME_CACHE_TTL", &c.Game.CacheTTL)

	r.setBool("REGISTRY_ENABLED", &c.Registry.Enabled)
	r.setString("REGISTRY_KEY", &c.Registry.Key)
	r.setString("REGISTRY_ADDRESS", &c.Registry.Address)
	r.setDuration("REGISTRY_INTERVAL", &c.Registry.Interval)

	r.setString("LOG_LEVEL", &c.Logging.Level)
	r.setString("LOG_FORMAT", &c.Logging.Format)

	return errors.Join(r.errs...)
}
