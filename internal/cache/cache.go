// Package cache is the Redis write-through cache for game documents.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

// DefaultTTL is how long a cached game lives without being refreshed.
const DefaultTTL = time.Hour

const keyPrefix = "game:"

// GameCache stores JSON-encoded games under game:{id}.
type GameCache struct {
	client redis.UniversalClient
}

func NewGameCache(client redis.UniversalClient) *GameCache {
	return &GameCache{client: client}
}

func Key(gameID string) string {
	return keyPrefix + gameID
}

func (c *GameCache) SetGame(ctx context.Context, game *types.Game, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("failed to encode game: %w", err)
	}
	if err := c.client.Set(ctx, Key(game.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache game %s: %w", game.ID, err)
	}
	return nil
}

// GetGame returns interfaces.ErrCacheMiss when the key is absent.
func (c *GameCache) GetGame(ctx context.Context, gameID string) (*types.Game, error) {
	payload, err := c.client.Get(ctx, Key(gameID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, interfaces.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cached game %s: %w", gameID, err)
	}

	var game types.Game
	if err := json.Unmarshal(payload, &game); err != nil {
		return nil, fmt.Errorf("failed to decode cached game %s: %w", gameID, err)
	}
	return &game, nil
}

func (c *GameCache) DeleteGame(ctx context.Context, gameID string) error {
	if err := c.client.Del(ctx, Key(gameID)).Err(); err != nil {
		return fmt.Errorf("failed to evict game %s: %w", gameID, err)
	}
	return nil
}

func (c *GameCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ interfaces.GameCache = (*GameCache)(nil)
