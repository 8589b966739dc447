package interfaces

import (
	"context"
	"time"

	"cardtable/pkg/types"
)

// UserStore persists accounts and their score statistics.
type UserStore interface {
	// CreateUser inserts the user and returns its id. Duplicate usernames or
	// emails fail with ErrDuplicateUsername / ErrDuplicateEmail.
	CreateUser(ctx context.Context, user *types.User) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)

	// ApplyScore increments score, games played and (when won) games won in a
	// single statement and returns the updated row.
	ApplyScore(ctx context.Context, update types.ScoreUpdate) (*types.User, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// GameStore is the document store of record for games.
type GameStore interface {
	InsertGame(ctx context.Context, game *types.Game) error
	GetGame(ctx context.Context, id string) (*types.Game, error)
	AppendMove(ctx context.Context, id string, move types.Move) error
	// PopMove removes the most recently appended move.
	PopMove(ctx context.Context, id string) error
	DeleteGame(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
}

// GameCache is the write-through cache in front of GameStore.
type GameCache interface {
	SetGame(ctx context.Context, game *types.Game, ttl time.Duration) error
	// GetGame returns ErrCacheMiss when the key is absent.
	GetGame(ctx context.Context, id string) (*types.Game, error)
	DeleteGame(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
}
