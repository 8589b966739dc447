// Package game starts games and records moves against the document store,
// keeping the cache write-through and rolling back partial writes.
package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cardtable/internal/apperror"
	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

const (
	// DefaultCacheTTL is how long a cached game lives after its last write.
	DefaultCacheTTL = time.Hour

	rollbackTimeout = 5 * time.Second
)

// StartRequest is the body of POST /api/game/start.
type StartRequest struct {
	LobbyID string   `json:"lobby_id"`
	Players []string `json:"players"`
}

// MoveRequest is the body of POST /api/game/move.
type MoveRequest struct {
	GameID   string                 `json:"game_id"`
	PlayerID string                 `json:"player_id"`
	Move     map[string]interface{} `json:"move"`
}

type activeCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

type Service struct {
	store interfaces.GameStore
	cache interfaces.GameCache
	ttl   time.Duration
	log   *logrus.Entry
	locks stripedLocks

	now   func() time.Time
	newID func() string

	// OnGameStarted, when set, runs after a game is persisted and cached.
	OnGameStarted func(game *types.Game)
}

func NewService(store interfaces.GameStore, cache interfaces.GameCache, ttl time.Duration, log *logrus.Entry) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		store: store,
		cache: cache,
		ttl:   ttl,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// StartGame persists a new game and caches it. If caching fails the insert
// is undone so the two never disagree about which games exist.
func (s *Service) StartGame(ctx context.Context, req StartRequest) (*types.Game, error) {
	if strings.TrimSpace(req.LobbyID) == "" {
		return nil, apperror.BadRequest(types.ErrMissingLobbyID.Error())
	}
	if err := types.ValidatePlayers(req.Players); err != nil {
		return nil, apperror.BadRequest(err.Error())
	}

	game := &types.Game{
		ID:        s.newID(),
		LobbyID:   req.LobbyID,
		Players:   append([]string(nil), req.Players...),
		State:     types.GameStateWaiting,
		CreatedAt: s.now(),
		Moves:     []types.Move{},
		Deck:      NewDeck(),
	}

	if err := s.store.InsertGame(ctx, game); err != nil {
		return nil, upstream(err, "game store unavailable")
	}

	if err := s.cache.SetGame(ctx, game, s.ttl); err != nil {
		rctx, cancel := rollbackContext(ctx)
		defer cancel()
		if derr := s.store.DeleteGame(rctx, game.ID); derr != nil && !errors.Is(derr, interfaces.ErrGameNotFound) {
			s.log.WithError(derr).WithField("game_id", game.ID).Error("failed to roll back game insert")
		}
		return nil, upstream(err, "game cache unavailable")
	}

	s.log.WithFields(logrus.Fields{
		"game_id":  game.ID,
		"lobby_id": game.LobbyID,
		"players":  len(game.Players),
	}).Info("game started")

	if s.OnGameStarted != nil {
		s.OnGameStarted(game)
	}
	return game, nil
}

// MakeMove appends a move to the game's log and returns the updated game.
// Moves on the same game are applied one at a time.
func (s *Service) MakeMove(ctx context.Context, req MoveRequest) (*types.Game, error) {
	switch {
	case strings.TrimSpace(req.GameID) == "":
		return nil, apperror.BadRequest(types.ErrMissingGameID.Error())
	case strings.TrimSpace(req.PlayerID) == "":
		return nil, apperror.BadRequest(types.ErrMissingPlayerID.Error())
	case len(req.Move) == 0:
		return nil, apperror.BadRequest(types.ErrMissingMove.Error())
	}

	unlock := s.locks.lock(req.GameID)
	defer unlock()

	game, err := s.load(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if !validMove(game, req) {
		return nil, apperror.InvalidMove("invalid move")
	}

	move := types.Move{PlayerID: req.PlayerID, Move: req.Move, Timestamp: s.now()}
	if err := s.store.AppendMove(ctx, game.ID, move); err != nil {
		if errors.Is(err, interfaces.ErrGameNotFound) {
			return nil, apperror.NotFound("game not found")
		}
		return nil, upstream(err, "game store unavailable")
	}
	game.Moves = append(game.Moves, move)

	if err := s.cache.SetGame(ctx, game, s.ttl); err != nil {
		s.rollbackMove(ctx, game.ID)
		return nil, upstream(err, "game cache unavailable")
	}
	return game, nil
}

// GetGame reads a game through the cache.
func (s *Service) GetGame(ctx context.Context, gameID string) (*types.Game, error) {
	if strings.TrimSpace(gameID) == "" {
		return nil, apperror.BadRequest(types.ErrMissingGameID.Error())
	}
	return s.load(ctx, gameID)
}

// ActiveGames counts stored games when the store supports it.
func (s *Service) ActiveGames(ctx context.Context) (int64, error) {
	counter, ok := s.store.(activeCounter)
	if !ok {
		return 0, ErrCountUnsupported
	}
	return counter.CountActive(ctx)
}

// load prefers the cache and falls back to the store on any cache error.
func (s *Service) load(ctx context.Context, gameID string) (*types.Game, error) {
	game, err := s.cache.GetGame(ctx, gameID)
	if err == nil {
		return game, nil
	}
	if !errors.Is(err, interfaces.ErrCacheMiss) {
		s.log.WithError(err).WithField("game_id", gameID).Warn("game cache read failed, using store")
	}

	game, err = s.store.GetGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, interfaces.ErrGameNotFound) {
			return nil, apperror.NotFound("game not found")
		}
		return nil, upstream(err, "game store unavailable")
	}
	if game.Moves == nil {
		game.Moves = []types.Move{}
	}
	return game, nil
}

func (s *Service) rollbackMove(ctx context.Context, gameID string) {
	rctx, cancel := rollbackContext(ctx)
	defer cancel()

	entry := s.log.WithField("game_id", gameID)
	if err := s.store.PopMove(rctx, gameID); err != nil {
		entry.WithError(err).Error("failed to roll back move")
	}
	// A stale cached copy would hide the rollback.
	if err := s.cache.DeleteGame(rctx, gameID); err != nil {
		entry.WithError(err).Warn("failed to evict cached game")
	}
}

// validMove is a placeholder for real rules: any participant may move.
func validMove(game *types.Game, req MoveRequest) bool {
	return game.HasPlayer(req.PlayerID)
}

// rollbackContext outlives a canceled request so compensation still runs.
func rollbackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
}

func upstream(err error, message string) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperror.Upstream(err, message)
}
