package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardtable/internal/game"
	"cardtable/internal/logging"
	"cardtable/internal/resilience"
	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

// gameDocs backs both the store and the cache in these tests.
type gameDocs struct {
	mu      sync.Mutex
	games   map[string]types.Game
	healthy bool
}

func newGameDocs() *gameDocs {
	return &gameDocs{games: make(map[string]types.Game), healthy: true}
}

func (d *gameDocs) InsertGame(_ context.Context, g *types.Game) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.games[g.ID] = *g
	return nil
}

func (d *gameDocs) GetGame(_ context.Context, id string) (*types.Game, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.games[id]
	if !ok {
		return nil, interfaces.ErrGameNotFound
	}
	g.Moves = append([]types.Move{}, g.Moves...)
	return &g, nil
}

func (d *gameDocs) AppendMove(_ context.Context, id string, m types.Move) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.games[id]
	if !ok {
		return interfaces.ErrGameNotFound
	}
	g.Moves = append(g.Moves, m)
	d.games[id] = g
	return nil
}

func (d *gameDocs) PopMove(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := d.games[id]
	if len(g.Moves) > 0 {
		g.Moves = g.Moves[:len(g.Moves)-1]
		d.games[id] = g
	}
	return nil
}

func (d *gameDocs) DeleteGame(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.games, id)
	return nil
}

func (d *gameDocs) CountActive(context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.games)), nil
}

func (d *gameDocs) HealthCheck(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.healthy {
		return errors.New("down")
	}
	return nil
}

// missCache never holds anything, so every read falls through to the store.
type missCache struct{}

func (missCache) SetGame(context.Context, *types.Game, time.Duration) error { return nil }
func (missCache) GetGame(context.Context, string) (*types.Game, error) {
	return nil, interfaces.ErrCacheMiss
}
func (missCache) DeleteGame(context.Context, string) error { return nil }
func (missCache) HealthCheck(context.Context) error        { return nil }

func newGamesTestServer(t *testing.T) (*GamesServer, *gameDocs, string) {
	t.Helper()

	f := newGuardFixture(t, 10, resilience.DefaultInvokerConfig())
	docs := newGameDocs()
	server := NewGamesServer(GamesDeps{
		Games:    game.NewService(docs, missCache{}, time.Hour, logging.Discard()),
		Guard:    f.guard,
		Invokers: f.invokers,
		Metrics:  f.metrics,
		Store:    docs,
		Cache:    missCache{},
		Log:      logging.Discard(),
	})

	token, err := f.tokens.Issue("1", "u1")
	require.NoError(t, err)
	return server, docs, token
}

func authed(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestGames_StartAndMove(t *testing.T) {
	server, _, token := newGamesTestServer(t)

	code, body := doJSON(t, server, authed(gatewayRequest(http.MethodPost, "/api/game/start",
		`{"lobby_id": "0a1b2c3d", "players": ["1", "2"]}`), token))
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "Game created successfully", body["message"])
	gameID, _ := body["game_id"].(string)
	require.NotEmpty(t, gameID)

	code, body = doJSON(t, server, authed(gatewayRequest(http.MethodPost, "/api/game/move",
		`{"game_id": "`+gameID+`", "player_id": "2", "move": {"card": "A-spades"}}`), token))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Move processed successfully", body["message"])

	state, ok := body["game_state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, types.GameStateWaiting, state["state"])
	assert.Len(t, state["moves"], 1)
	assert.Len(t, state["deck"], game.DeckSize)
}

func TestGames_MoveErrors(t *testing.T) {
	server, _, token := newGamesTestServer(t)

	code, body := doJSON(t, server, authed(gatewayRequest(http.MethodPost, "/api/game/move",
		`{"game_id": "missing", "player_id": "1", "move": {"pass": true}}`), token))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "game not found", body["message"])

	code, _ = doJSON(t, server, authed(gatewayRequest(http.MethodPost, "/api/game/move", `{"game_id": "x"}`), token))
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = doJSON(t, server, authed(gatewayRequest(http.MethodPost, "/api/game/start", `{"players": ["1"]}`), token))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "lobby_id is required", body["message"])

	code, body = doJSON(t, server, authed(gatewayRequest(http.MethodPost, "/api/game/start",
		`{"lobby_id": "0a1b2c3d", "players": ["1"]}`), token))
	require.Equal(t, http.StatusCreated, code)
	gameID := body["game_id"].(string)

	code, body = doJSON(t, server, authed(gatewayRequest(http.MethodPost, "/api/game/move",
		`{"game_id": "`+gameID+`", "player_id": "9", "move": {"pass": true}}`), token))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid move", body["message"])
}

func TestGames_RequireBearer(t *testing.T) {
	server, _, _ := newGamesTestServer(t)
	code, _ := doJSON(t, server, gatewayRequest(http.MethodPost, "/api/game/start", `{"lobby_id": "0a1b2c3d", "players": ["1"]}`))
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestGames_Status(t *testing.T) {
	server, docs, token := newGamesTestServer(t)

	doJSON(t, server, authed(gatewayRequest(http.MethodPost, "/api/game/start",
		`{"lobby_id": "0a1b2c3d", "players": ["1"]}`), token))

	code, body := doJSON(t, server, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusHealthy, body["status"])
	assert.Equal(t, float64(1), body["active_games"])
	assert.Equal(t, float64(1), body["total_requests"])
	assert.Equal(t, float64(0), body["total_errors"])
	assert.Equal(t, "closed", body["circuit_breaker_state"])
	assert.Equal(t, true, body["db_connected"])
	assert.Equal(t, true, body["cache_connected"])

	docs.mu.Lock()
	docs.healthy = false
	docs.mu.Unlock()

	code, body = doJSON(t, server, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, statusUnhealthy, body["status"])
	assert.Equal(t, false, body["db_connected"])
}
