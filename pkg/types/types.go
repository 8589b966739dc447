package types

import (
	"time"
)

// Lobby event names exchanged over the real-time channel.
const (
	EventCreateLobby = "create_lobby"
	EventJoinLobby   = "join_lobby"
	EventPlayerReady = "player_ready"
	EventLeaveLobby  = "leave_lobby"

	EventConnectionSuccess = "connection_success"
	EventLobbyCreated      = "lobby_created"
	EventPlayerJoined      = "player_joined"
	EventGameStarting      = "game_starting"
	EventPlayerLeft        = "player_left"
	EventError             = "error"
)

// Lobby statuses. A lobby never returns to waiting once it is starting.
const (
	LobbyStatusWaiting  = "waiting"
	LobbyStatusStarting = "starting"
)

// GameStateWaiting is the state every freshly started game is persisted with.
const GameStateWaiting = "WAITING"

// Event is the envelope for every frame on the real-time channel, in both directions.
type Event struct {
	Name string                 `json:"event"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// LobbyInfo is the point-in-time view of a lobby sent to clients.
type LobbyInfo struct {
	ID      string   `json:"lobby_id"`
	HostID  string   `json:"host_id"`
	Players []string `json:"players"`
	Ready   []string `json:"ready"`
	Status  string   `json:"status"`
}

// User is an account row. PasswordHash never leaves the service.
type User struct {
	ID           int64     `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Score        int       `json:"score"`
	GamesPlayed  int       `json:"games_played"`
	GamesWon     int       `json:"games_won"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScoreUpdate is an atomic increment applied to a user's stats.
type ScoreUpdate struct {
	UserID      int64 `json:"user_id"`
	ScoreChange int   `json:"score_change"`
	GameWon     bool  `json:"game_won"`
}

// Card is one card of the 36-card deck.
type Card struct {
	Rank string `json:"rank" bson:"rank"`
	Suit string `json:"suit" bson:"suit"`
}

// Move is one entry of a game's move log.
type Move struct {
	PlayerID  string                 `json:"player_id" bson:"player_id"`
	Move      map[string]interface{} `json:"move" bson:"move"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
}

// Game is the persisted game document; the same shape is cached.
type Game struct {
	ID        string    `json:"game_id" bson:"_id"`
	LobbyID   string    `json:"lobby_id" bson:"lobby_id"`
	Players   []string  `json:"players" bson:"players"`
	State     string    `json:"state" bson:"state"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	Moves     []Move    `json:"moves" bson:"moves"`
	Deck      []Card    `json:"deck" bson:"deck"`
}

// HasPlayer reports whether playerID takes part in the game.
func (g *Game) HasPlayer(playerID string) bool {
	for _, p := range g.Players {
		if p == playerID {
			return true
		}
	}
	return false
}
