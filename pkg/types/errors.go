package types

import "errors"

// Validation errors for inbound payloads.
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidUsername = errors.New("username must be 1-32 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidEmail    = errors.New("email address is malformed")
	ErrPasswordLength  = errors.New("password must be 1-72 bytes")
	ErrInvalidLobbyID  = errors.New("lobby ID must be 8 hex characters")
	ErrMissingLobbyID  = errors.New("lobby_id is required")
	ErrMissingPlayers  = errors.New("players list cannot be empty")
	ErrDuplicatePlayer = errors.New("players list contains duplicates")
	ErrMissingGameID   = errors.New("game_id is required")
	ErrMissingPlayerID = errors.New("player_id is required")
	ErrMissingMove     = errors.New("move is required")
	ErrUnknownEvent    = errors.New("unknown event")
)
