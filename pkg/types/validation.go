package types

import (
	"net/mail"
	"regexp"
)

// Compiled once; validation sits on every request path.
var (
	userIDRegex   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,32}$`)
	lobbyIDRegex  = regexp.MustCompile(`^[0-9a-f]{8}$`)
)

// IsValidUserID checks the identifier carried in tokens and lobby events.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

func IsValidUsername(username string) bool {
	return usernameRegex.MatchString(username)
}

// IsValidEmail accepts a bare address only; display names are rejected.
func IsValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func IsValidLobbyID(id string) bool {
	return lobbyIDRegex.MatchString(id)
}

// ValidatePassword enforces bcrypt's 72-byte input ceiling.
func ValidatePassword(password string) error {
	if len(password) == 0 || len(password) > 72 {
		return ErrPasswordLength
	}
	return nil
}

// IsLobbyEvent reports whether name is an inbound lobby event.
func IsLobbyEvent(name string) bool {
	switch name {
	case EventCreateLobby, EventJoinLobby, EventPlayerReady, EventLeaveLobby:
		return true
	default:
		return false
	}
}

// ValidatePlayers checks a game's roster.
func ValidatePlayers(players []string) error {
	if len(players) == 0 {
		return ErrMissingPlayers
	}
	seen := make(map[string]struct{}, len(players))
	for _, p := range players {
		if !IsValidUserID(p) {
			return ErrInvalidUserID
		}
		if _, dup := seen[p]; dup {
			return ErrDuplicatePlayer
		}
		seen[p] = struct{}{}
	}
	return nil
}
