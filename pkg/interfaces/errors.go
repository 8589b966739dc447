package interfaces

import "errors"

// Store errors shared by every implementation.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrGameNotFound      = errors.New("game not found")
	ErrCacheMiss         = errors.New("cache miss")
)
