package game

import "errors"

// ErrCountUnsupported is returned by ActiveGames when the store cannot count.
var ErrCountUnsupported = errors.New("game store does not support counting")
