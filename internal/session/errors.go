package session

import "errors"

var ErrEmptyConnectionID = errors.New("connection id cannot be empty")
