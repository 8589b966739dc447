package auth

import "errors"

var (
	ErrEmptySecret      = errors.New("token secret cannot be empty")
	ErrPasswordMismatch = errors.New("password does not match")
)
