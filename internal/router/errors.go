package router

import "errors"

var (
	ErrInvalidFrame      = errors.New("invalid message format")
	ErrRateLimitExceeded = errors.New("rate limit exceeded: 100 messages per minute")
)
