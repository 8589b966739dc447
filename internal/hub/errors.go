package hub

import "errors"

var (
	ErrHubAlreadyRunning   = errors.New("hub is already running")
	ErrHubNotRunning       = errors.New("hub is not running")
	ErrOutboundChannelFull = errors.New("outbound channel is full")
)
