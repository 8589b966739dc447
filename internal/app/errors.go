package app

import "errors"

var ErrAlreadyStarted = errors.New("application already started")
