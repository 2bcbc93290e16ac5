package server

import "errors"

var (
	ErrAlreadyStarted   = errors.New("server has already started")
	ErrServerNotRunning = errors.New("server is not running yet")
	ErrNoListener       = errors.New("server has no listener")
	ErrUserNotFound     = errors.New("user not found")
)
