package core

import "errors"

// Configuration errors. Detected before any socket or file is acquired.
var (
	ErrInvalidAddress = errors.New("invalid IP address")
	ErrInvalidPort    = errors.New("invalid port")
	ErrEmptyPath      = errors.New("empty file path")
)

// Resource errors. Anything acquired during the failed start is released
// before these are returned.
var (
	ErrBindFailed = errors.New("bind failed")
	ErrJoinFailed = errors.New("join multicast failed")
	ErrOpenFailed = errors.New("failed to open file")
	ErrEmptyLog   = errors.New("capture file is empty")
)

// ErrAlreadyActive is returned by Start on a session that is already running.
var ErrAlreadyActive = errors.New("session already active")
