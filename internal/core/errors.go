package core

import "errors"

var (
	ErrHandleTaken   = errors.New("handle already registered")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrNotFound      = errors.New("handle not found")
	ErrBusy          = errors.New("handle is busy")
	ErrNotInCall     = errors.New("handle is not in a call")
	ErrSelfCall      = errors.New("cannot call yourself")
	// ErrSessionPanic wraps a panic recovered at the worker boundary.
	ErrSessionPanic = errors.New("session panicked")
)
