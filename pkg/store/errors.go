package store

import "errors"

var (
	// ErrClosed is returned by Set/Get/Delete once the store has been closed.
	ErrClosed = errors.New("store: closed")
)
