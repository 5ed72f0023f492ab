package statesync

import "errors"

var (
	ErrInvalidState = errors.New("invalid state")
	ErrNotLoaded    = errors.New("no state loaded")
	ErrTornDown     = errors.New("reconciler torn down")
)
