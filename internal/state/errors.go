package state

import "errors"

var (
	// ErrDesync means a delta could not be applied to the state it was given.
	// The only recovery is a fresh full load.
	ErrDesync = errors.New("state desync")

	ErrCatalogMismatch = errors.New("asset catalog mismatch")
	ErrRoomNotFound    = errors.New("room not found")
	ErrCharacterExists = errors.New("character already present")
	ErrCharacterAbsent = errors.New("character not present")
)
