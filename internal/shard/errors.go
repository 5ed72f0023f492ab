package shard

import "errors"

var (
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	ErrSpaceNotFound        = errors.New("space not found")
	ErrItemNotFound         = errors.New("item not found")
	ErrItemExists           = errors.New("item already present")
	ErrRoomExists           = errors.New("room already exists")
	ErrRoomOccupied         = errors.New("room is occupied")
	ErrNoPendingAction      = errors.New("no action in progress")
)
