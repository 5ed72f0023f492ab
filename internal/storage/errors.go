package storage

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrExists          = errors.New("record already exists")
	ErrInvalidAccessID = errors.New("access id does not match")
	ErrInvalidID       = errors.New("id must be alphanumeric")
)
