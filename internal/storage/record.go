package storage

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/pixil98/go-errors"
)

const recordVersion = 1

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9-]*$`)

type ValidatingSpec interface {
	Validate() error
}

type Identifier string

func (id Identifier) String() string {
	return string(id)
}

// Record is the on-disk envelope of a stored value. AccessID changes on every
// write; a writer must present the current one.
type Record[T ValidatingSpec] struct {
	Version    uint       `json:"version"`
	Identifier Identifier `json:"id"`
	AccessID   string     `json:"accessId"`
	Spec       T          `json:"spec"`
}

func (r *Record[T]) Id() string {
	return r.Identifier.String()
}

func (r *Record[T]) Validate() error {
	el := errors.NewErrorList()

	if r.Version == 0 {
		el.Add(fmt.Errorf("version must be set"))
	}

	if r.Identifier == "" {
		el.Add(fmt.Errorf("id must be set"))
	}

	if !identifierPattern.MatchString(r.Identifier.String()) {
		el.Add(fmt.Errorf("id must be alphanumeric"))
	}

	if r.AccessID == "" {
		el.Add(fmt.Errorf("access id must be set"))
	}

	el.Add(r.Spec.Validate())

	return el.Err()
}

// ValidIdentifier reports whether id may name a record.
func ValidIdentifier(id string) bool {
	return id != "" && identifierPattern.MatchString(id)
}

func newAccessID() string {
	return uuid.NewString()
}
