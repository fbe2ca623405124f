package oml

import (
	"github.com/oklog/ulid/v2"
)

// Id names local edits and the elements a model server creates.
// The text form is the ulid text, which sorts in creation order.
type Id ulid.ULID

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}
