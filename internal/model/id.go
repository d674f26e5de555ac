package model

import "github.com/oklog/ulid/v2"

// NewID generates a ULID string used as the primary key for all entities.
// ULIDs sort lexicographically by creation time, which keeps list endpoints
// in insertion order without a secondary index.
func NewID() string {
	return ulid.Make().String()
}
