package api

import (
	"github.com/oklog/ulid/v2"
)

// NewID returns a ULID string. IDs minted by one process sort by creation time.
func NewID() string {
	return ulid.Make().String()
}
