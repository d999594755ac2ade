// Package uuid mints run and document identifiers.
package uuid

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Generator mints UUIDv7 strings, so run and document IDs sort by creation time.
type Generator struct {
	rand io.Reader
}

// New returns a Generator backed by crypto/rand.
func New() *Generator {
	return &Generator{}
}

// NewWithReader draws random bits from r instead of crypto/rand.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// NewID returns a new identifier.
func (g *Generator) NewID() (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	if g != nil && g.rand != nil {
		id, err = uuid.NewV7FromReader(g.rand)
	} else {
		id, err = uuid.NewV7()
	}
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Key returns the 16-byte form of id. Strings that are not UUIDs map to a
// name-based UUID so callers supplying their own run IDs still get a stable key.
func Key(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		parsed = uuid.NewSHA1(uuid.NameSpaceURL, []byte(id))
	}
	return parsed
}
