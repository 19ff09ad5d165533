// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 run IDs.
type Generator struct{}

// NewGenerator creates a new Generator.
func NewGenerator() Generator {
	return Generator{}
}

// NewRunID returns a UUID v7, so IDs sort by creation time.
func (Generator) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// Parse validates a run ID received from a caller.
func Parse(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse run id %q: %w", raw, err)
	}
	return id, nil
}
