// Package uuid generates time-ordered run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 run IDs, which sort by creation time.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUID v7.
func (Generator) NewID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// Sequence replays fixed IDs in order and then fails; it keeps run IDs
// deterministic in tests.
type Sequence struct {
	ids []uuid.UUID
	pos int
}

// NewSequence builds a Sequence over ids.
func NewSequence(ids ...uuid.UUID) *Sequence {
	return &Sequence{ids: ids}
}

// NewID returns the next ID of the sequence.
func (s *Sequence) NewID() (uuid.UUID, error) {
	if s.pos >= len(s.ids) {
		return uuid.Nil, fmt.Errorf("id sequence exhausted after %d ids", len(s.ids))
	}
	id := s.ids[s.pos]
	s.pos++
	return id, nil
}
