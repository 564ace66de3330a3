package checkpoint

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RunID identifies one execution of a flow. It is the string form of a UUID
// and never changes once assigned.
type RunID string

// String returns the run id in its persisted form.
func (id RunID) String() string {
	return string(id)
}

// NewRunID returns a fresh time-sortable run id (UUIDv7).
//
// Panics if UUID generation fails (should never happen in practice).
func NewRunID() RunID {
	return RunID(uuid.Must(uuid.NewV7()).String())
}

// ParseRunID validates s as a UUID and returns it in canonical lower-case
// hyphenated form.
func ParseRunID(s string) (RunID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid run id %q: %w", s, err)
	}
	return RunID(u.String()), nil
}

// NewInvocationValue returns a fresh random invocation id value.
func NewInvocationValue() string {
	return uuid.NewString()
}

// RunIDGenerator produces run ids for newly started flows.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type RunIDGenerator interface {
	Generate() RunID
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 run id.
func (UUIDv7Generator) Generate() RunID {
	return NewRunID()
}

// FixedGenerator returns predetermined run ids in order.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []RunID
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("0190...-01", "0190...-02")
//	gen.Generate() // "0190...-01"
//	gen.Generate() // "0190...-02"
//	gen.Generate() // panic: all run ids exhausted
func NewFixedGenerator(ids ...RunID) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, so a test that starts more flows
// than it planned for fails loudly.
func (g *FixedGenerator) Generate() RunID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all run ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
