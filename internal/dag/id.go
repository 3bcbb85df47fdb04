package dag

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/avcs/internal/ir"
)

// IDGenerator produces action ids. parents are the ids the new action will
// point at; generators may ignore them.
//
// Ids must never collide across replicas that sync with each other.
type IDGenerator interface {
	Generate(parents []string) string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate([]string) string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock is a monotonic logical clock.
//
// Thread-safety: safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock whose next value is start+1.
// Used to resume after reopening a store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// HashGenerator derives content-addressed ids from a replica name, the
// parent ids and a logical clock. Deterministic for a given replica and
// call order, which makes histories reproducible.
type HashGenerator struct {
	Replica string
	clock   *Clock
}

// NewHashGenerator returns a generator for replica whose clock resumes at start.
func NewHashGenerator(replica string, start int64) *HashGenerator {
	return &HashGenerator{Replica: replica, clock: NewClockAt(start)}
}

// Generate implements IDGenerator.
//
// Panics if the id cannot be hashed, which only happens for invalid UTF-8
// that canonical JSON cannot carry.
func (g *HashGenerator) Generate(parents []string) string {
	id, _ := g.GenerateSeq(parents)
	return id
}

// GenerateSeq is Generate that also returns the clock value the id used.
func (g *HashGenerator) GenerateSeq(parents []string) (string, int64) {
	seq := g.clock.Next()
	return ir.MustActionID(g.Replica, parents, seq), seq
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("init", "a", "b")
//	gen.Generate(nil) // "init"
//	gen.Generate(nil) // "a"
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics once all ids have been consumed; a test that creates more actions
// than it planned for is misconfigured.
func (g *FixedGenerator) Generate([]string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
