// Package testutil holds deterministic helpers shared by tests across
// packages: id generators, a small register payload, and a contract suite
// for storage implementations.
package testutil

import (
	"strconv"
	"sync"
)

// SeqGenerator hands out ids "<prefix>1", "<prefix>2", ... in call order.
//
// Unlike dag.FixedGenerator it never runs out, and it can be reset so the
// same scenario produces the same ids on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SeqGenerator struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSeqGenerator creates a generator. The first id is prefix+"1".
// An empty prefix defaults to "a".
func NewSeqGenerator(prefix string) *SeqGenerator {
	if prefix == "" {
		prefix = "a"
	}
	return &SeqGenerator{prefix: prefix}
}

// Generate implements dag.IDGenerator.
func (g *SeqGenerator) Generate([]string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return g.prefix + strconv.FormatInt(g.seq, 10)
}

// Current returns the number of ids handed out.
func (g *SeqGenerator) Current() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence at 1.
func (g *SeqGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
