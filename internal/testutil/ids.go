package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates prefix-1, prefix-2, ... for deterministic
// promotion IDs in golden traces.
//
// Unlike engine.FixedGenerator it never runs out.
//
// Implements engine.IDGenerator. Thread-safe via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. Empty prefix means "promo".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "promo"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
