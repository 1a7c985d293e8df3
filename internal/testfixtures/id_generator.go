package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator hands out "<prefix>-<n>" identifiers so tests can name rooms,
// events and changes before they are created.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	issued int
}

// NewIDGenerator returns a generator for prefix, "id" when empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next issues the next identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return g.format(g.issued)
}

// Peek returns the identifier the n-th following call to Next will issue.
func (g *IDGenerator) Peek(n int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.format(g.issued + n)
}

// Issued reports how many identifiers were handed out.
func (g *IDGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued
}

// NextFunc returns Next for injection.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

func (g *IDGenerator) format(n int) string {
	return fmt.Sprintf("%s-%d", g.prefix, n)
}
