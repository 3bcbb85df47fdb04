package dag

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	a := gen.Generate(nil)
	b := gen.Generate(nil)

	assert.NotEqual(t, a, b)
	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestHashGeneratorDeterministic(t *testing.T) {
	g1 := NewHashGenerator("replica-a", 0)
	g2 := NewHashGenerator("replica-a", 0)

	assert.Equal(t, g1.Generate([]string{"p"}), g2.Generate([]string{"p"}))
	assert.NotEqual(t, g1.Generate([]string{"p"}), NewHashGenerator("replica-b", 1).Generate([]string{"p"}))
}

func TestHashGeneratorAdvancesClock(t *testing.T) {
	g := NewHashGenerator("r", 10)
	a := g.Generate(nil)
	b := g.Generate(nil)

	assert.NotEqual(t, a, b)
	assert.Equal(t, int64(12), g.clock.Current())
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("x", "y")
	assert.Equal(t, "x", gen.Generate(nil))
	assert.Equal(t, "y", gen.Generate(nil))
	assert.Panics(t, func() { gen.Generate(nil) })
}

func TestClockConcurrent(t *testing.T) {
	c := NewClockAt(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Next()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), c.Current())
}
