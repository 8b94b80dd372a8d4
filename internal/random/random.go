package random

import (
	"math/rand"
	"time"
)

// Letters is the alphabet keys and values are drawn from.
const Letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Generator produces random letter strings. It is not safe for concurrent use.
type Generator struct {
	rnd *rand.Rand
}

// New returns a Generator seeded with seed. A zero seed seeds from the clock.
func New(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Bytes returns length letters chosen uniformly, with replacement.
func (g *Generator) Bytes(length int) []byte {
	if length <= 0 {
		return []byte{}
	}

	b := make([]byte, length)
	for i := range b {
		b[i] = Letters[g.rnd.Intn(len(Letters))]
	}

	return b
}

func (g *Generator) String(length int) string {
	return string(g.Bytes(length))
}
