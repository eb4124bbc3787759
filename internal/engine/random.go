package engine

import (
	"math/rand/v2"
	"sync"
)

// RandomSource is the uniform generator behind strategy selection,
// partial-fill ratios and synthetic display liquidity.
type RandomSource interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Int64Range returns a value in [lo, hi].
	Int64Range(lo, hi int64) int64
}

// SeededSource is a goroutine-safe RandomSource over a PCG generator.
type SeededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource creates a reproducible source for the given seed.
func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomSource creates a source seeded from the runtime's entropy.
func NewRandomSource() *SeededSource {
	return NewSeededSource(rand.Uint64())
}

func (s *SeededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *SeededSource) Int64Range(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.Int64N(hi-lo+1)
}
