// Package dialogue renders persona utterances and classifies human suggestions.
package dialogue

import (
	"math/rand/v2"
	"sync"
)

// Rand is the uniform randomness the dialogue engine draws from.
// Float64 returns a value in [0, 1).
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// NewRand returns the production randomness source. It is safe for concurrent use.
func NewRand() Rand {
	return globalRand{}
}

// Sequence replays a fixed list of draws, wrapping around at the end.
// It makes every branch of the engine reachable deterministically.
type Sequence struct {
	mu    sync.Mutex
	draws []float64
	next  int
}

// NewSequence returns a Sequence over draws. An empty list always yields 0.
func NewSequence(draws ...float64) *Sequence {
	return &Sequence{draws: draws}
}

// Float64 returns the next draw.
func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.draws) == 0 {
		return 0
	}
	v := s.draws[s.next%len(s.draws)]
	s.next++
	return v
}

// Used reports how many draws have been consumed.
func (s *Sequence) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// pickIndex draws a uniform integer in [lo, hi].
func pickIndex(r Rand, lo, hi int) int {
	idx := lo + int(r.Float64()*float64(hi-lo+1))
	if idx > hi {
		idx = hi
	}
	return idx
}
