package browser

import (
	"math/rand"
	"sync"
	"time"
)

// RandomPacer draws waits uniformly from [Min, Max] and injects decoys with a
// fixed probability. The same seed yields the same sequence.
type RandomPacer struct {
	Min              time.Duration
	Max              time.Duration
	DecoyProbability float64
	rng              *rand.Rand
	mu               sync.Mutex
}

// -----------------------------------------------------------------------------

// NewRandomPacer builds a pacer; seed 0 means "not reproducible".
func NewRandomPacer(min, max time.Duration, decoyProbability float64, seed int64) *RandomPacer {
	if max < min {
		min, max = max, min
	}
	return &RandomPacer{
		Min:              min,
		Max:              max,
		DecoyProbability: decoyProbability,
		rng:              newRand(seed),
	}
}

// -----------------------------------------------------------------------------

func (p *RandomPacer) NextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	span := p.Max - p.Min
	if span <= 0 {
		return p.Min
	}
	return p.Min + time.Duration(p.rng.Int63n(int64(span)+1))
}

// -----------------------------------------------------------------------------

func (p *RandomPacer) ShouldInjectDecoy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.DecoyProbability <= 0 {
		return false
	}
	return p.rng.Float64() < p.DecoyProbability
}

// -----------------------------------------------------------------------------

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
