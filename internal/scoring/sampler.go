package scoring

import "math/rand/v2"

// Sampler decides whether the fast path should spend an external call on a
// job that already looks promising.
type Sampler interface {
	Sample() bool
}

// ProbabilitySampler says yes with probability P.
type ProbabilitySampler struct {
	P float64
}

func (s ProbabilitySampler) Sample() bool {
	if s.P <= 0 {
		return false
	}
	if s.P >= 1 {
		return true
	}
	return rand.Float64() < s.P
}

// FixedSampler always returns its own value. Useful to pin the fast path.
type FixedSampler bool

func (s FixedSampler) Sample() bool { return bool(s) }
