package robustestimation

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrSampleCount is returned when more distinct values are requested than a range holds.
var ErrSampleCount = errors.New("requested more samples than the range contains")

// Sampler draws sets of distinct indices. A Sampler built on a private rand.Source must not be
// shared between goroutines; one built with a nil source draws from the global math/rand/v2
// generator and is safe for concurrent use.
type Sampler struct {
	src rand.Source
}

// NewSampler returns a Sampler drawing from src. A nil src uses the global generator.
func NewSampler(src rand.Source) *Sampler {
	return &Sampler{src: src}
}

// UniformSample draws k distinct integers from [0, hi).
func (s *Sampler) UniformSample(k, hi int) ([]int, error) {
	return s.UniformSampleRange(0, hi, k)
}

// UniformSampleRange draws k distinct integers from [lo, hi). Every k-subset of the range is
// equally likely and the values come back in random order. The work done is O(k) regardless of
// the width of the range.
func (s *Sampler) UniformSampleRange(lo, hi, k int) ([]int, error) {
	if err := checkSampleRange(lo, hi, k); err != nil {
		return nil, err
	}
	out := make([]int, k)
	s.sampleInto(out, lo, hi)
	return out, nil
}

// UniformSampleSet is UniformSample returning the draw as a set.
func (s *Sampler) UniformSampleSet(k, hi int) (map[int]struct{}, error) {
	samples, err := s.UniformSample(k, hi)
	if err != nil {
		return nil, err
	}
	set := make(map[int]struct{}, k)
	for _, v := range samples {
		set[v] = struct{}{}
	}
	return set, nil
}

// SampleInto fills dst with len(dst) distinct integers from [lo, hi) without allocating a
// result slice, for use inside sampling loops that reuse a buffer.
func (s *Sampler) SampleInto(dst []int, lo, hi int) error {
	if err := checkSampleRange(lo, hi, len(dst)); err != nil {
		return err
	}
	s.sampleInto(dst, lo, hi)
	return nil
}

// sampleInto is a partial Fisher-Yates shuffle over a virtual array holding lo..hi-1. Only the
// positions that have been swapped are materialized in moved.
func (s *Sampler) sampleInto(dst []int, lo, hi int) {
	n := hi - lo
	moved := make(map[int]int, len(dst))
	valueAt := func(pos int) int {
		if v, ok := moved[pos]; ok {
			return v
		}
		return pos
	}
	for i := range dst {
		j := i + s.intn(n-i)
		vi, vj := valueAt(i), valueAt(j)
		moved[j] = vi
		dst[i] = lo + vj
	}
}

// intn returns a uniform integer in [0, n).
func (s *Sampler) intn(n int) int {
	dist := distuv.Uniform{Min: 0, Max: float64(n), Src: s.src}
	v := int(math.Floor(dist.Rand()))
	if v >= n {
		// rounding of Min + (Max-Min)*u can land on Max for very wide ranges
		v = n - 1
	}
	return v
}

func checkSampleRange(lo, hi, k int) error {
	if lo > hi {
		return errors.Errorf("invalid range [%d, %d)", lo, hi)
	}
	if hi-lo < 0 {
		return errors.Errorf("range [%d, %d) is too wide to sample", lo, hi)
	}
	if k < 0 || k > hi-lo {
		return errors.Wrapf(ErrSampleCount, "cannot draw %d distinct values from [%d, %d)", k, lo, hi)
	}
	return nil
}

// UniformSample draws k distinct integers from [0, hi) using the global generator.
func UniformSample(k, hi int) ([]int, error) {
	return NewSampler(nil).UniformSample(k, hi)
}

// RandSample draws k distinct integers from [lo, hi) using the global generator.
func RandSample(lo, hi, k int) ([]int, error) {
	return NewSampler(nil).UniformSampleRange(lo, hi, k)
}
