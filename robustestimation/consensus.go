// Package robustestimation contains the pieces a consensus search is built from: a uniform
// sampler of distinct indices and a kernel adaptor that turns any minimal solver and error
// metric into the interface the search drives. The search itself is supplied by the caller.
package robustestimation

import (
	"context"
)

// Result is the outcome of a consensus search.
type Result[M any] struct {
	Model   M
	Inliers []int
	// Threshold is the inlier threshold selected by the search, as a residual in input units.
	Threshold float64
	// NFA is the log10 number of false alarms of the selected model.
	NFA float64
}

// ConsensusSearch repeatedly samples minimal subsets from a kernel, fits and scores candidate
// models and returns the best one. ok is false when no meaningful model was found, which is
// not an error. Implementations decide how many trials to run and may stop early when ctx
// is done.
type ConsensusSearch[M any] interface {
	Search(ctx context.Context, kernel Kernel[M]) (res Result[M], ok bool, err error)
}
