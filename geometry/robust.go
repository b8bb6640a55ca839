package geometry

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/logging"
	"go.viam.com/robustgeom/numeric"
	"go.viam.com/robustgeom/robustestimation"
)

// ErrNoConsensus is returned when the consensus search finds no meaningful similarity.
var ErrNoConsensus = errors.New("no similarity found by consensus search")

// ACRansacConfig controls ACRansacFindRTS.
type ACRansacConfig struct {
	// Refine polishes the selected similarity over its inliers.
	Refine       bool
	RefineConfig RefineConfig
	Logger       logging.Logger
}

// Validate ensures all parts of the config are valid.
func (cfg ACRansacConfig) Validate() error {
	var err error
	if cfg.Refine {
		err = multierr.Append(err, errors.Wrap(cfg.RefineConfig.Validate(), "refine"))
	}
	return err
}

// RobustSimilarity is a similarity selected by a consensus search with the correspondences it
// explains.
type RobustSimilarity struct {
	Similarity
	Inliers []int
	// Threshold is the inlier distance chosen by the search.
	Threshold float64
}

// ACRansacFindRTS robustly estimates the similarity mapping x1 onto x2, both 3 x N, by
// running search over an RTS kernel with residual distances. The selected model must
// decompose into a proper similarity. With cfg.Refine set it is then refined over the
// inliers only.
func ACRansacFindRTS(
	ctx context.Context,
	x1, x2 mat.Matrix,
	search robustestimation.ConsensusSearch[*mat.Dense],
	cfg ACRansacConfig,
) (RobustSimilarity, error) {
	if err := cfg.Validate(); err != nil {
		return RobustSimilarity{}, err
	}
	kernel, err := NewRTSKernel(x1, x2, RTSResidualError{})
	if err != nil {
		return RobustSimilarity{}, err
	}
	res, ok, err := search.Search(ctx, kernel)
	if err != nil {
		return RobustSimilarity{}, errors.Wrap(err, "consensus search failed")
	}
	if !ok {
		return RobustSimilarity{}, ErrNoConsensus
	}
	sim, ok := DecomposeRTS(res.Model)
	if !ok {
		return RobustSimilarity{}, ErrNotSimilarity
	}
	if cfg.Logger != nil {
		cfg.Logger.Debugw("consensus similarity",
			"inliers", len(res.Inliers),
			"samples", kernel.NumSamples(),
			"threshold", res.Threshold,
			"nfa", res.NFA,
		)
	}

	if cfg.Refine && len(res.Inliers) >= kernel.MinimumSamples() {
		refineCfg := cfg.RefineConfig
		if refineCfg.Logger == nil {
			refineCfg.Logger = cfg.Logger
		}
		in1 := numeric.ExtractColumns(x1, res.Inliers)
		in2 := numeric.ExtractColumns(x2, res.Inliers)
		if sim, err = RefineRTS(in1, in2, sim, refineCfg); err != nil {
			return RobustSimilarity{}, err
		}
	}
	return RobustSimilarity{Similarity: sim, Inliers: res.Inliers, Threshold: res.Threshold}, nil
}

// ACRansacFindRTSMatrix is ACRansacFindRTS with the similarity packed as a 4x4 matrix.
func ACRansacFindRTSMatrix(
	ctx context.Context,
	x1, x2 mat.Matrix,
	search robustestimation.ConsensusSearch[*mat.Dense],
	cfg ACRansacConfig,
) (*mat.Dense, []int, error) {
	found, err := ACRansacFindRTS(ctx, x1, x2, search, cfg)
	if err != nil {
		return nil, nil, err
	}
	return ComposeRTS(found.Similarity), found.Inliers, nil
}
