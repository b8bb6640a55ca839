package fundamental

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/robustestimation"
)

// epipolarMultError reflects that a point to line error is one dimensional.
const epipolarMultError = 0.5

// Kernel is a robust estimation kernel over 2D correspondences whose models are fundamental
// matrices.
type Kernel[S robustestimation.Solver[*mat.Dense], E robustestimation.ErrorMetric[*mat.Dense]] = robustestimation.KernelAdaptor[*mat.Dense, S, E]

// NewKernel builds a fundamental matrix kernel over 2 x N correspondences taken from images of
// the given size in pixels. The probability that a random point falls within unit distance of
// an epipolar line is about 2*D/A, with D the image diagonal and A its area.
func NewKernel[S robustestimation.Solver[*mat.Dense], E robustestimation.ErrorMetric[*mat.Dense]](
	x1, x2 mat.Matrix,
	width, height int,
	solver S,
	metric E,
) (*Kernel[S, E], error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("image size must be positive, got %dx%d", width, height)
	}
	w, h := float64(width), float64(height)
	logAlpha0 := math.Log10(2 * math.Hypot(w, h) / (w * h))
	return robustestimation.NewKernelAdaptor[*mat.Dense](
		x1, x2, 2, solver, metric,
		robustestimation.WithLogAlpha0(logAlpha0),
		robustestimation.WithMultError(epipolarMultError),
	)
}
