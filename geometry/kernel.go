package geometry

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/robustestimation"
)

// RTSSolver fits the 4x4 similarity of a sample of 3D correspondences with Umeyama.
type RTSSolver struct{}

// MinimumSamples is 3.
func (RTSSolver) MinimumSamples() int {
	return 3
}

// MaxModels is 1.
func (RTSSolver) MaxModels() int {
	return 1
}

// Solve returns the Umeyama similarity of the sample. A sample without spread yields no
// model and ErrNotSimilarity.
func (RTSSolver) Solve(x1, x2 *mat.Dense) ([]*mat.Dense, error) {
	rts, err := Umeyama(x1, x2)
	if err != nil {
		return nil, err
	}
	return []*mat.Dense{rts}, nil
}

// rtsDelta writes x2 - (A*x1 + t) into dst, where [A t] is the top of the 4x4 rts.
func rtsDelta(dst []float64, rts mat.Matrix, x1, x2 mat.Vector) {
	for i := 0; i < 3; i++ {
		v := rts.At(i, 3)
		for j := 0; j < 3; j++ {
			v += rts.At(i, j) * x1.AtVec(j)
		}
		dst[i] = x2.AtVec(i) - v
	}
}

// RTSResidualError is the euclidean distance between x2 and the transformed x1.
type RTSResidualError struct{}

// Error returns |x2 - (S*R*x1 + t)|.
func (RTSResidualError) Error(rts *mat.Dense, x1, x2 mat.Vector) float64 {
	var d [3]float64
	rtsDelta(d[:], rts, x1, x2)
	return floats.Norm(d[:], 2)
}

// RTSSquaredResidualError is the squared distance between x2 and the transformed x1. Since a
// kernel squares what its metric returns, a kernel built on it scores the fourth power of the
// distance.
type RTSSquaredResidualError struct{}

// Error returns |x2 - (S*R*x1 + t)|^2.
func (RTSSquaredResidualError) Error(rts *mat.Dense, x1, x2 mat.Vector) float64 {
	var d [3]float64
	rtsDelta(d[:], rts, x1, x2)
	return floats.Dot(d[:], d[:])
}

// RTSKernel is a robust estimation kernel over 3D correspondences whose models are 4x4
// similarity matrices.
type RTSKernel[E robustestimation.ErrorMetric[*mat.Dense]] = robustestimation.KernelAdaptor[*mat.Dense, RTSSolver, E]

// NewRTSKernel builds a similarity kernel over 3 x N correspondences, N >= 3. The
// probability of a random point falling within unit distance is taken as pi.
func NewRTSKernel[E robustestimation.ErrorMetric[*mat.Dense]](x1, x2 mat.Matrix, metric E) (*RTSKernel[E], error) {
	return robustestimation.NewKernelAdaptor[*mat.Dense](
		x1, x2, 3, RTSSolver{}, metric,
		robustestimation.WithLogAlpha0(math.Log10(math.Pi)),
		robustestimation.WithMultError(1),
	)
}
