package fundamental

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/numeric"
)

// epipolarTerms returns x2' F x1 together with the epipolar lines F x1 (in image 2) and
// F' x2 (in image 1).
func epipolarTerms(f mat.Matrix, x1, x2 mat.Vector) (float64, r3.Vector, r3.Vector) {
	p1 := r3.Vector{X: x1.AtVec(0), Y: x1.AtVec(1), Z: 1}
	p2 := r3.Vector{X: x2.AtVec(0), Y: x2.AtVec(1), Z: 1}
	line2 := numeric.MulVec3(f, p1)
	line1 := numeric.MulVec3(f.T(), p2)
	return p2.Dot(line2), line1, line2
}

// SampsonError is the first order approximation of the geometric reprojection error.
type SampsonError struct{}

// Error returns the Sampson distance of the correspondence.
func (SampsonError) Error(f *mat.Dense, x1, x2 mat.Vector) float64 {
	alg, line1, line2 := epipolarTerms(f, x1, x2)
	denom := line2.X*line2.X + line2.Y*line2.Y + line1.X*line1.X + line1.Y*line1.Y
	if denom == 0 {
		return math.Inf(1)
	}
	return math.Abs(alg) / math.Sqrt(denom)
}

// EpipolarDistanceError is the distance from x2 to the epipolar line F x1.
type EpipolarDistanceError struct{}

// Error returns the point to line distance in the second image.
func (EpipolarDistanceError) Error(f *mat.Dense, x1, x2 mat.Vector) float64 {
	alg, _, line2 := epipolarTerms(f, x1, x2)
	norm := math.Hypot(line2.X, line2.Y)
	if norm == 0 {
		return math.Inf(1)
	}
	return math.Abs(alg) / norm
}

// SymmetricEpipolarDistanceError combines the point to line distances in both images.
type SymmetricEpipolarDistanceError struct{}

// Error returns sqrt(d1^2 + d2^2) where d1 is the distance from x1 to F' x2 and d2 the
// distance from x2 to F x1.
func (SymmetricEpipolarDistanceError) Error(f *mat.Dense, x1, x2 mat.Vector) float64 {
	alg, line1, line2 := epipolarTerms(f, x1, x2)
	n1 := line1.X*line1.X + line1.Y*line1.Y
	n2 := line2.X*line2.X + line2.Y*line2.Y
	if n1 == 0 || n2 == 0 {
		return math.Inf(1)
	}
	return math.Abs(alg) * math.Sqrt(1/n1+1/n2)
}
