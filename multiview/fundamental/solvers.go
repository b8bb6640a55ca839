package fundamental

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/numeric"
)

// ErrDegenerateNullSpace reports that the epipolar system of a seven point sample has a null
// space of dimension greater than two. This happens with pure rotation, points on a plane, or
// an image matched against itself. The candidates returned alongside it come from an arbitrary
// two dimensional slice of that null space and should not be trusted.
var ErrDegenerateNullSpace = errors.New("epipolar system null space has dimension greater than two")

// nullSpaceRcond is the singular value ratio below which a direction counts as null.
const nullSpaceRcond = 1e-10

// SevenPoint computes the fundamental matrices compatible with at least seven
// correspondences. With exactly seven the result is exact; with more the two dimensional null
// space is a least squares estimate. Each real root of det(F1 + a*F2) = 0 yields one candidate,
// so one or three matrices come back. If the null space is larger than two dimensional the
// candidates are still returned together with ErrDegenerateNullSpace.
func SevenPoint(x1, x2 *mat.Dense) ([]*mat.Dense, error) {
	if err := numeric.CheckPointSets(x1, x2, 2, 7); err != nil {
		return nil, err
	}
	a, err := EncodeEpipolarEquation(x1, x2, nil)
	if err != nil {
		return nil, err
	}
	basis, values, err := numeric.NullSpace(a, 2)
	if err != nil {
		return nil, err
	}

	f1 := numeric.Reshape3(basis[0])
	f2 := numeric.Reshape3(basis[1])

	var fs []*mat.Dense
	for _, root := range numeric.SolveCubic(detCoefficients(f1, f2)) {
		var f mat.Dense
		f.Scale(root, f2)
		f.Add(f1, &f)
		fs = append(fs, &f)
	}

	// the third smallest singular value belongs to the direction just outside the expected null space
	if values[6] <= nullSpaceRcond*values[0] {
		return fs, ErrDegenerateNullSpace
	}
	return fs, nil
}

// detCoefficients expands det(F1 + a*F2) as a cubic in a, in ascending powers.
func detCoefficients(f1, f2 mat.Matrix) [4]float64 {
	a, b, c := f1.At(0, 0), f1.At(0, 1), f1.At(0, 2)
	d, e, f := f1.At(1, 0), f1.At(1, 1), f1.At(1, 2)
	g, h, i := f1.At(2, 0), f1.At(2, 1), f1.At(2, 2)
	j, k, l := f2.At(0, 0), f2.At(0, 1), f2.At(0, 2)
	m, n, o := f2.At(1, 0), f2.At(1, 1), f2.At(1, 2)
	p, q, r := f2.At(2, 0), f2.At(2, 1), f2.At(2, 2)

	return [4]float64{
		a*e*i + b*f*g + c*d*h - a*f*h - b*d*i - c*e*g,
		a*e*r + a*i*n + b*f*p + b*g*o + c*d*q + c*h*m + d*h*l + e*i*j + f*g*k -
			a*f*q - a*h*o - b*d*r - b*i*m - c*e*p - c*g*n - d*i*k - e*g*l - f*h*j,
		a*n*r + b*o*p + c*m*q + d*l*q + e*j*r + f*k*p + g*k*o + h*l*m + i*j*n -
			a*o*q - b*m*r - c*n*p - d*k*r - e*l*p - f*j*q - g*l*n - h*j*o - i*k*m,
		j*n*r + k*o*p + l*m*q - j*o*q - k*m*r - l*n*p,
	}
}

// EightPoint computes the fundamental matrix from at least eight correspondences as the null
// vector of the (optionally weighted) epipolar system. With more than eight correspondences
// the estimate is projected onto the rank 2 matrices by zeroing its smallest singular value.
// With exactly eight the null vector is returned as is, without that projection.
func EightPoint(x1, x2 *mat.Dense, weights []float64) ([]*mat.Dense, error) {
	if err := numeric.CheckPointSets(x1, x2, 2, 8); err != nil {
		return nil, err
	}
	a, err := EncodeEpipolarEquation(x1, x2, weights)
	if err != nil {
		return nil, err
	}
	basis, _, err := numeric.NullSpace(a, 1)
	if err != nil {
		return nil, err
	}
	f := numeric.Reshape3(basis[0])

	if _, n := x1.Dims(); n > 8 {
		if f, err = enforceRank2(f); err != nil {
			return nil, err
		}
	}
	return []*mat.Dense{f}, nil
}

// SevenPointSolver is the minimal fundamental matrix solver.
type SevenPointSolver struct{}

// MinimumSamples is 7.
func (SevenPointSolver) MinimumSamples() int {
	return 7
}

// MaxModels is 3, one per real root of the singularity cubic.
func (SevenPointSolver) MaxModels() int {
	return 3
}

// Solve runs SevenPoint.
func (SevenPointSolver) Solve(x1, x2 *mat.Dense) ([]*mat.Dense, error) {
	return SevenPoint(x1, x2)
}

// EightPointSolver is the linear fundamental matrix solver.
type EightPointSolver struct{}

// MinimumSamples is 8.
func (EightPointSolver) MinimumSamples() int {
	return 8
}

// MaxModels is 1.
func (EightPointSolver) MaxModels() int {
	return 1
}

// Solve runs EightPoint without weights.
func (EightPointSolver) Solve(x1, x2 *mat.Dense) ([]*mat.Dense, error) {
	return EightPoint(x1, x2, nil)
}
