// Package fundamental estimates the fundamental matrix relating two views from point
// correspondences. Image points are 2 x N point sets; a fundamental matrix F is a 3x3
// *mat.Dense satisfying x2' F x1 = 0 for every true correspondence (x1, x2) in homogeneous
// coordinates. No normalization of the input is performed, so callers working in pixels
// should expect worse conditioning than with centered, rescaled coordinates.
package fundamental

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/numeric"
)

// EncodeEpipolarEquation builds the N x 9 system A f = 0 whose rows are the epipolar
// constraint of each correspondence with F laid out row by row in f. When weights is non-nil
// row i is scaled by weights[i].
func EncodeEpipolarEquation(x1, x2 mat.Matrix, weights []float64) (*mat.Dense, error) {
	if err := numeric.CheckPointSets(x1, x2, 2, 1); err != nil {
		return nil, err
	}
	_, n := x1.Dims()
	if weights != nil && len(weights) != n {
		return nil, errors.Wrapf(numeric.ErrShapeMismatch, "got %d weights for %d correspondences", len(weights), n)
	}
	a := mat.NewDense(n, 9, nil)
	for i := 0; i < n; i++ {
		u1, v1 := x1.At(0, i), x1.At(1, i)
		u2, v2 := x2.At(0, i), x2.At(1, i)
		row := []float64{
			u2 * u1, u2 * v1, u2,
			v2 * u1, v2 * v1, v2,
			u1, v1, 1,
		}
		if weights != nil {
			for j := range row {
				row[j] *= weights[i]
			}
		}
		a.SetRow(i, row)
	}
	return a, nil
}

// transposeDense returns a copy of m transposed.
func transposeDense(m mat.Matrix) *mat.Dense {
	return mat.DenseCopyOf(m.T())
}

// enforceRank2 zeroes the smallest singular value of f.
func enforceRank2(f *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(f, mat.SVDFull); !ok {
		return nil, numeric.ErrSVDFailed
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)
	values[2] = 0

	var us, out mat.Dense
	us.Mul(&u, mat.NewDiagDense(3, values))
	out.Mul(&us, transposeDense(&v))
	return &out, nil
}
