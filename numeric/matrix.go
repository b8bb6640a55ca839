// Package numeric contains the small linear algebra helpers shared by the minimal solvers.
// Point sets are stored column-wise: a D x N *mat.Dense holds N points of dimension D.
package numeric

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShapeMismatch is returned when two point sets do not have the shape a caller requires.
	// It is a caller error and is never recoverable by retrying with the same input.
	ErrShapeMismatch = errors.New("point sets have mismatched or unexpected shapes")

	// ErrSVDFailed is returned when a singular value decomposition does not converge.
	ErrSVDFailed = errors.New("singular value decomposition failed to converge")
)

// CheckPointSets verifies that x1 and x2 are both dim x N with N >= minPoints.
func CheckPointSets(x1, x2 mat.Matrix, dim, minPoints int) error {
	r1, c1 := x1.Dims()
	r2, c2 := x2.Dims()
	switch {
	case r1 != dim || r2 != dim:
		return errors.Wrapf(ErrShapeMismatch, "expected %d rows but got %d and %d", dim, r1, r2)
	case c1 != c2:
		return errors.Wrapf(ErrShapeMismatch, "point sets have %d and %d columns", c1, c2)
	case c1 < minPoints:
		return errors.Wrapf(ErrShapeMismatch, "need at least %d points but got %d", minPoints, c1)
	}
	return nil
}

// ExtractColumns copies the columns of m named by cols, in order, into a new matrix.
func ExtractColumns(m mat.Matrix, cols []int) *mat.Dense {
	rows, _ := m.Dims()
	out := mat.NewDense(rows, len(cols), nil)
	for j, c := range cols {
		for i := 0; i < rows; i++ {
			out.Set(i, j, m.At(i, c))
		}
	}
	return out
}

// NullSpace returns the dim right singular vectors of a associated with its smallest singular
// values, ordered so the last returned vector belongs to the smallest one, together with the
// singular values of a in decreasing order. When a has fewer rows than columns the missing
// singular values are implicitly zero and the corresponding vectors come from the full V.
func NullSpace(a mat.Matrix, dim int) ([]*mat.VecDense, []float64, error) {
	_, c := a.Dims()
	if dim < 1 || dim > c {
		return nil, nil, errors.Errorf("cannot extract a %d dimensional null space from %d columns", dim, c)
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFullV); !ok {
		return nil, nil, ErrSVDFailed
	}
	var v mat.Dense
	svd.VTo(&v)
	basis := make([]*mat.VecDense, 0, dim)
	for j := c - dim; j < c; j++ {
		basis = append(basis, mat.VecDenseCopyOf(v.ColView(j)))
	}
	return basis, svd.Values(nil), nil
}

// Reshape3 lays the nine entries of v out row by row into a 3x3 matrix.
func Reshape3(v mat.Vector) *mat.Dense {
	data := make([]float64, 9)
	for i := range data {
		data[i] = v.AtVec(i)
	}
	return mat.NewDense(3, 3, data)
}

// PointsFromR2 packs image points into a 2 x N point set.
func PointsFromR2(pts []r2.Point) *mat.Dense {
	m := mat.NewDense(2, len(pts), nil)
	for j, p := range pts {
		m.Set(0, j, p.X)
		m.Set(1, j, p.Y)
	}
	return m
}

// PointsFromR3 packs euclidean points into a 3 x N point set.
func PointsFromR3(pts []r3.Vector) *mat.Dense {
	m := mat.NewDense(3, len(pts), nil)
	for j, p := range pts {
		m.Set(0, j, p.X)
		m.Set(1, j, p.Y)
		m.Set(2, j, p.Z)
	}
	return m
}

// ColumnR3 reads column j of a 3 x N point set.
func ColumnR3(m mat.Matrix, j int) r3.Vector {
	return r3.Vector{X: m.At(0, j), Y: m.At(1, j), Z: m.At(2, j)}
}

// Homogeneous returns column j of a 2 x N point set as a homogeneous 3-vector.
func Homogeneous(m mat.Matrix, j int) r3.Vector {
	return r3.Vector{X: m.At(0, j), Y: m.At(1, j), Z: 1}
}

// MulVec3 returns m*v for a 3x3 matrix m.
func MulVec3(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}
