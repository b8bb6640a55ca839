// Package geometry estimates 3D similarity transforms x2 = S*R*x1 + t between corresponding
// point sets, both in closed form over all points and robustly through a consensus search.
package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/numeric"
)

// ErrNotSimilarity is returned when a matrix or a point configuration does not describe a
// proper similarity: the linear block is a reflection, its scale vanishes, or the source
// points have no spread.
var ErrNotSimilarity = errors.New("transform is not a proper similarity")

// Similarity is a uniform scale followed by a rotation and a translation.
type Similarity struct {
	Scale       float64
	Rotation    *mat.Dense
	Translation r3.Vector
}

// IdentitySimilarity returns the transform that maps every point to itself.
func IdentitySimilarity() Similarity {
	return Similarity{Scale: 1, Rotation: eye(3), Translation: r3.Vector{}}
}

// Apply maps p through the similarity.
func (s Similarity) Apply(p r3.Vector) r3.Vector {
	return numeric.MulVec3(s.Rotation, p).Mul(s.Scale).Add(s.Translation)
}

// String prints a table with the scale, the rows of the rotation and the translation.
func (s Similarity) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Scale", "Rotation", "Translation"})
	translation := []float64{s.Translation.X, s.Translation.Y, s.Translation.Z}
	for i := 0; i < 3; i++ {
		scale := ""
		if i == 0 {
			scale = fmt.Sprintf("%.6g", s.Scale)
		}
		rotation := ""
		if s.Rotation != nil {
			rotation = fmt.Sprintf("% .6f % .6f % .6f", s.Rotation.At(i, 0), s.Rotation.At(i, 1), s.Rotation.At(i, 2))
		}
		t.AppendRow(table.Row{scale, rotation, fmt.Sprintf("% .6f", translation[i])})
	}
	return t.Render()
}

// ApplyAll maps every column of a 3 x N point set.
func (s Similarity) ApplyAll(pts mat.Matrix) *mat.Dense {
	_, n := pts.Dims()
	out := mat.NewDense(3, n, nil)
	for j := 0; j < n; j++ {
		q := s.Apply(numeric.ColumnR3(pts, j))
		out.Set(0, j, q.X)
		out.Set(1, j, q.Y)
		out.Set(2, j, q.Z)
	}
	return out
}

// ComposeRTS packs a similarity into the 4x4 homogeneous matrix [S*R t; 0 1].
func ComposeRTS(s Similarity) *mat.Dense {
	out := eye(4)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, s.Scale*s.Rotation.At(i, j))
		}
	}
	out.Set(0, 3, s.Translation.X)
	out.Set(1, 3, s.Translation.Y)
	out.Set(2, 3, s.Translation.Z)
	return out
}

// DecomposeRTS recovers the similarity packed in a 4x4 matrix. It reports false when the
// top-left block has a negative determinant or its scale, the cube root of that determinant,
// is below machine epsilon.
func DecomposeRTS(rts mat.Matrix) (Similarity, bool) {
	if r, c := rts.Dims(); r < 3 || c < 4 {
		return Similarity{}, false
	}
	block := mat.NewDense(3, 3, nil)
	block.Copy(rts)
	det := mat.Det(block)
	if det < 0 {
		return Similarity{}, false
	}
	scale := math.Cbrt(det)
	if scale < epsilon {
		return Similarity{}, false
	}
	block.Scale(1/scale, block)
	return Similarity{
		Scale:       scale,
		Rotation:    block,
		Translation: r3.Vector{X: rts.At(0, 3), Y: rts.At(1, 3), Z: rts.At(2, 3)},
	}, true
}

// epsilon is the spacing of float64 values around 1.
var epsilon = math.Nextafter(1, 2) - 1

// Umeyama returns the 4x4 similarity minimizing the summed squared distance between x2 and
// the transformed x1, following Umeyama's closed form least squares solution.
func Umeyama(x1, x2 mat.Matrix) (*mat.Dense, error) {
	if err := numeric.CheckPointSets(x1, x2, 3, 1); err != nil {
		return nil, err
	}
	_, n := x1.Dims()
	src := mat.DenseCopyOf(x1)
	dst := mat.DenseCopyOf(x2)
	meanSrc := demean(src)
	meanDst := demean(dst)

	varSrc := mat.Norm(src, 2)
	varSrc = varSrc * varSrc / float64(n)
	if varSrc < epsilon {
		return nil, errors.Wrap(ErrNotSimilarity, "source points have no spread")
	}

	var sigma mat.Dense
	sigma.Mul(dst, src.T())
	sigma.Scale(1/float64(n), &sigma)

	var svd mat.SVD
	if ok := svd.Factorize(&sigma, mat.SVDFull); !ok {
		return nil, numeric.ErrSVDFailed
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	d := svd.Values(nil)

	signs := []float64{1, 1, 1}
	if mat.Det(&u)*mat.Det(&v) < 0 {
		signs[2] = -1
	}
	var us, rot mat.Dense
	us.Mul(&u, mat.NewDiagDense(3, signs))
	rot.Mul(&us, v.T())

	scale := (d[0]*signs[0] + d[1]*signs[1] + d[2]*signs[2]) / varSrc
	sim := Similarity{Scale: scale, Rotation: &rot}
	sim.Translation = meanDst.Sub(numeric.MulVec3(&rot, meanSrc).Mul(scale))
	return ComposeRTS(sim), nil
}

// FindRTS computes the least squares similarity mapping x1 onto x2, both 3 x N with N >= 3.
func FindRTS(x1, x2 mat.Matrix) (Similarity, error) {
	if err := numeric.CheckPointSets(x1, x2, 3, 3); err != nil {
		return Similarity{}, err
	}
	rts, err := Umeyama(x1, x2)
	if err != nil {
		return Similarity{}, err
	}
	sim, ok := DecomposeRTS(rts)
	if !ok {
		return Similarity{}, ErrNotSimilarity
	}
	return sim, nil
}

// demean subtracts the centroid from every column of pts and returns it.
func demean(pts *mat.Dense) r3.Vector {
	_, n := pts.Dims()
	var mean r3.Vector
	for j := 0; j < n; j++ {
		mean = mean.Add(numeric.ColumnR3(pts, j))
	}
	mean = mean.Mul(1 / float64(n))
	for j := 0; j < n; j++ {
		pts.Set(0, j, pts.At(0, j)-mean.X)
		pts.Set(1, j, pts.At(1, j)-mean.Y)
		pts.Set(2, j, pts.At(2, j)-mean.Z)
	}
	return mean
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
