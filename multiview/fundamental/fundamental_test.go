package fundamental

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/numeric"
)

// twoViewScene projects n random points seen by two normalized cameras related by a rotation
// about the y axis and a translation, and returns the projections with the essential matrix.
func twoViewScene(t *testing.T, n int, noise float64, seed uint64) (*mat.Dense, *mat.Dense, *mat.Dense) {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 7))
	theta := 0.15
	rot := mat.NewDense(3, 3, []float64{
		math.Cos(theta), 0, math.Sin(theta),
		0, 1, 0,
		-math.Sin(theta), 0, math.Cos(theta),
	})
	trans := r3.Vector{X: 1, Y: 0.2, Z: 0.1}

	pts1 := make([]r2.Point, n)
	pts2 := make([]r2.Point, n)
	for i := range n {
		p := r3.Vector{X: rng.Float64()*4 - 2, Y: rng.Float64()*4 - 2, Z: 4 + rng.Float64()*4}
		q := numeric.MulVec3(rot, p).Add(trans)
		pts1[i] = r2.Point{X: p.X/p.Z + rng.NormFloat64()*noise, Y: p.Y/p.Z + rng.NormFloat64()*noise}
		pts2[i] = r2.Point{X: q.X/q.Z + rng.NormFloat64()*noise, Y: q.Y/q.Z + rng.NormFloat64()*noise}
	}

	skew := mat.NewDense(3, 3, []float64{
		0, -trans.Z, trans.Y,
		trans.Z, 0, -trans.X,
		-trans.Y, trans.X, 0,
	})
	var e mat.Dense
	e.Mul(skew, rot)
	return numeric.PointsFromR2(pts1), numeric.PointsFromR2(pts2), &e
}

// canonical scales f to unit Frobenius norm with a positive largest entry.
func canonical(f mat.Matrix) *mat.Dense {
	out := mat.DenseCopyOf(f)
	norm := mat.Norm(out, 2)
	largest := 0.0
	for i := range 3 {
		for j := range 3 {
			if v := out.At(i, j); math.Abs(v) > math.Abs(largest) {
				largest = v
			}
		}
	}
	out.Scale(math.Copysign(1/norm, largest), out)
	return out
}

func sampsonErrors(f *mat.Dense, x1, x2 *mat.Dense) []float64 {
	_, n := x1.Dims()
	return lo.Times(n, func(i int) float64 {
		return SampsonError{}.Error(f, x1.ColView(i), x2.ColView(i))
	})
}

func TestDetCoefficients(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	f1 := mat.NewDense(3, 3, lo.Times(9, func(int) float64 { return rng.NormFloat64() }))
	f2 := mat.NewDense(3, 3, lo.Times(9, func(int) float64 { return rng.NormFloat64() }))
	c := detCoefficients(f1, f2)
	for _, alpha := range []float64{-2, -0.5, 0, 0.3, 1.7} {
		var f mat.Dense
		f.Scale(alpha, f2)
		f.Add(f1, &f)
		poly := c[0] + c[1]*alpha + c[2]*alpha*alpha + c[3]*alpha*alpha*alpha
		test.That(t, poly, test.ShouldAlmostEqual, mat.Det(&f), 1e-9)
	}
}

func TestSevenPoint(t *testing.T) {
	x1, x2, e := twoViewScene(t, 7, 0, 1)
	fs, err := SevenPoint(x1, x2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(fs), test.ShouldBeIn, []int{1, 3})

	want := canonical(e)
	found := false
	for _, f := range fs {
		test.That(t, mat.Det(canonical(f)), test.ShouldAlmostEqual, 0, 1e-8)
		for _, r := range sampsonErrors(f, x1, x2) {
			test.That(t, r, test.ShouldBeLessThan, 1e-8)
		}
		if mat.EqualApprox(canonical(f), want, 1e-6) {
			found = true
		}
	}
	test.That(t, found, test.ShouldBeTrue)
}

func TestSevenPointOverdetermined(t *testing.T) {
	x1, x2, e := twoViewScene(t, 20, 0, 2)
	fs, err := SevenPoint(x1, x2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lo.ContainsBy(fs, func(f *mat.Dense) bool {
		return mat.EqualApprox(canonical(f), canonical(e), 1e-6)
	}), test.ShouldBeTrue)
}

// homographyScene projects 7 points seen by two cameras related by rot and trans. With no
// translation, or with every point on one plane, the views are related by a homography.
func homographyScene(rot *mat.Dense, trans r3.Vector, planar bool) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(11, 12))
	pts1 := make([]r2.Point, 7)
	pts2 := make([]r2.Point, 7)
	for i := range pts1 {
		p := r3.Vector{X: rng.Float64()*4 - 2, Y: rng.Float64()*4 - 2, Z: 4 + rng.Float64()*4}
		if planar {
			p.Z = 5 + 0.3*p.X - 0.2*p.Y
		}
		q := numeric.MulVec3(rot, p).Add(trans)
		pts1[i] = r2.Point{X: p.X / p.Z, Y: p.Y / p.Z}
		pts2[i] = r2.Point{X: q.X / q.Z, Y: q.Y / q.Z}
	}
	return numeric.PointsFromR2(pts1), numeric.PointsFromR2(pts2)
}

func TestSevenPointDegenerate(t *testing.T) {
	theta := 0.2
	rot := mat.NewDense(3, 3, []float64{
		math.Cos(theta), -math.Sin(theta), 0,
		math.Sin(theta), math.Cos(theta), 0,
		0, 0, 1,
	})
	self, _, _ := twoViewScene(t, 7, 0, 3)
	rotX1, rotX2 := homographyScene(rot, r3.Vector{}, false)
	planeX1, planeX2 := homographyScene(rot, r3.Vector{X: 0.5, Y: -0.3, Z: 0.2}, true)

	for _, tc := range []struct {
		name   string
		x1, x2 *mat.Dense
	}{
		{"same image", self, mat.DenseCopyOf(self)},
		{"pure rotation", rotX1, rotX2},
		{"coplanar points", planeX1, planeX2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			// a homography between the views leaves a null space of dimension three
			fs, err := SevenPoint(tc.x1, tc.x2)
			test.That(t, errors.Is(err, ErrDegenerateNullSpace), test.ShouldBeTrue)
			test.That(t, len(fs), test.ShouldBeLessThanOrEqualTo, 3)
		})
	}
}

func TestEightPoint(t *testing.T) {
	x1, x2, e := twoViewScene(t, 8, 0, 4)
	fs, err := EightPoint(x1, x2, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fs, test.ShouldHaveLength, 1)
	test.That(t, mat.EqualApprox(canonical(fs[0]), canonical(e), 1e-6), test.ShouldBeTrue)
	for _, r := range sampsonErrors(fs[0], x1, x2) {
		test.That(t, r, test.ShouldBeLessThan, 1e-8)
	}

	weights := lo.Times(8, func(i int) float64 { return 1 + float64(i) })
	weighted, err := EightPoint(x1, x2, weights)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.EqualApprox(canonical(weighted[0]), canonical(e), 1e-6), test.ShouldBeTrue)
}

func TestEightPointNoisy(t *testing.T) {
	x1, x2, _ := twoViewScene(t, 60, 1e-4, 5)
	fs, err := EightPoint(x1, x2, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fs, test.ShouldHaveLength, 1)

	var svd mat.SVD
	test.That(t, svd.Factorize(fs[0], mat.SVDNone), test.ShouldBeTrue)
	values := svd.Values(nil)
	test.That(t, values[2]/values[0], test.ShouldBeLessThan, 1e-12)

	median, err := stats.Median(sampsonErrors(fs[0], x1, x2))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, median, test.ShouldBeLessThan, 1e-3)
}

func TestSolverShapes(t *testing.T) {
	x1, x2, _ := twoViewScene(t, 7, 0, 6)
	_, err := EightPoint(x1, x2, nil)
	test.That(t, errors.Is(err, numeric.ErrShapeMismatch), test.ShouldBeTrue)

	_, err = SevenPoint(x1, mat.NewDense(2, 6, nil))
	test.That(t, errors.Is(err, numeric.ErrShapeMismatch), test.ShouldBeTrue)

	_, err = SevenPoint(mat.NewDense(3, 7, nil), mat.NewDense(3, 7, nil))
	test.That(t, errors.Is(err, numeric.ErrShapeMismatch), test.ShouldBeTrue)

	x1, x2, _ = twoViewScene(t, 8, 0, 6)
	_, err = EightPoint(x1, x2, []float64{1, 2})
	test.That(t, errors.Is(err, numeric.ErrShapeMismatch), test.ShouldBeTrue)

	test.That(t, SevenPointSolver{}.MinimumSamples(), test.ShouldEqual, 7)
	test.That(t, SevenPointSolver{}.MaxModels(), test.ShouldEqual, 3)
	test.That(t, EightPointSolver{}.MinimumSamples(), test.ShouldEqual, 8)
	test.That(t, EightPointSolver{}.MaxModels(), test.ShouldEqual, 1)
}

func TestErrorMetrics(t *testing.T) {
	// pure translation along x: epipolar lines are the horizontal lines y = y1
	f := mat.NewDense(3, 3, []float64{0, 0, 0, 0, 0, -1, 0, 1, 0})
	x1 := mat.NewVecDense(2, []float64{0, 0})
	x2 := mat.NewVecDense(2, []float64{3, 0.5})

	test.That(t, EpipolarDistanceError{}.Error(f, x1, x2), test.ShouldAlmostEqual, 0.5)
	test.That(t, SymmetricEpipolarDistanceError{}.Error(f, x1, x2), test.ShouldAlmostEqual, 0.5*math.Sqrt2)
	test.That(t, SampsonError{}.Error(f, x1, x2), test.ShouldAlmostEqual, 0.5/math.Sqrt2)

	onLine := mat.NewVecDense(2, []float64{-7, 0})
	test.That(t, EpipolarDistanceError{}.Error(f, x1, onLine), test.ShouldAlmostEqual, 0)
	test.That(t, SampsonError{}.Error(f, x1, onLine), test.ShouldAlmostEqual, 0)

	zero := mat.NewDense(3, 3, nil)
	test.That(t, math.IsInf(SampsonError{}.Error(zero, x1, x2), 1), test.ShouldBeTrue)
}

func TestKernel(t *testing.T) {
	x1, x2, e := twoViewScene(t, 30, 0, 8)
	kernel, err := NewKernel(x1, x2, 640, 480, EightPointSolver{}, SampsonError{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kernel.LogAlpha0(), test.ShouldAlmostEqual, math.Log10(2*800.0/(640*480)))
	test.That(t, kernel.MultError(), test.ShouldEqual, 0.5)
	test.That(t, kernel.MinimumSamples(), test.ShouldEqual, 8)
	test.That(t, kernel.NumSamples(), test.ShouldEqual, 30)

	models, err := kernel.Fit([]int{0, 3, 5, 7, 11, 13, 17, 19})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, models, test.ShouldHaveLength, 1)
	test.That(t, mat.EqualApprox(canonical(models[0]), canonical(e), 1e-6), test.ShouldBeTrue)
	for _, sq := range kernel.Errors(models[0], nil) {
		test.That(t, kernel.UnnormalizeError(sq), test.ShouldBeLessThan, 1e-8)
	}

	_, err = NewKernel(x1, x2, 0, 480, SevenPointSolver{}, EpipolarDistanceError{})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewKernel(x1.Slice(0, 2, 0, 5), x2.Slice(0, 2, 0, 5), 640, 480, EightPointSolver{}, SampsonError{})
	test.That(t, errors.Is(err, numeric.ErrShapeMismatch), test.ShouldBeTrue)
}
