package geometry

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/logging"
)

func cost(sim Similarity, x1, x2 *mat.Dense) float64 {
	return lo.SumBy(residuals(sim, x1, x2), func(v float64) float64 { return v * v })
}

// offTruth is the ground truth with every parameter nudged.
func offTruth() Similarity {
	sim := groundTruth()
	var rot mat.Dense
	rot.Mul(sim.Rotation, RotationFromVector(r3.Vector{X: 0.02, Y: -0.01, Z: 0.03}))
	return Similarity{Scale: sim.Scale * 1.03, Rotation: &rot, Translation: sim.Translation.Add(r3.Vector{X: 0.1, Y: -0.05, Z: 0.2})}
}

func TestRefineRTS(t *testing.T) {
	x1, x2 := similarScene(groundTruth(), 100, 0.01, 2)
	start := offTruth()

	logger, observed := logging.NewObservedTestLogger(t)
	cfg := DefaultRefineConfig()
	cfg.Logger = logger
	refined, err := RefineRTS(x1, x2, start, cfg)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cost(refined, x1, x2), test.ShouldBeLessThan, cost(start, x1, x2))
	test.That(t, refined.Scale, test.ShouldAlmostEqual, groundTruth().Scale, 1e-2)
	test.That(t, refined.Translation.Sub(groundTruth().Translation).Norm(), test.ShouldBeLessThan, 0.05)
	test.That(t, mat.Det(refined.Rotation), test.ShouldAlmostEqual, 1, 1e-9)

	// full pass then rotation only pass
	test.That(t, observed.FilterMessage("refined similarity").Len(), test.ShouldEqual, 2)

	// refining the least squares optimum cannot make it worse
	fit, err := FindRTS(x1, x2)
	test.That(t, err, test.ShouldBeNil)
	polished, err := RefineRTS(x1, x2, fit, DefaultRefineConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cost(polished, x1, x2), test.ShouldBeLessThanOrEqualTo, cost(fit, x1, x2)+1e-9)
}

func TestRefineRotation(t *testing.T) {
	truth := groundTruth()
	x1, x2 := similarScene(truth, 60, 0, 3)
	start := truth
	var rot mat.Dense
	rot.Mul(truth.Rotation, RotationFromVector(r3.Vector{X: 0.05, Y: 0.02, Z: -0.04}))
	start.Rotation = &rot

	refined, err := RefineRotation(x1, x2, start, DefaultRefineConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, refined.Scale, test.ShouldEqual, start.Scale)
	test.That(t, refined.Translation, test.ShouldResemble, start.Translation)
	test.That(t, mat.EqualApprox(refined.Rotation, truth.Rotation, 1e-4), test.ShouldBeTrue)
}

type failingSolver struct{}

func (failingSolver) Minimize(ResidualFunc, int, []float64) ([]float64, error) {
	return nil, errors.New("no progress")
}

type recordingSolver struct {
	numResiduals []int
	numParams    []int
}

func (s *recordingSolver) Minimize(residuals ResidualFunc, numResiduals int, initial []float64) ([]float64, error) {
	s.numResiduals = append(s.numResiduals, numResiduals)
	s.numParams = append(s.numParams, len(initial))
	r := make([]float64, numResiduals)
	residuals(r, initial)
	return initial, nil
}

func TestRefineSolverInjection(t *testing.T) {
	x1, x2 := similarScene(groundTruth(), 10, 0, 4)
	start := offTruth()

	recorder := &recordingSolver{}
	refined, err := RefineRTS(x1, x2, start, RefineConfig{Solver: recorder})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Equal(recorder.numResiduals, []int{30, 30}), test.ShouldBeTrue)
	test.That(t, cmp.Equal(recorder.numParams, []int{7, 3}), test.ShouldBeTrue)
	test.That(t, refined.Scale, test.ShouldEqual, start.Scale)
	test.That(t, mat.EqualApprox(refined.Rotation, start.Rotation, 1e-15), test.ShouldBeTrue)

	_, err = RefineRTS(x1, x2, start, RefineConfig{Solver: failingSolver{}})
	test.That(t, err, test.ShouldBeError, errors.New("no progress"))
}

func TestRefineConfigValidate(t *testing.T) {
	test.That(t, DefaultRefineConfig().Validate(), test.ShouldBeNil)

	err := RefineConfig{MaxIterations: -1, GradientThreshold: -1}.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, multierr.Errors(err), test.ShouldHaveLength, 2)

	x1, x2 := similarScene(groundTruth(), 5, 0, 5)
	_, err = RefineRTS(x1, x2, groundTruth(), RefineConfig{MaxIterations: -3})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGradientSolver(t *testing.T) {
	// residuals of the Rosenbrock function
	rosenbrock := func(dst, x []float64) {
		dst[0] = 1 - x[0]
		dst[1] = 10 * (x[1] - x[0]*x[0])
	}
	x, err := GradientSolver{MaxIterations: 500}.Minimize(rosenbrock, 2, []float64{-1.2, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, x[0], test.ShouldAlmostEqual, 1, 1e-4)
	test.That(t, x[1], test.ShouldAlmostEqual, 1, 1e-4)

	// already optimal
	x, err = GradientSolver{}.Minimize(rosenbrock, 2, []float64{1, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(x[0]-1)+math.Abs(x[1]-1), test.ShouldBeLessThan, 1e-9)
}
