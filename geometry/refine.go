package geometry

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/robustgeom/logging"
	"go.viam.com/robustgeom/numeric"
)

// ResidualFunc writes the residual vector at params into dst.
type ResidualFunc func(dst, params []float64)

// LeastSquaresSolver minimizes the sum of squared residuals starting from initial. It must
// not return parameters with a higher cost than initial.
type LeastSquaresSolver interface {
	Minimize(residuals ResidualFunc, numResiduals int, initial []float64) ([]float64, error)
}

// GradientSolver minimizes with a gonum quasi-Newton method, differentiating the residuals
// numerically.
type GradientSolver struct {
	MaxIterations     int
	GradientThreshold float64
}

// Minimize implements LeastSquaresSolver.
func (s GradientSolver) Minimize(residuals ResidualFunc, numResiduals int, initial []float64) ([]float64, error) {
	cost := func(x []float64) float64 {
		r := make([]float64, numResiduals)
		residuals(r, x)
		return floats.Dot(r, r)
	}
	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			jac := mat.NewDense(numResiduals, len(x), nil)
			fd.Jacobian(jac, residuals, x, &fd.JacobianSettings{Formula: fd.Central})
			r := make([]float64, numResiduals)
			residuals(r, x)
			g := mat.NewVecDense(len(grad), grad)
			g.MulVec(jac.T(), mat.NewVecDense(numResiduals, r))
			g.ScaleVec(2, g)
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   s.MaxIterations,
		GradientThreshold: s.GradientThreshold,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-14, Relative: 1e-12, Iterations: 20},
	}

	initialCost := cost(initial)
	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if result != nil && result.F <= initialCost {
		// iteration limits and line search failures still leave a usable improvement
		return result.X, nil
	}
	if err != nil {
		return initial, errors.Wrap(err, "least squares minimization failed")
	}
	return initial, nil
}

// RefineConfig controls the nonlinear refinement of a similarity.
type RefineConfig struct {
	// MaxIterations bounds the optimizer's major iterations. Zero means no bound.
	MaxIterations int
	// GradientThreshold stops the optimizer once the gradient's infinity norm drops below it.
	GradientThreshold float64
	// Logger receives one debug line per refinement pass. Nil disables logging.
	Logger logging.Logger
	// Solver overrides the default GradientSolver built from the fields above.
	Solver LeastSquaresSolver
}

// DefaultRefineConfig returns the configuration used when none is given.
func DefaultRefineConfig() RefineConfig {
	return RefineConfig{MaxIterations: 200, GradientThreshold: 1e-10}
}

// Validate ensures all parts of the config are valid.
func (cfg RefineConfig) Validate() error {
	var err error
	if cfg.MaxIterations < 0 {
		err = multierr.Append(err, errors.Errorf("max iterations must be non-negative, got %d", cfg.MaxIterations))
	}
	if cfg.GradientThreshold < 0 {
		err = multierr.Append(err, errors.Errorf("gradient threshold must be non-negative, got %g", cfg.GradientThreshold))
	}
	return err
}

func (cfg RefineConfig) solver() LeastSquaresSolver {
	if cfg.Solver != nil {
		return cfg.Solver
	}
	return GradientSolver{MaxIterations: cfg.MaxIterations, GradientThreshold: cfg.GradientThreshold}
}

func (cfg RefineConfig) debugw(msg string, keysAndValues ...interface{}) {
	if cfg.Logger != nil {
		cfg.Logger.Debugw(msg, keysAndValues...)
	}
}

// RotationFromVector converts a rotation vector, the axis scaled by the angle in radians, to
// a rotation matrix.
func RotationFromVector(v r3.Vector) *mat.Dense {
	q := quat.Exp(quat.Number{Imag: v.X / 2, Jmag: v.Y / 2, Kmag: v.Z / 2})
	return rotationFromQuat(q)
}

// rotationFromQuat expands a unit quaternion into its rotation matrix.
func rotationFromQuat(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// perturbed applies parameter deltas to sim. params is either [tx ty tz rx ry rz ds] or, for
// rotation only, [rx ry rz]. The rotation delta is applied on the right: R' = R * exp(r).
func perturbed(sim Similarity, params []float64) Similarity {
	var rot []float64
	out := sim
	switch len(params) {
	case 7:
		out.Translation = sim.Translation.Add(r3.Vector{X: params[0], Y: params[1], Z: params[2]})
		out.Scale = sim.Scale + params[6]
		rot = params[3:6]
	case 3:
		rot = params
	default:
		panic(errors.Errorf("cannot perturb a similarity with %d parameters", len(params)))
	}
	var r mat.Dense
	r.Mul(sim.Rotation, RotationFromVector(r3.Vector{X: rot[0], Y: rot[1], Z: rot[2]}))
	out.Rotation = &r
	return out
}

// similarityResiduals returns the residuals S'*R'*x1 + t' - x2 of every correspondence under
// the perturbed similarity, three per point.
func similarityResiduals(sim Similarity, x1, x2 mat.Matrix) (ResidualFunc, int) {
	_, n := x1.Dims()
	return func(dst, params []float64) {
		p := perturbed(sim, params)
		for j := 0; j < n; j++ {
			d := p.Apply(numeric.ColumnR3(x1, j)).Sub(numeric.ColumnR3(x2, j))
			dst[3*j], dst[3*j+1], dst[3*j+2] = d.X, d.Y, d.Z
		}
	}, 3 * n
}

func refine(x1, x2 mat.Matrix, sim Similarity, numParams int, cfg RefineConfig) (Similarity, error) {
	if err := numeric.CheckPointSets(x1, x2, 3, 1); err != nil {
		return sim, err
	}
	if err := cfg.Validate(); err != nil {
		return sim, err
	}
	residuals, m := similarityResiduals(sim, x1, x2)
	initial := make([]float64, numParams)
	params, err := cfg.solver().Minimize(residuals, m, initial)
	if err != nil {
		return sim, err
	}
	refined := perturbed(sim, params)

	if cfg.Logger != nil {
		before := make([]float64, m)
		after := make([]float64, m)
		residuals(before, initial)
		residuals(after, params)
		cfg.debugw("refined similarity",
			"params", numParams,
			"cost_before", floats.Dot(before, before),
			"cost_after", floats.Dot(after, after),
		)
	}
	return refined, nil
}

// RefineRTS polishes sim over all correspondences of the 3 x N point sets, first adjusting
// scale, rotation and translation together and then the rotation alone.
func RefineRTS(x1, x2 mat.Matrix, sim Similarity, cfg RefineConfig) (Similarity, error) {
	refined, err := refine(x1, x2, sim, 7, cfg)
	if err != nil {
		return sim, err
	}
	return refine(x1, x2, refined, 3, cfg)
}

// RefineRotation polishes only the rotation of sim, keeping its scale and translation.
func RefineRotation(x1, x2 mat.Matrix, sim Similarity, cfg RefineConfig) (Similarity, error) {
	return refine(x1, x2, sim, 3, cfg)
}
