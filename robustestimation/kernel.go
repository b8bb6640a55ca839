package robustestimation

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/robustgeom/numeric"
	"go.viam.com/robustgeom/utils"
)

// Solver fits candidate models of type M to a set of correspondences given as two
// equal-shape point sets. A Solver that finds no model returns an empty slice; a non-nil
// error flags a degenerate or invalid configuration and may come with models that should
// not be trusted.
type Solver[M any] interface {
	MinimumSamples() int
	MaxModels() int
	Solve(x1, x2 *mat.Dense) ([]M, error)
}

// ErrorMetric scores a model against one correspondence. The returned value is a residual,
// not its square.
type ErrorMetric[M any] interface {
	Error(model M, x1, x2 mat.Vector) float64
}

// Kernel is the interface an adaptive-threshold consensus search consumes. Errors are
// squared residuals; UnnormalizeError brings a squared error back to a residual in input units.
type Kernel[M any] interface {
	MinimumSamples() int
	MaxModels() int
	Fit(samples []int) ([]M, error)
	Error(sample int, model M) float64
	Errors(model M, dst []float64) []float64
	NumSamples() int
	Unnormalize(model M) M
	LogAlpha0() float64
	MultError() float64
	UnnormalizeError(val float64) float64
}

// KernelAdaptor composes two point sets with a Solver and an ErrorMetric. It holds private
// copies of the point sets and nothing else, so every method may be called concurrently.
// No normalization is applied to the input: Unnormalize is the identity and both normalizers
// are 3x3 identities.
type KernelAdaptor[M any, S Solver[M], E ErrorMetric[M]] struct {
	x1, x2    *mat.Dense
	solver    S
	metric    E
	logAlpha0 float64
	multError float64
}

// KernelOption configures the a-contrario constants of a KernelAdaptor.
type KernelOption func(*kernelOptions)

type kernelOptions struct {
	logAlpha0 float64
	multError float64
}

// WithLogAlpha0 sets the log10 probability of a random correspondence falling within unit
// error, used by the consensus search to make errors scale invariant.
func WithLogAlpha0(v float64) KernelOption {
	return func(o *kernelOptions) {
		o.logAlpha0 = v
	}
}

// WithMultError sets the exponent multiplier applied to the error in the NFA computation.
func WithMultError(v float64) KernelOption {
	return func(o *kernelOptions) {
		o.multError = v
	}
}

// NewKernelAdaptor builds a kernel over dim x N point sets. N must be at least the solver's
// minimal sample size. The default a-contrario constants are log10(pi) and 1, which suit
// point-to-point errors in 3D.
func NewKernelAdaptor[M any, S Solver[M], E ErrorMetric[M]](
	x1, x2 mat.Matrix,
	dim int,
	solver S,
	metric E,
	opts ...KernelOption,
) (*KernelAdaptor[M, S, E], error) {
	if err := numeric.CheckPointSets(x1, x2, dim, solver.MinimumSamples()); err != nil {
		return nil, err
	}
	o := kernelOptions{logAlpha0: math.Log10(math.Pi), multError: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return &KernelAdaptor[M, S, E]{
		x1:        mat.DenseCopyOf(x1),
		x2:        mat.DenseCopyOf(x2),
		solver:    solver,
		metric:    metric,
		logAlpha0: o.logAlpha0,
		multError: o.multError,
	}, nil
}

// MinimumSamples is the solver's minimal sample size.
func (k *KernelAdaptor[M, S, E]) MinimumSamples() int {
	return k.solver.MinimumSamples()
}

// MaxModels is the largest number of candidates one Fit can return.
func (k *KernelAdaptor[M, S, E]) MaxModels() int {
	return k.solver.MaxModels()
}

// Fit runs the solver on the correspondences named by samples.
func (k *KernelAdaptor[M, S, E]) Fit(samples []int) ([]M, error) {
	if len(samples) < k.MinimumSamples() {
		return nil, errors.Wrapf(numeric.ErrShapeMismatch, "got %d samples, need at least %d", len(samples), k.MinimumSamples())
	}
	n := k.NumSamples()
	for _, s := range samples {
		if s < 0 || s >= n {
			return nil, errors.Wrapf(numeric.ErrShapeMismatch, "sample index %d out of range [0, %d)", s, n)
		}
	}
	return k.solver.Solve(numeric.ExtractColumns(k.x1, samples), numeric.ExtractColumns(k.x2, samples))
}

// Error returns the squared residual of correspondence sample under model.
func (k *KernelAdaptor[M, S, E]) Error(sample int, model M) float64 {
	r := k.metric.Error(model, k.x1.ColView(sample), k.x2.ColView(sample))
	return r * r
}

// Errors writes the squared residual of every correspondence into dst, growing it if needed,
// and returns it.
func (k *KernelAdaptor[M, S, E]) Errors(model M, dst []float64) []float64 {
	n := k.NumSamples()
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = k.Error(i, model)
	}
	return dst
}

// ErrorsParallel is Errors with the correspondences split across worker goroutines.
func (k *KernelAdaptor[M, S, E]) ErrorsParallel(ctx context.Context, model M) ([]float64, error) {
	out := make([]float64, k.NumSamples())
	err := utils.GroupWorkParallel(
		ctx,
		len(out),
		func(int) {},
		func(_, _, _, _ int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(_, workNum int) {
				out[workNum] = k.Error(workNum, model)
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NumSamples is the number of correspondences held by the kernel.
func (k *KernelAdaptor[M, S, E]) NumSamples() int {
	_, c := k.x1.Dims()
	return c
}

// Unnormalize is the identity since inputs are never normalized.
func (k *KernelAdaptor[M, S, E]) Unnormalize(model M) M {
	return model
}

// LogAlpha0 returns the scale invariant log-probability constant.
func (k *KernelAdaptor[M, S, E]) LogAlpha0() float64 {
	return k.logAlpha0
}

// MultError returns the error exponent multiplier.
func (k *KernelAdaptor[M, S, E]) MultError() float64 {
	return k.multError
}

// Normalizer1 is the transform applied to the first point set.
func (k *KernelAdaptor[M, S, E]) Normalizer1() *mat.Dense {
	return identity3()
}

// Normalizer2 is the transform applied to the second point set.
func (k *KernelAdaptor[M, S, E]) Normalizer2() *mat.Dense {
	return identity3()
}

// UnnormalizeError maps a squared error back to a residual.
func (k *KernelAdaptor[M, S, E]) UnnormalizeError(val float64) float64 {
	return math.Sqrt(val)
}

// Points returns copies of the two point sets.
func (k *KernelAdaptor[M, S, E]) Points() (*mat.Dense, *mat.Dense) {
	return mat.DenseCopyOf(k.x1), mat.DenseCopyOf(k.x2)
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
