package fit

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"
)

const (
	// lbfgsStore is the L-BFGS history length.
	lbfgsStore = 100
	// gradientThreshold stops a step when the gradient infinity norm falls
	// below it.
	gradientThreshold = 1e-7
	// functionConvergeTol stops a step on an absolute objective plateau.
	functionConvergeTol = 1e-9
)

// evaluator adapts a lossGraph to gonum's Problem callbacks. Minimize asks
// for value and gradient separately at the same point; one machine run
// serves both. Evaluation failures are latched and surfaced through the
// problem's Status hook, which aborts the minimization.
type evaluator struct {
	lg     *lossGraph
	x      []float64
	grad   []float64
	loss   float64
	detail Breakdown
	valid  bool
	err    error
	evals  int
}

func newEvaluator(lg *lossGraph) *evaluator {
	return &evaluator{
		lg:   lg,
		x:    make([]float64, lg.dim()),
		grad: make([]float64, lg.dim()),
	}
}

func (e *evaluator) cached(x []float64) bool {
	if !e.valid || len(x) != len(e.x) {
		return false
	}
	for i, v := range x {
		if e.x[i] != v {
			return false
		}
	}
	return true
}

func (e *evaluator) refresh(x []float64) {
	if e.err != nil || e.cached(x) {
		return
	}
	copy(e.x, x)
	e.loss, e.detail, e.err = e.lg.eval(e.x, e.grad)
	e.evals++
	e.valid = e.err == nil
}

// Func implements optimize.Problem.Func.
func (e *evaluator) Func(x []float64) float64 {
	e.refresh(x)
	if e.err != nil {
		return math.Inf(1)
	}
	return e.loss
}

// Grad implements optimize.Problem.Grad.
func (e *evaluator) Grad(grad, x []float64) {
	e.refresh(x)
	if e.err != nil {
		for i := range grad {
			grad[i] = 0
		}
		return
	}
	copy(grad, e.grad)
}

// Status implements optimize.Problem.Status, turning a latched evaluation
// failure into a terminal optimizer status.
func (e *evaluator) Status() (optimize.Status, error) {
	if e.err != nil {
		return optimize.Failure, e.err
	}
	return optimize.NotTerminated, nil
}

// scaledSearch wraps a line searcher, scaling the initial trial step of
// every search by a constant factor. This is how the configured learning
// rate maps onto L-BFGS: the method proposes unit-scale steps once its
// history is warm, and the factor stretches or shrinks each first trial.
type scaledSearch struct {
	inner optimize.Linesearcher
	scale float64
}

func (s *scaledSearch) Init(value, derivative, step float64) optimize.Operation {
	return s.inner.Init(value, derivative, step*s.scale)
}

func (s *scaledSearch) Iterate(value, derivative float64) (optimize.Operation, float64, error) {
	return s.inner.Iterate(value, derivative)
}

// optimizeBatch minimizes the batch objective in place. x holds the free
// parameters, translation rows followed by free pose rows, and ends at the
// best point found. The configured step count partitions the iteration
// budget into warm-started Minimize calls; after each one the objective is
// re-evaluated at the accepted point and reported.
//
// Hitting the iteration budget is normal termination. Non-finite losses or
// gradients and optimizer failures abort with an error.
func optimizeBatch(lg *lossGraph, cfg Config, x []float64, report func(step, numSteps int, loss float64, detail Breakdown)) (float64, Breakdown, error) {
	if len(x) != lg.dim() {
		return 0, Breakdown{}, errors.Errorf("fit: parameter vector length %d, want %d", len(x), lg.dim())
	}
	ev := newEvaluator(lg)
	problem := optimize.Problem{
		Func:   ev.Func,
		Grad:   ev.Grad,
		Status: ev.Status,
	}

	numSteps := cfg.NumSteps()
	var loss float64
	var detail Breakdown
	for step := 1; step <= numSteps; step++ {
		method := &optimize.LBFGS{
			Store: lbfgsStore,
			Linesearcher: &scaledSearch{
				inner: &optimize.MoreThuente{},
				scale: cfg.LR(),
			},
		}
		settings := &optimize.Settings{
			MajorIterations:   cfg.MaxIter(),
			GradientThreshold: gradientThreshold,
			Converger: &optimize.FunctionConverge{
				Absolute:   functionConvergeTol,
				Iterations: 1,
			},
		}
		res, err := optimize.Minimize(problem, x, settings, method)
		if ev.err != nil {
			return 0, Breakdown{}, errors.Wrapf(ev.err, "fit: optimizer step %d/%d", step, numSteps)
		}
		if err != nil {
			return 0, Breakdown{}, errors.Wrapf(err, "fit: optimizer step %d/%d", step, numSteps)
		}
		copy(x, res.X)

		// One clean evaluation at the accepted point for reporting; the
		// line search may have probed elsewhere last.
		loss, detail, err = lg.eval(x, nil)
		if err != nil {
			return 0, Breakdown{}, errors.Wrapf(err, "fit: optimizer step %d/%d", step, numSteps)
		}
		ev.valid = false
		if report != nil {
			report(step, numSteps, loss, detail)
		}
	}
	return loss, detail, nil
}
