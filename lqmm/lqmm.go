// Package lqmm fits linear quantile mixed models: regression models for a
// conditional quantile of a longitudinal outcome, with fixed effects and a
// per-group random intercept and slope.  The likelihood treats the residuals
// as asymmetric Laplace and integrates the random effects out with
// Gauss-Hermite quadrature; estimation is by BFGS.
package lqmm

import (
	"fmt"
	"log"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"quantmix/statmodel"
)

// LQMMParams contains a parameter value for a linear quantile mixed model.
// The layout is the fixed-effects coefficients, followed by the covariance
// structure parameters, followed by the log residual scale.
type LQMMParams struct {
	coeff []float64
}

// GetCoeff returns the full parameter vector.
func (p *LQMMParams) GetCoeff() []float64 {
	return p.coeff
}

// SetCoeff sets the full parameter vector.
func (p *LQMMParams) SetCoeff(x []float64) {
	p.coeff = x
}

// Clone returns a deep copy of the parameter value.
func (p *LQMMParams) Clone() statmodel.Parameter {
	q := make([]float64, len(p.coeff))
	copy(q, p.coeff)
	return &LQMMParams{q}
}

// LQMM describes a linear quantile mixed model to be fit at one quantile
// level.
type LQMM struct {

	// The names of the variables, ordered as in 'data'.
	varnames []string

	// The data to which the model is fit
	data [][]statmodel.Dtype

	// The quantile level being estimated
	tau float64

	// Position of the outcome variable
	ypos int

	// Positions of the covariates
	xpos []int

	// Position of the random-slope variable
	slopepos int

	// Row indices belonging to each group
	groups [][]int

	// The random-effects covariance parameterization
	covstruct CovStruct

	// Gauss-Hermite node locations and log-weights (normal expectation
	// form, one dimension)
	ghx    []float64
	ghlogw []float64

	// Starting values, optional
	start []float64

	// Standard deviation of the perturbation applied to the starting
	// point, with its random source
	jitter float64
	src    rand.Source

	// Optimization settings
	optsettings *optimize.Settings

	// Optimization method
	optmethod optimize.Method

	log *log.Logger
}

// LQMMConfig defines configuration parameters for a linear quantile mixed
// model.
type LQMMConfig struct {

	// CovStruct selects the random-effects covariance parameterization.
	CovStruct CovStruct

	// QuadPoints is the number of Gauss-Hermite quadrature points per
	// random-effect dimension.
	QuadPoints int

	// MaxIter caps the number of iterations of the optimizer.
	MaxIter int

	// LoglikTol is the absolute function convergence tolerance.
	LoglikTol float64

	// Start contains starting values for the full parameter vector.
	Start []float64

	// StartJitter is the standard deviation of a normal perturbation
	// applied to the starting point of each fit.  Zero disables the
	// perturbation.  Repeated fits of the same specification differ only
	// through this perturbation of the solver path.
	StartJitter float64

	// Src is the random source for the start perturbation.  If nil, an
	// unseeded source is used.
	Src rand.Source

	// Log receives fitting messages, if not nil.
	Log *log.Logger

	// OptMethod is the Gonum optimization method used to fit the model.
	OptMethod optimize.Method

	// OptSettings configures the Gonum optimization routine.
	OptSettings *optimize.Settings
}

// DefaultLQMMConfig returns a default configuration for a linear quantile
// mixed model.
func DefaultLQMMConfig() *LQMMConfig {

	return &LQMMConfig{
		CovStruct:  Diagonal,
		QuadPoints: 7,
		MaxIter:    500,
		LoglikTol:  1e-6,
		OptMethod: &optimize.BFGS{
			Linesearcher: &optimize.MoreThuente{},
		},
	}
}

// NewLQMM returns an LQMM value for estimating the tau'th conditional
// quantile of the outcome from the given covariates, with a random intercept
// and a random slope on slopevar, grouped by groupvar.  The covariates must
// include an explicit intercept column if one is wanted.
func NewLQMM(data statmodel.Dataset, outcome string, predictors []string, groupvar, slopevar string, tau float64, config *LQMMConfig) (*LQMM, error) {

	if config == nil {
		config = DefaultLQMMConfig()
	}
	if tau <= 0 || tau >= 1 {
		return nil, fmt.Errorf("quantile level %v is outside (0, 1)", tau)
	}

	ypos := data.Pos(outcome)
	if ypos == -1 {
		return nil, fmt.Errorf("outcome variable '%s' not found in dataset", outcome)
	}

	var xpos []int
	for _, xna := range predictors {
		xp := data.Pos(xna)
		if xp == -1 {
			return nil, fmt.Errorf("predictor '%s' not found in dataset", xna)
		}
		xpos = append(xpos, xp)
	}

	slopepos := data.Pos(slopevar)
	if slopepos == -1 {
		return nil, fmt.Errorf("random-slope variable '%s' not found in dataset", slopevar)
	}

	groups, err := statmodel.GroupIndex(data, groupvar)
	if err != nil {
		return nil, err
	}

	nq := config.QuadPoints
	if nq <= 0 {
		nq = 7
	}

	lq := &LQMM{
		varnames:    data.Names(),
		data:        data.Data(),
		tau:         tau,
		ypos:        ypos,
		xpos:        xpos,
		slopepos:    slopepos,
		groups:      groups,
		covstruct:   config.CovStruct,
		start:       config.Start,
		jitter:      config.StartJitter,
		src:         config.Src,
		log:         config.Log,
		optsettings: config.OptSettings,
		optmethod:   config.OptMethod,
	}

	if lq.optmethod == nil {
		lq.optmethod = &optimize.BFGS{
			Linesearcher: &optimize.MoreThuente{},
		}
	}
	if lq.optsettings == nil {
		maxiter := config.MaxIter
		if maxiter <= 0 {
			maxiter = 500
		}
		tol := config.LoglikTol
		if tol <= 0 {
			tol = 1e-6
		}
		lq.optsettings = &optimize.Settings{
			MajorIterations: maxiter,
			Converger: &optimize.FunctionConverge{
				Absolute:   tol,
				Iterations: 10,
			},
		}
	}

	lq.setupQuadrature(nq)

	return lq, nil
}

// setupQuadrature prepares the one-dimensional Gauss-Hermite rule in the
// form needed for expectations against a standard normal density.
func (lq *LQMM) setupQuadrature(nq int) {

	x := make([]float64, nq)
	w := make([]float64, nq)
	quad.Hermite{}.FixedLocations(x, w, math.Inf(-1), math.Inf(1))

	// E g(U) = pi^{-1/2} sum_k w_k g(sqrt(2) x_k) for U ~ N(0, 1).
	lq.ghx = make([]float64, nq)
	lq.ghlogw = make([]float64, nq)
	for k := range x {
		lq.ghx[k] = math.Sqrt2 * x[k]
		lq.ghlogw[k] = math.Log(w[k]) - 0.5*math.Log(math.Pi)
	}
}

// Tau returns the quantile level being estimated.
func (lq *LQMM) Tau() float64 {
	return lq.tau
}

// NumParams returns the total number of free parameters in the model.
func (lq *LQMM) NumParams() int {
	return len(lq.xpos) + lq.covstruct.NumParams() + 1
}

// NumFixedEffects returns the number of fixed-effects coefficients.
func (lq *LQMM) NumFixedEffects() int {
	return len(lq.xpos)
}

// NumObs returns the number of observations in the dataset.
func (lq *LQMM) NumObs() int {
	return len(lq.data[0])
}

// NumGroups returns the number of groups (individuals).
func (lq *LQMM) NumGroups() int {
	return len(lq.groups)
}

// Xpos returns the positions of the covariates in the dataset.
func (lq *LQMM) Xpos() []int {
	return lq.xpos
}

// Dataset returns the data columns to which the model is fit.
func (lq *LQMM) Dataset() [][]statmodel.Dtype {
	return lq.data
}

// logALD returns the log-density of the asymmetric Laplace distribution
// with skew tau and scale sigma at the residual e.
func logALD(e, tau, sigma float64) float64 {
	rho := e * tau
	if e < 0 {
		rho = e * (tau - 1)
	}
	return math.Log(tau*(1-tau)) - math.Log(sigma) - rho/sigma
}

// LogLike returns the marginal log-likelihood at the given parameter value,
// integrating the random effects out by quadrature.
func (lq *LQMM) LogLike(params statmodel.Parameter) float64 {
	return lq.loglike(params.GetCoeff())
}

func (lq *LQMM) loglike(theta []float64) float64 {

	p := len(lq.xpos)
	beta := theta[0:p]
	cpar := theta[p : p+lq.covstruct.NumParams()]
	sigma := math.Exp(theta[len(theta)-1])

	var l [2][2]float64
	lq.covstruct.chol(cpar, &l)

	// Residuals net of the fixed effects, all observations at once.
	nobs := lq.NumObs()
	resid := make([]float64, nobs)
	copy(resid, lq.data[lq.ypos])
	for j, k := range lq.xpos {
		floats.AddScaled(resid, -beta[j], lq.data[k])
	}

	slope := lq.data[lq.slopepos]
	nq := len(lq.ghx)

	var loglike float64

	for _, rows := range lq.groups {

		// log-sum-exp over the product quadrature grid
		lmax := math.Inf(-1)
		var lse float64
		lvals := make([]float64, 0, nq*nq)

		for k1 := 0; k1 < nq; k1++ {
			for k2 := 0; k2 < nq; k2++ {

				// Random effects implied by this node pair
				b0 := l[0][0] * lq.ghx[k1]
				b1 := l[1][0]*lq.ghx[k1] + l[1][1]*lq.ghx[k2]

				lv := lq.ghlogw[k1] + lq.ghlogw[k2]
				for _, i := range rows {
					lv += logALD(resid[i]-b0-b1*slope[i], lq.tau, sigma)
				}

				lvals = append(lvals, lv)
				if lv > lmax {
					lmax = lv
				}
			}
		}

		for _, lv := range lvals {
			lse += math.Exp(lv - lmax)
		}
		loglike += lmax + math.Log(lse)
	}

	return loglike
}

// LQMMResults describes the results of a fitted linear quantile mixed model.
type LQMMResults struct {
	statmodel.BaseResults

	tau   float64
	scale float64
	recov *mat.SymDense
}

// Tau returns the quantile level of the fit.
func (rslt *LQMMResults) Tau() float64 {
	return rslt.tau
}

// Scale returns the estimated residual scale parameter.
func (rslt *LQMMResults) Scale() float64 {
	return rslt.scale
}

// RECov returns the estimated covariance matrix of the random intercept and
// slope.
func (rslt *LQMMResults) RECov() *mat.SymDense {
	return rslt.recov
}

// startingPoint builds the starting parameter vector for one fit, applying
// the configured perturbation.
func (lq *LQMM) startingPoint() []float64 {

	np := lq.NumParams()
	start := make([]float64, np)

	if lq.start != nil {
		if len(lq.start) != np {
			msg := fmt.Sprintf("LQMM: start has length %d, expected %d\n", len(lq.start), np)
			panic(msg)
		}
		copy(start, lq.start)
	} else {
		// Start the residual scale at the mean absolute deviation
		// of the outcome so the first likelihood evaluations are
		// well conditioned.
		y := lq.data[lq.ypos]
		var mad float64
		mn := floats.Sum(y) / float64(len(y))
		for _, v := range y {
			mad += math.Abs(v - mn)
		}
		mad /= float64(len(y))
		if mad > 0 {
			start[np-1] = math.Log(mad)
		}
	}

	if lq.jitter > 0 {
		dist := distuv.Normal{Mu: 0, Sigma: lq.jitter, Src: lq.src}
		for j := range start {
			start[j] += dist.Rand()
		}
	}

	return start
}

// Fit estimates the model parameters and returns a results value.  A
// non-nil error indicates that the optimizer did not converge; when a
// partial result is available it is returned along with the error.
func (lq *LQMM) Fit() (*LQMMResults, error) {

	prob := optimize.Problem{
		Func: func(x []float64) float64 {
			return -lq.loglike(x)
		},
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, func(z []float64) float64 {
				return -lq.loglike(z)
			}, x, nil)
		},
	}

	start := lq.startingPoint()

	var xna []string
	for _, k := range lq.xpos {
		xna = append(xna, lq.varnames[k])
	}

	optrslt, err := optimize.Minimize(prob, start, lq.optsettings, lq.optmethod)
	if err != nil {
		if optrslt == nil {
			return nil, err
		}
		if lq.log != nil {
			lq.log.Printf("LQMM: tau=%.3f fit failed: %v", lq.tau, err)
		}
		results := &LQMMResults{
			BaseResults: statmodel.NewBaseResults(lq, -optrslt.F, optrslt.X[0:len(lq.xpos)], xna, nil),
			tau:         lq.tau,
		}
		return results, err
	}
	if err = optrslt.Status.Err(); err != nil {
		return nil, err
	}

	theta := make([]float64, len(optrslt.X))
	copy(theta, optrslt.X)
	ll := -optrslt.F

	p := len(lq.xpos)
	params := make([]float64, p)
	copy(params, theta[0:p])

	vcov := lq.paramVcov(theta)

	cpar := theta[p : p+lq.covstruct.NumParams()]

	results := &LQMMResults{
		BaseResults: statmodel.NewBaseResults(lq, ll, params, xna, vcov),
		tau:         lq.tau,
		scale:       math.Exp(theta[len(theta)-1]),
		recov:       lq.covstruct.Cov(cpar),
	}

	return results, nil
}

// paramVcov computes the sampling covariance matrix of the fixed-effects
// estimates from the curvature of the log-likelihood at the optimum.  It
// returns nil when the Hessian cannot be inverted; callers then get a
// coefficient table with missing uncertainty cells.
func (lq *LQMM) paramVcov(theta []float64) []float64 {

	np := len(theta)
	hsym := mat.NewSymDense(np, nil)
	fd.Hessian(hsym, lq.loglike, theta, nil)

	hess := make([]float64, np*np)
	for i := 0; i < np; i++ {
		for j := 0; j < np; j++ {
			hess[i*np+j] = hsym.At(i, j)
		}
	}

	vfull, err := statmodel.GetVcov(hess, np)
	if err != nil {
		if lq.log != nil {
			lq.log.Printf("LQMM: tau=%.3f: %v", lq.tau, err)
		}
		return nil
	}

	// Fixed-effects block
	p := len(lq.xpos)
	vcov := make([]float64, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			vcov[i*p+j] = vfull[i*np+j]
		}
	}

	return vcov
}

// FitQuantiles fits the same model specification at each of the given
// quantile levels, returning the results in the same order.  Each level is
// fit independently; a failure at one level fails the whole call.
func FitQuantiles(data statmodel.Dataset, outcome string, predictors []string, groupvar, slopevar string, taus []float64, config *LQMMConfig) ([]*LQMMResults, error) {

	var results []*LQMMResults

	for _, tau := range taus {
		lq, err := NewLQMM(data, outcome, predictors, groupvar, slopevar, tau, config)
		if err != nil {
			return nil, err
		}
		rslt, err := lq.Fit()
		if err != nil {
			return nil, fmt.Errorf("quantile %.3f: %v", tau, err)
		}
		results = append(results, rslt)
	}

	return results, nil
}

// LQMMSummary summarizes a fitted linear quantile mixed model.
type LQMMSummary struct {
	lqmm    *LQMM
	results *LQMMResults
}

// Summary displays a summary table of the model results.
func (rslt *LQMMResults) Summary() *LQMMSummary {
	return &LQMMSummary{
		lqmm:    rslt.Model().(*LQMM),
		results: rslt,
	}
}

// String returns a string representation of a summary table for the model.
func (ls *LQMMSummary) String() string {

	t := ls.results.CoefTable()

	sum := &statmodel.SummaryTable{
		Title:    "Linear quantile mixed model analysis",
		ColNames: []string{"Variable   ", "Estimate", "SE", "LCB", "UCB", "P-value"},
		ColFmt: []statmodel.Fmter{
			statmodel.StringFmter, statmodel.NumberFmter, statmodel.NumberFmter,
			statmodel.NumberFmter, statmodel.NumberFmter, statmodel.NumberFmter,
		},
		Cols: []interface{}{t.Terms, t.Est, t.SE, t.LCB, t.UCB, t.PValue},
		Top: []string{
			fmt.Sprintf("Quantile:    %.3f", ls.results.tau),
			fmt.Sprintf("Covariance:  %s", ls.lqmm.covstruct),
			fmt.Sprintf("Num obs:     %d", ls.lqmm.NumObs()),
			fmt.Sprintf("Num groups:  %d", ls.lqmm.NumGroups()),
			fmt.Sprintf("Scale:       %f", ls.results.scale),
			fmt.Sprintf("Log-like:    %f", ls.results.LogLike()),
			fmt.Sprintf("AIC:         %f", ls.results.AIC()),
			fmt.Sprintf("BIC:         %f", ls.results.BIC()),
		},
	}

	return sum.String()
}
