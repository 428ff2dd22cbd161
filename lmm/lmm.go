// Package lmm fits ordinary (mean-scale) Gaussian linear mixed models with
// a random intercept and slope per group, used as the reference fit against
// which quantile-level estimates are compared.  The fixed effects are
// profiled out by generalized least squares, and the variance parameters
// are estimated by maximum likelihood.
package lmm

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"quantmix/statmodel"
)

// LMMParams contains the free parameters of the profiled likelihood: the
// Cholesky parameterization of the random-effects covariance (log l11, l21,
// log l22) followed by the log residual standard deviation.
type LMMParams struct {
	coeff []float64
}

// GetCoeff returns the variance parameter vector.
func (p *LMMParams) GetCoeff() []float64 {
	return p.coeff
}

// SetCoeff sets the variance parameter vector.
func (p *LMMParams) SetCoeff(x []float64) {
	p.coeff = x
}

// Clone returns a deep copy of the parameter value.
func (p *LMMParams) Clone() statmodel.Parameter {
	q := make([]float64, len(p.coeff))
	copy(q, p.coeff)
	return &LMMParams{q}
}

// LMM describes a Gaussian linear mixed model with a random intercept and a
// random slope, grouped by one variable.
type LMM struct {
	varnames []string
	data     [][]statmodel.Dtype

	ypos     int
	xpos     []int
	slopepos int

	groups [][]int

	start       []float64
	optsettings *optimize.Settings
	optmethod   optimize.Method
	log         *log.Logger
}

// LMMConfig defines configuration parameters for a linear mixed model.
type LMMConfig struct {

	// MaxIter caps the number of iterations of the optimizer.
	MaxIter int

	// Tol is the absolute function convergence tolerance.
	Tol float64

	// Start contains starting values for the variance parameters.
	Start []float64

	// Log receives fitting messages, if not nil.
	Log *log.Logger

	// OptMethod is the Gonum optimization method used to fit the model.
	OptMethod optimize.Method

	// OptSettings configures the Gonum optimization routine.
	OptSettings *optimize.Settings
}

// DefaultLMMConfig returns a default configuration for a linear mixed model.
func DefaultLMMConfig() *LMMConfig {
	return &LMMConfig{
		MaxIter: 200,
		Tol:     1e-8,
		OptMethod: &optimize.BFGS{
			Linesearcher: &optimize.MoreThuente{},
		},
	}
}

// NewLMM returns an LMM value relating the outcome to the covariates, with
// a random intercept and a random slope on slopevar, grouped by groupvar.
// The covariates must include an explicit intercept column if one is
// wanted.
func NewLMM(data statmodel.Dataset, outcome string, predictors []string, groupvar, slopevar string, config *LMMConfig) (*LMM, error) {

	if config == nil {
		config = DefaultLMMConfig()
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

	lm := &LMM{
		varnames:    data.Names(),
		data:        data.Data(),
		ypos:        ypos,
		xpos:        xpos,
		slopepos:    slopepos,
		groups:      groups,
		start:       config.Start,
		log:         config.Log,
		optsettings: config.OptSettings,
		optmethod:   config.OptMethod,
	}

	if lm.optmethod == nil {
		lm.optmethod = &optimize.BFGS{
			Linesearcher: &optimize.MoreThuente{},
		}
	}
	if lm.optsettings == nil {
		maxiter := config.MaxIter
		if maxiter <= 0 {
			maxiter = 200
		}
		tol := config.Tol
		if tol <= 0 {
			tol = 1e-8
		}
		lm.optsettings = &optimize.Settings{
			MajorIterations: maxiter,
			Converger: &optimize.FunctionConverge{
				Absolute:   tol,
				Iterations: 10,
			},
		}
	}

	return lm, nil
}

// NumParams returns the total number of free parameters: the fixed effects
// plus the three covariance parameters and the residual scale.
func (lm *LMM) NumParams() int {
	return len(lm.xpos) + 4
}

// NumFixedEffects returns the number of fixed-effects coefficients.
func (lm *LMM) NumFixedEffects() int {
	return len(lm.xpos)
}

// NumObs returns the number of observations in the dataset.
func (lm *LMM) NumObs() int {
	return len(lm.data[0])
}

// NumGroups returns the number of groups.
func (lm *LMM) NumGroups() int {
	return len(lm.groups)
}

// Xpos returns the positions of the covariates in the dataset.
func (lm *LMM) Xpos() []int {
	return lm.xpos
}

// Dataset returns the data columns to which the model is fit.
func (lm *LMM) Dataset() [][]statmodel.Dtype {
	return lm.data
}

// LogLike returns the profiled log-likelihood at the given variance
// parameter value; the fixed effects are set to their generalized least
// squares values implied by the variance parameters.
func (lm *LMM) LogLike(params statmodel.Parameter) float64 {
	ll, _, _ := lm.profile(params.GetCoeff())
	return ll
}

// reCov builds the random-effects covariance matrix from the parameter
// block (log l11, l21, log l22).
func reCov(vpar []float64) *mat.SymDense {

	l11 := math.Exp(vpar[0])
	l21 := vpar[1]
	l22 := math.Exp(vpar[2])

	g := mat.NewSymDense(2, nil)
	g.SetSym(0, 0, l11*l11)
	g.SetSym(0, 1, l11*l21)
	g.SetSym(1, 1, l21*l21+l22*l22)

	return g
}

// profile computes the profiled log-likelihood at the given variance
// parameters along with the implied GLS fixed effects and their sampling
// covariance.
func (lm *LMM) profile(vpar []float64) (float64, []float64, *mat.Dense) {

	p := len(lm.xpos)
	g := reCov(vpar)
	sig2 := math.Exp(2 * vpar[3])

	slope := lm.data[lm.slopepos]
	y := lm.data[lm.ypos]

	amat := mat.NewDense(p, p, nil)
	bvec := mat.NewVecDense(p, nil)

	type groupFac struct {
		chol mat.Cholesky
		x    *mat.Dense
		y    *mat.VecDense
	}
	facs := make([]groupFac, 0, len(lm.groups))

	for _, rows := range lm.groups {

		n := len(rows)

		// Marginal covariance V = Z G Z' + sig2 I
		v := mat.NewSymDense(n, nil)
		for a := 0; a < n; a++ {
			za := [2]float64{1, slope[rows[a]]}
			for b := a; b < n; b++ {
				zb := [2]float64{1, slope[rows[b]]}
				var s float64
				for u := 0; u < 2; u++ {
					for w := 0; w < 2; w++ {
						s += za[u] * g.At(u, w) * zb[w]
					}
				}
				if a == b {
					s += sig2
				}
				v.SetSym(a, b, s)
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(v); !ok {
			return math.Inf(-1), nil, nil
		}

		xg := mat.NewDense(n, p, nil)
		yg := mat.NewVecDense(n, nil)
		for a, i := range rows {
			for j, k := range lm.xpos {
				xg.Set(a, j, lm.data[k][i])
			}
			yg.SetVec(a, y[i])
		}

		// Accumulate X'V^{-1}X and X'V^{-1}y
		vix := mat.NewDense(n, p, nil)
		if err := chol.SolveTo(vix, xg); err != nil {
			return math.Inf(-1), nil, nil
		}
		viy := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(viy, yg); err != nil {
			return math.Inf(-1), nil, nil
		}

		var xtvx mat.Dense
		xtvx.Mul(xg.T(), vix)
		amat.Add(amat, &xtvx)

		var xtvy mat.VecDense
		xtvy.MulVec(xg.T(), viy)
		bvec.AddVec(bvec, &xtvy)

		facs = append(facs, groupFac{chol: chol, x: xg, y: yg})
	}

	// GLS fixed effects
	beta := mat.NewVecDense(p, nil)
	var ainv mat.Dense
	if err := ainv.Inverse(amat); err != nil {
		return math.Inf(-1), nil, nil
	}
	beta.MulVec(&ainv, bvec)

	// Log-likelihood at the profiled fixed effects
	var ll float64
	for _, fc := range facs {

		n, _ := fc.x.Dims()

		r := mat.NewVecDense(n, nil)
		r.MulVec(fc.x, beta)
		r.SubVec(fc.y, r)

		vir := mat.NewVecDense(n, nil)
		if err := fc.chol.SolveVecTo(vir, r); err != nil {
			return math.Inf(-1), nil, nil
		}

		ll -= 0.5 * (float64(n)*math.Log(2*math.Pi) + fc.chol.LogDet() + mat.Dot(r, vir))
	}

	coeff := make([]float64, p)
	for j := 0; j < p; j++ {
		coeff[j] = beta.AtVec(j)
	}

	return ll, coeff, &ainv
}

// LMMResults describes the results of a fitted linear mixed model.
type LMMResults struct {
	statmodel.BaseResults

	sigma2 float64
	recov  *mat.SymDense
}

// ResidVar returns the estimated residual variance.
func (rslt *LMMResults) ResidVar() float64 {
	return rslt.sigma2
}

// RECov returns the estimated covariance matrix of the random intercept and
// slope.
func (rslt *LMMResults) RECov() *mat.SymDense {
	return rslt.recov
}

// Fit estimates the model parameters and returns a results value.  The
// variance here has a closed-form profile, so a single fit is sufficient;
// no repetition is needed.
func (lm *LMM) Fit() (*LMMResults, error) {

	prob := optimize.Problem{
		Func: func(x []float64) float64 {
			ll, _, _ := lm.profile(x)
			return -ll
		},
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, func(z []float64) float64 {
				ll, _, _ := lm.profile(z)
				return -ll
			}, x, nil)
		},
	}

	start := lm.start
	if start == nil {
		start = make([]float64, 4)
	} else if len(start) != 4 {
		msg := fmt.Sprintf("LMM: start has length %d, expected 4\n", len(start))
		panic(msg)
	}

	optrslt, err := optimize.Minimize(prob, start, lm.optsettings, lm.optmethod)
	if err != nil {
		if lm.log != nil {
			lm.log.Printf("LMM: fit failed: %v", err)
		}
		return nil, err
	}
	if err = optrslt.Status.Err(); err != nil {
		return nil, err
	}

	vpar := optrslt.X
	ll, coeff, ainv := lm.profile(vpar)
	if coeff == nil {
		return nil, fmt.Errorf("LMM: variance estimate is singular")
	}

	var xna []string
	for _, k := range lm.xpos {
		xna = append(xna, lm.varnames[k])
	}

	p := len(coeff)
	vcov := make([]float64, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			vcov[i*p+j] = ainv.At(i, j)
		}
	}

	results := &LMMResults{
		BaseResults: statmodel.NewBaseResults(lm, ll, coeff, xna, vcov),
		sigma2:      math.Exp(2 * vpar[3]),
		recov:       reCov(vpar),
	}

	return results, nil
}

// Summary displays a summary table of the model results.
func (rslt *LMMResults) Summary() string {

	lm := rslt.Model().(*LMM)
	t := rslt.CoefTable()

	sum := &statmodel.SummaryTable{
		Title:    "Linear mixed model analysis",
		ColNames: []string{"Variable   ", "Estimate", "SE", "LCB", "UCB", "P-value"},
		ColFmt: []statmodel.Fmter{
			statmodel.StringFmter, statmodel.NumberFmter, statmodel.NumberFmter,
			statmodel.NumberFmter, statmodel.NumberFmter, statmodel.NumberFmter,
		},
		Cols: []interface{}{t.Terms, t.Est, t.SE, t.LCB, t.UCB, t.PValue},
		Top: []string{
			fmt.Sprintf("Num obs:     %d", lm.NumObs()),
			fmt.Sprintf("Num groups:  %d", lm.NumGroups()),
			fmt.Sprintf("Resid var:   %f", rslt.sigma2),
			fmt.Sprintf("Log-like:    %f", rslt.LogLike()),
		},
	}

	return sum.String()
}
