// Package statmodel provides shared infrastructure for fitting regression
// models to grouped (longitudinal) data: an in-memory dataset of named
// columns, interfaces for models and their parameters, and result types
// holding coefficient estimates with their sampling uncertainty.
package statmodel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Dtype is the type of all numeric values in a dataset.
type Dtype = float64

// Dataset holds a rectangular data array as a collection of named columns.
// All columns have the same length, one element per observation.
type Dataset struct {
	names []string
	data  [][]Dtype
}

// NewDataset constructs a Dataset from the given columns and column names.
func NewDataset(data [][]Dtype, names []string) Dataset {

	if len(data) != len(names) {
		msg := fmt.Sprintf("NewDataset: %d columns but %d names\n", len(data), len(names))
		panic(msg)
	}

	for j, col := range data {
		if len(col) != len(data[0]) {
			msg := fmt.Sprintf("NewDataset: column '%s' has length %d, expected %d\n",
				names[j], len(col), len(data[0]))
			panic(msg)
		}
	}

	return Dataset{names: names, data: data}
}

// Names returns the column names of the dataset.
func (ds Dataset) Names() []string {
	return ds.names
}

// Data returns the columns of the dataset.
func (ds Dataset) Data() [][]Dtype {
	return ds.data
}

// NumObs returns the number of observations (rows) in the dataset.
func (ds Dataset) NumObs() int {
	if len(ds.data) == 0 {
		return 0
	}
	return len(ds.data[0])
}

// Pos returns the position of the named column, or -1 if it is not present.
func (ds Dataset) Pos(name string) int {
	for j, na := range ds.names {
		if na == name {
			return j
		}
	}
	return -1
}

// Column returns the data for the named column.  It panics if the column
// does not exist.
func (ds Dataset) Column(name string) []Dtype {
	j := ds.Pos(name)
	if j == -1 {
		msg := fmt.Sprintf("Dataset: column '%s' not found\n", name)
		panic(msg)
	}
	return ds.data[j]
}

// GroupIndex returns the row indices belonging to each distinct level of the
// given grouping column, in order of first appearance.  Rows belonging to a
// group need not be contiguous.
func GroupIndex(ds Dataset, groupvar string) ([][]int, error) {

	j := ds.Pos(groupvar)
	if j == -1 {
		return nil, fmt.Errorf("GroupIndex: grouping variable '%s' not found in dataset", groupvar)
	}

	gcol := ds.data[j]
	seen := make(map[Dtype]int)
	var groups [][]int

	for i, g := range gcol {
		k, ok := seen[g]
		if !ok {
			k = len(groups)
			seen[g] = k
			groups = append(groups, nil)
		}
		groups[k] = append(groups[k], i)
	}

	return groups, nil
}

// CheckBalanced confirms that every group in the given grouping column
// contains exactly size observations, returning an error identifying the
// first offending group otherwise.
func CheckBalanced(ds Dataset, groupvar string, size int) error {

	groups, err := GroupIndex(ds, groupvar)
	if err != nil {
		return err
	}

	gcol := ds.Column(groupvar)
	for _, rows := range groups {
		if len(rows) != size {
			return fmt.Errorf("group %v of '%s' has %d observations, expected %d",
				gcol[rows[0]], groupvar, len(rows), size)
		}
	}

	return nil
}

// Parameter is the parameter of a model.
type Parameter interface {

	// GetCoeff returns the coefficients of the covariates in the linear
	// predictor.  The returned value is a reference, changes to it are
	// reflected in the parameter.
	GetCoeff() []float64

	// SetCoeff sets the coefficients of the covariates in the linear
	// predictor.
	SetCoeff([]float64)

	// Clone creates a deep copy of the parameter.
	Clone() Parameter
}

// MixedFitter is a regression model for grouped data that can be fit by
// maximizing a likelihood.
type MixedFitter interface {

	// NumParams returns the total number of free parameters in the
	// model, including variance and scale parameters.
	NumParams() int

	// NumFixedEffects returns the number of fixed-effects coefficients.
	NumFixedEffects() int

	// NumObs returns the number of observations in the dataset.
	NumObs() int

	// NumGroups returns the number of groups (e.g. individuals).
	NumGroups() int

	// Xpos returns the positions of the covariates in the dataset.
	Xpos() []int

	// Dataset returns the data columns to which the model is fit.
	Dataset() [][]Dtype

	// LogLike returns the log-likelihood at the given parameter value.
	LogLike(Parameter) float64
}

// zQuant is the standard normal quantile used to form confidence bounds.
var zQuant = distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.975)

// normcdf is the standard normal cumulative distribution function.
func normcdf(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt(2))
}

// BaseResults contains the fixed-effects results after fitting a model.
type BaseResults struct {
	model   MixedFitter
	loglike float64
	params  []float64
	xnames  []string
	vcov    []float64
	stderr  []float64
	zscores []float64
	pvalues []float64
}

// NewBaseResults returns a BaseResults for the given fitted model.  params
// and vcov refer to the fixed effects only; vcov is the vectorized
// covariance matrix of the estimates and may be nil if unavailable.
func NewBaseResults(model MixedFitter, loglike float64, params []float64, xnames []string, vcov []float64) BaseResults {
	return BaseResults{
		model:   model,
		loglike: loglike,
		params:  params,
		xnames:  xnames,
		vcov:    vcov,
	}
}

// Model returns the model used to produce the results.
func (rslt *BaseResults) Model() MixedFitter {
	return rslt.model
}

// Names returns the names of the fixed-effects terms in the model.
func (rslt *BaseResults) Names() []string {
	return rslt.xnames
}

// Params returns the point estimates of the fixed-effects coefficients.
func (rslt *BaseResults) Params() []float64 {
	return rslt.params
}

// VCov returns the vectorized sampling covariance matrix of the
// fixed-effects estimates.
func (rslt *BaseResults) VCov() []float64 {
	return rslt.vcov
}

// LogLike returns the maximized log-likelihood of the fitted model.
func (rslt *BaseResults) LogLike() float64 {
	return rslt.loglike
}

// AIC returns the Akaike information criterion of the fitted model.
func (rslt *BaseResults) AIC() float64 {
	return 2*float64(rslt.model.NumParams()) - 2*rslt.loglike
}

// BIC returns the Bayesian information criterion of the fitted model.
func (rslt *BaseResults) BIC() float64 {
	n := float64(rslt.model.NumObs())
	return math.Log(n)*float64(rslt.model.NumParams()) - 2*rslt.loglike
}

// StdErr returns the standard errors of the fixed-effects estimates, or nil
// if no covariance matrix is available.
func (rslt *BaseResults) StdErr() []float64 {

	if rslt.vcov == nil {
		return nil
	}

	if rslt.stderr != nil {
		return rslt.stderr
	}

	p := len(rslt.params)
	rslt.stderr = make([]float64, p)
	for i := range rslt.stderr {
		rslt.stderr[i] = math.Sqrt(rslt.vcov[i*p+i])
	}

	return rslt.stderr
}

// ZScores returns the Z-scores (estimates divided by standard errors).
func (rslt *BaseResults) ZScores() []float64 {

	if rslt.vcov == nil {
		return nil
	}

	if rslt.zscores != nil {
		return rslt.zscores
	}

	std := rslt.StdErr()
	rslt.zscores = make([]float64, len(std))
	for i := range std {
		rslt.zscores[i] = rslt.params[i] / std[i]
	}

	return rslt.zscores
}

// PValues returns two-sided p-values for the null hypothesis that each
// coefficient's population value is zero.
func (rslt *BaseResults) PValues() []float64 {

	if rslt.vcov == nil {
		return nil
	}

	if rslt.pvalues != nil {
		return rslt.pvalues
	}

	z := rslt.ZScores()
	rslt.pvalues = make([]float64, len(z))
	for i := range z {
		rslt.pvalues[i] = 2 * normcdf(-math.Abs(z[i]))
	}

	return rslt.pvalues
}

// CoefTable holds the fixed-effects coefficient table of one fitted model:
// one row per term, with point estimate, standard error, lower and upper
// confidence bounds, and p-value.  Cells that could not be computed are NaN.
type CoefTable struct {
	Terms  []string
	Est    []float64
	SE     []float64
	LCB    []float64
	UCB    []float64
	PValue []float64
}

// NewCoefTable allocates a CoefTable with all statistic cells set to NaN.
func NewCoefTable(terms []string) *CoefTable {

	p := len(terms)
	t := &CoefTable{
		Terms:  terms,
		Est:    make([]float64, p),
		SE:     make([]float64, p),
		LCB:    make([]float64, p),
		UCB:    make([]float64, p),
		PValue: make([]float64, p),
	}

	for _, col := range t.Stats() {
		for i := range col {
			col[i] = math.NaN()
		}
	}

	return t
}

// Stats returns the five statistic columns of the table in fixed order:
// estimate, standard error, lower bound, upper bound, p-value.
func (t *CoefTable) Stats() [][]float64 {
	return [][]float64{t.Est, t.SE, t.LCB, t.UCB, t.PValue}
}

// Row returns the index of the named term, or -1 if it is not in the table.
func (t *CoefTable) Row(term string) int {
	for i, na := range t.Terms {
		if na == term {
			return i
		}
	}
	return -1
}

// CoefTable builds the coefficient table for the fitted model, with
// confidence bounds at the 95% level.  Terms whose standard errors are
// unavailable get NaN uncertainty cells.
func (rslt *BaseResults) CoefTable() *CoefTable {

	t := NewCoefTable(rslt.xnames)
	copy(t.Est, rslt.params)

	if rslt.vcov == nil {
		return t
	}

	se := rslt.StdErr()
	pv := rslt.PValues()
	for i := range t.Terms {
		t.SE[i] = se[i]
		t.LCB[i] = rslt.params[i] - zQuant*se[i]
		t.UCB[i] = rslt.params[i] + zQuant*se[i]
		t.PValue[i] = pv[i]
	}

	return t
}

// GetVcov inverts the negative of the given Hessian matrix of the
// log-likelihood, returning the vectorized sampling covariance matrix of the
// parameter estimates.
func GetVcov(hess []float64, nvar int) ([]float64, error) {

	hmat := mat.NewDense(nvar, nvar, hess)
	vcov := make([]float64, nvar*nvar)
	vmat := mat.NewDense(nvar, nvar, vcov)

	if err := vmat.Inverse(hmat); err != nil {
		return nil, fmt.Errorf("GetVcov: can't invert Hessian: %v", err)
	}
	vmat.Scale(-1, vmat)

	return vcov, nil
}
