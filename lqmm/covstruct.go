package lqmm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// CovStruct selects the parameterization of the 2x2 covariance matrix of
// the random intercept and random slope.
type CovStruct int

// Diagonal constrains the random intercept and slope to be independent;
// Unstructured allows them to covary freely.
const (
	Diagonal CovStruct = iota
	Unstructured
)

// String returns the name of the covariance structure.
func (c CovStruct) String() string {
	switch c {
	case Diagonal:
		return "diagonal"
	case Unstructured:
		return "unstructured"
	}
	return "unknown"
}

// NumParams returns the number of free parameters of the structure.
func (c CovStruct) NumParams() int {
	switch c {
	case Diagonal:
		return 2
	case Unstructured:
		return 3
	}
	panic("lqmm: unknown covariance structure")
}

// chol fills the lower Cholesky factor of the covariance matrix implied by
// the parameter block.  Diagonal elements are kept positive through a log
// parameterization, so every parameter vector maps to a valid covariance.
func (c CovStruct) chol(par []float64, l *[2][2]float64) {

	switch c {
	case Diagonal:
		l[0][0] = math.Exp(par[0])
		l[1][0] = 0
		l[1][1] = math.Exp(par[1])
	case Unstructured:
		l[0][0] = math.Exp(par[0])
		l[1][0] = par[1]
		l[1][1] = math.Exp(par[2])
	default:
		panic("lqmm: unknown covariance structure")
	}
}

// Cov returns the random-effects covariance matrix implied by the parameter
// block, as the product L L' of the Cholesky factor.
func (c CovStruct) Cov(par []float64) *mat.SymDense {

	var l [2][2]float64
	c.chol(par, &l)

	v := mat.NewSymDense(2, nil)
	v.SetSym(0, 0, l[0][0]*l[0][0])
	v.SetSym(0, 1, l[0][0]*l[1][0])
	v.SetSym(1, 1, l[1][0]*l[1][0]+l[1][1]*l[1][1])

	return v
}
