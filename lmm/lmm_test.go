package lmm

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"

	"quantmix/statmodel"
)

func testData() statmodel.Dataset {

	da := [][]statmodel.Dtype{
		{1, 1, 1, 1, 1, 1, 1, 1},
		{1, 1, 2, 2, 3, 3, 4, 4},
		{0, 1, 0, 1, 0, 1, 0, 1},
		{0.3, 1.2, -0.2, 1.1, 0.2, 0.9, -0.3, 1.0},
	}
	return statmodel.NewDataset(da, []string{"icept", "subject", "visit", "y"})
}

func TestProfileDegenerateIsOLS(t *testing.T) {

	ds := testData()
	lm, err := NewLMM(ds, "y", []string{"icept", "visit"}, "subject", "visit", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Random effects variance driven to zero, residual variance one: the
	// profiled fit is ordinary least squares with unit error variance.
	ll, coeff, _ := lm.profile([]float64{-40, 0, -40, 0})

	y := ds.Column("y")
	visit := ds.Column("visit")

	// OLS closed form with x in {0, 1}: intercept is the mean at visit
	// 0, slope the difference of visit means.
	var m0, m1 float64
	for i := range y {
		if visit[i] == 0 {
			m0 += y[i] / 4
		} else {
			m1 += y[i] / 4
		}
	}

	if !floats.EqualApprox(coeff, []float64{m0, m1 - m0}, 1e-8) {
		t.Errorf("GLS with degenerate variance: got %v, want %v", coeff, []float64{m0, m1 - m0})
	}

	var rss float64
	for i := range y {
		r := y[i] - m0 - (m1-m0)*visit[i]
		rss += r * r
	}
	direct := -0.5 * (8*math.Log(2*math.Pi) + rss)

	if math.Abs(ll-direct) > 1e-8 {
		t.Errorf("profiled loglike: got %v, want %v", ll, direct)
	}
}

func TestLMMFit(t *testing.T) {

	if testing.Short() {
		t.Skip("skipping optimization in short mode")
	}

	ds := testData()
	lm, err := NewLMM(ds, "y", []string{"icept", "visit"}, "subject", "visit", nil)
	if err != nil {
		t.Fatal(err)
	}

	rslt, err := lm.Fit()
	if err != nil {
		t.Fatal(err)
	}

	// The visit effect in the test data is close to one.
	params := rslt.Params()
	if math.Abs(params[1]-1.1) > 0.5 {
		t.Errorf("visit estimate %v far from 1.1", params[1])
	}

	if rslt.RECov().At(0, 0) < 0 {
		t.Errorf("negative random intercept variance")
	}

	ct := rslt.CoefTable()
	if len(ct.Terms) != 2 || ct.Terms[0] != "icept" || ct.Terms[1] != "visit" {
		t.Errorf("unexpected terms %v", ct.Terms)
	}
	for i := range ct.Terms {
		if math.IsNaN(ct.SE[i]) {
			t.Errorf("missing standard error for %s", ct.Terms[i])
		}
	}
}

func TestNewLMMErrors(t *testing.T) {

	ds := testData()

	if _, err := NewLMM(ds, "nope", []string{"icept"}, "subject", "visit", nil); err == nil {
		t.Errorf("expected error for unknown outcome")
	}
	if _, err := NewLMM(ds, "y", []string{"icept", "nope"}, "subject", "visit", nil); err == nil {
		t.Errorf("expected error for unknown predictor")
	}
	if _, err := NewLMM(ds, "y", []string{"icept"}, "nope", "visit", nil); err == nil {
		t.Errorf("expected error for unknown grouping variable")
	}
}
