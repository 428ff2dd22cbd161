package lqmm

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"quantmix/statmodel"
)

func TestLogALD(t *testing.T) {

	// At tau = 0.5 the asymmetric Laplace is the symmetric Laplace with
	// check loss |e|/2.
	for _, e := range []float64{-2, -0.5, 0, 0.5, 2} {
		got := logALD(e, 0.5, 1)
		want := math.Log(0.25) - math.Abs(e)/2
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("logALD(%v, 0.5, 1): got %v, want %v", e, got, want)
		}
	}

	// Asymmetry: positive residuals are weighted by tau, negative by
	// 1-tau.
	tau := 0.8
	if math.Abs(logALD(1, tau, 1)-(math.Log(tau*(1-tau))-tau)) > 1e-12 {
		t.Errorf("positive residual weight wrong")
	}
	if math.Abs(logALD(-1, tau, 1)-(math.Log(tau*(1-tau))-(1-tau))) > 1e-12 {
		t.Errorf("negative residual weight wrong")
	}

	// Scale enters both the normalizer and the loss.
	if math.Abs(logALD(2, 0.5, 2)-(math.Log(0.25)-math.Log(2)-0.5)) > 1e-12 {
		t.Errorf("scale handling wrong")
	}
}

func TestQuadratureMoments(t *testing.T) {

	lq := &LQMM{}
	lq.setupQuadrature(9)

	// The rule must reproduce standard normal moments.
	var m0, m2, m4 float64
	for k, x := range lq.ghx {
		w := math.Exp(lq.ghlogw[k])
		m0 += w
		m2 += w * x * x
		m4 += w * x * x * x * x
	}

	if math.Abs(m0-1) > 1e-10 {
		t.Errorf("weights sum to %v, want 1", m0)
	}
	if math.Abs(m2-1) > 1e-10 {
		t.Errorf("second moment %v, want 1", m2)
	}
	if math.Abs(m4-3) > 1e-8 {
		t.Errorf("fourth moment %v, want 3", m4)
	}
}

func TestCovStruct(t *testing.T) {

	if Diagonal.NumParams() != 2 || Unstructured.NumParams() != 3 {
		t.Fatalf("wrong parameter counts")
	}

	// Diagonal: variances are exp(2 p).
	v := Diagonal.Cov([]float64{math.Log(2), math.Log(3)})
	if math.Abs(v.At(0, 0)-4) > 1e-12 || math.Abs(v.At(1, 1)-9) > 1e-12 || v.At(0, 1) != 0 {
		t.Errorf("diagonal covariance: got %v", v)
	}

	// Unstructured: L = [[1, 0], [2, 1]], LL' = [[1, 2], [2, 5]].
	v = Unstructured.Cov([]float64{0, 2, 0})
	if math.Abs(v.At(0, 0)-1) > 1e-12 || math.Abs(v.At(0, 1)-2) > 1e-12 || math.Abs(v.At(1, 1)-5) > 1e-12 {
		t.Errorf("unstructured covariance: got %v", v)
	}
}

func testData() statmodel.Dataset {

	// Four subjects, two visits each.
	da := [][]statmodel.Dtype{
		{1, 1, 1, 1, 1, 1, 1, 1},
		{1, 1, 2, 2, 3, 3, 4, 4},
		{0, 1, 0, 1, 0, 1, 0, 1},
		{0.2, 1.1, -0.4, 0.9, 0.1, 1.3, -0.1, 0.8},
	}
	return statmodel.NewDataset(da, []string{"icept", "subject", "visit", "y"})
}

func TestLoglikeNoRandomEffects(t *testing.T) {

	ds := testData()
	lq, err := NewLQMM(ds, "y", []string{"icept", "visit"}, "subject", "visit", 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}

	// With the random-effect standard deviations driven to zero, the
	// marginal likelihood collapses to the fixed-effects asymmetric
	// Laplace likelihood.
	beta := []float64{0.1, 0.8}
	theta := []float64{0.1, 0.8, -40, -40, 0}

	var direct float64
	y := ds.Column("y")
	visit := ds.Column("visit")
	for i := range y {
		direct += logALD(y[i]-beta[0]-beta[1]*visit[i], 0.5, 1)
	}

	got := lq.LogLike(&LQMMParams{theta})
	if math.Abs(got-direct) > 1e-8 {
		t.Errorf("loglike with degenerate random effects: got %v, want %v", got, direct)
	}
}

func TestLoglikeMonotoneInFit(t *testing.T) {

	ds := testData()
	lq, err := NewLQMM(ds, "y", []string{"icept", "visit"}, "subject", "visit", 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}

	// The data rise by about 1 per visit; a parameter near the truth
	// must beat a distant one.
	good := lq.loglike([]float64{0, 1, -2, -2, -1})
	bad := lq.loglike([]float64{5, -5, -2, -2, -1})
	if good <= bad {
		t.Errorf("loglike ordering wrong: good %v <= bad %v", good, bad)
	}
}

func TestNewLQMMErrors(t *testing.T) {

	ds := testData()

	if _, err := NewLQMM(ds, "nope", []string{"icept"}, "subject", "visit", 0.5, nil); err == nil {
		t.Errorf("expected error for unknown outcome")
	}
	if _, err := NewLQMM(ds, "y", []string{"nope"}, "subject", "visit", 0.5, nil); err == nil {
		t.Errorf("expected error for unknown predictor")
	}
	if _, err := NewLQMM(ds, "y", []string{"icept"}, "subject", "visit", 1.5, nil); err == nil {
		t.Errorf("expected error for quantile outside (0, 1)")
	}
}

func TestFitSmoke(t *testing.T) {

	if testing.Short() {
		t.Skip("skipping optimization in short mode")
	}

	// Simulated data with a visit effect of 1 and modest subject-level
	// variation.
	src := rand.NewSource(42)
	norm := distuv.Normal{Mu: 0, Sigma: 0.3, Src: src}

	n := 40
	icept := make([]float64, 2*n)
	subj := make([]float64, 2*n)
	visit := make([]float64, 2*n)
	y := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		u := norm.Rand()
		for j := 0; j < 2; j++ {
			k := 2*i + j
			icept[k] = 1
			subj[k] = float64(i)
			visit[k] = float64(j)
			y[k] = 0.5 + u + float64(j) + norm.Rand()
		}
	}

	ds := statmodel.NewDataset([][]statmodel.Dtype{icept, subj, visit, y},
		[]string{"icept", "subject", "visit", "y"})

	config := DefaultLQMMConfig()
	config.QuadPoints = 5
	lq, err := NewLQMM(ds, "y", []string{"icept", "visit"}, "subject", "visit", 0.5, config)
	if err != nil {
		t.Fatal(err)
	}

	rslt, err := lq.Fit()
	if err != nil {
		t.Fatal(err)
	}

	params := rslt.Params()
	if math.Abs(params[0]-0.5) > 0.4 {
		t.Errorf("intercept estimate %v far from 0.5", params[0])
	}
	if math.Abs(params[1]-1) > 0.4 {
		t.Errorf("visit estimate %v far from 1", params[1])
	}

	if rslt.AIC() >= rslt.BIC() {
		// log(80) > 2, so BIC penalizes harder here
		t.Errorf("AIC %v should be below BIC %v", rslt.AIC(), rslt.BIC())
	}

	ct := rslt.CoefTable()
	if len(ct.Terms) != 2 {
		t.Fatalf("got %d terms, want 2", len(ct.Terms))
	}
	for i := range ct.Terms {
		if math.IsNaN(ct.Est[i]) {
			t.Errorf("missing estimate for %s", ct.Terms[i])
		}
	}
}
