package microbiome

import (
	"fmt"
	"log"

	"golang.org/x/exp/rand"

	"quantmix/lmm"
	"quantmix/lqmm"
	"quantmix/statmodel"
)

// AnalysisResult holds the outputs of the full analysis: the subset
// enumeration, the median coefficient tables over repeated fits of the
// selected model, and the mean-model comparison fit.
type AnalysisResult struct {

	// Enumeration holds all covariate-subset candidates with their
	// information criteria.
	Enumeration *statmodel.EnumerationResult

	// Selected contains the covariates of the BIC-selected model.
	Selected []string

	// RepFit holds the per-quantile median coefficient tables of the
	// selected model.
	RepFit *statmodel.RepFitResult

	// Mean is the ordinary linear mixed model fit of the selected
	// fixed-effects specification.
	Mean *lmm.LMMResults
}

// LongRow is one row of the long-format reporting table consumed by
// plotting: one (term, quantile) pair of the selected model.
type LongRow struct {
	Label   string  // analysis label, e.g. the taxon name
	Term    string  // fixed-effects term
	Pct     float64 // quantile level times 100
	Est     float64
	Lower   float64
	Upper   float64
	PValue  float64
	LowConf bool // true when too few replicates informed this row
}

// LongTable flattens the repeated-fit medians into one row per (term,
// quantile) pair.  A row is marked low confidence when any of its statistic
// cells was informed by fewer than half the replicates.
func LongTable(label string, rr *statmodel.RepFitResult) []LongRow {

	var rows []LongRow

	for q, tau := range rr.Taus {
		t := rr.Tables[q]
		for i, term := range t.Terms {

			low := false
			for _, b := range rr.LowConfidence[q][i] {
				low = low || b
			}

			rows = append(rows, LongRow{
				Label:   label,
				Term:    term,
				Pct:     100 * tau,
				Est:     t.Est[i],
				Lower:   t.LCB[i],
				Upper:   t.UCB[i],
				PValue:  t.PValue[i],
				LowConf: low,
			})
		}
	}

	return rows
}

// lqmmConfig builds the estimator configuration shared by all fits of the
// analysis.  jitter and src are only set for the replicate fits; selection
// fits run from the deterministic starting point.
func (c *AnalysisConfig) lqmmConfig(cs lqmm.CovStruct, jitter float64, src rand.Source, lg *log.Logger) *lqmm.LQMMConfig {
	return &lqmm.LQMMConfig{
		CovStruct:   cs,
		QuadPoints:  c.QuadPoints,
		MaxIter:     c.MaxIter,
		LoglikTol:   c.LoglikTol,
		StartJitter: jitter,
		Src:         src,
		Log:         lg,
	}
}

// RunAnalysis performs the full procedure on a validated cohort: enumerate
// every subset of the candidate covariates at the selection quantile and
// pick the BIC-minimizing model, refit it repeatedly over the quantile grid
// and aggregate the coefficient tables by element-wise median, and fit the
// ordinary linear mixed model of the same specification once for
// comparison.  The procedure is a pure function of the cohort and the
// configuration.
func RunAnalysis(cohort *Cohort, config *AnalysisConfig, lg *log.Logger) (*AnalysisResult, error) {

	if config == nil {
		config = DefaultAnalysisConfig()
	} else {
		config.fillDefaults()
	}

	cs, err := config.covStruct()
	if err != nil {
		return nil, err
	}

	ds := cohort.Dataset()
	if err := statmodel.CheckBalanced(ds, cohort.GroupVar(), 2); err != nil {
		return nil, err
	}

	// Stage 1: covariate subset enumeration at the selection quantile.
	selcfg := config.lqmmConfig(cs, 0, nil, lg)
	fit := func(covariates []string) (float64, float64, error) {
		preds, err := cohort.Predictors(covariates)
		if err != nil {
			return 0, 0, err
		}
		model, err := lqmm.NewLQMM(ds, cohort.Outcome(), preds, cohort.GroupVar(),
			cohort.SlopeVar(), config.SelectionQuantile, selcfg)
		if err != nil {
			return 0, 0, err
		}
		rslt, err := model.Fit()
		if err != nil {
			return 0, 0, err
		}
		return rslt.AIC(), rslt.BIC(), nil
	}

	enum, err := statmodel.SelectModels(config.Candidates, fit, &statmodel.EnumerationConfig{Log: lg})
	if err != nil {
		return nil, err
	}

	selected := enum.Selected()
	preds, err := cohort.Predictors(selected)
	if err != nil {
		return nil, err
	}

	// Stage 2: repeated fits of the selected model over the quantile
	// grid.  One seeded source drives every replicate's start
	// perturbation, so reruns of the analysis reproduce each other.
	src := rand.NewSource(config.Seed)
	repcfg := config.lqmmConfig(cs, config.StartJitter, src, lg)

	run := func(rep int, taus []float64) ([]*statmodel.CoefTable, error) {
		results, err := lqmm.FitQuantiles(ds, cohort.Outcome(), preds, cohort.GroupVar(),
			cohort.SlopeVar(), taus, repcfg)
		if err != nil {
			return nil, err
		}
		tables := make([]*statmodel.CoefTable, len(results))
		for q, rslt := range results {
			tables[q] = rslt.CoefTable()
		}
		return tables, nil
	}

	repfit, err := statmodel.RepFit(config.Quantiles, run, &statmodel.RepFitConfig{
		Replicates: config.Replicates,
		Log:        lg,
	})
	if err != nil {
		return nil, err
	}

	// Stage 3: mean-model comparison fit, once.
	meanModel, err := lmm.NewLMM(ds, cohort.Outcome(), preds, cohort.GroupVar(),
		cohort.SlopeVar(), &lmm.LMMConfig{Log: lg})
	if err != nil {
		return nil, err
	}
	mean, err := meanModel.Fit()
	if err != nil {
		if lg != nil {
			lg.Printf("mean comparison fit failed: %v", err)
		}
		mean = nil
	}

	return &AnalysisResult{
		Enumeration: enum,
		Selected:    selected,
		RepFit:      repfit,
		Mean:        mean,
	}, nil
}

// Summary returns a short text description of the analysis outcome.
func (ar *AnalysisResult) Summary() string {

	sel := "(none)"
	if len(ar.Selected) > 0 {
		sel = fmt.Sprint(ar.Selected)
	}

	s := ar.Enumeration.Summary().String()
	s += fmt.Sprintf("\nSelected covariates: %s\n", sel)
	s += fmt.Sprintf("Quantiles fit: %v with %d replicates (%d failed)\n",
		ar.RepFit.Taus, ar.RepFit.Replicates, len(ar.RepFit.Failed))

	return s
}
