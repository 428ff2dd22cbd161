package statmodel

import (
	"fmt"
	"log"
	"math"
	"sort"
)

// SubsetFitter fits a model containing a fixed set of base terms plus the
// given optional covariates, returning the information criteria of the fit.
// The fitter is invoked as a pure function: it must not retain state between
// calls.
type SubsetFitter func(covariates []string) (aic, bic float64, err error)

// Candidate records the outcome of fitting one covariate subset.
type Candidate struct {

	// Covariates contains the optional covariates included in this
	// candidate, in sorted order.  It is empty for the baseline model.
	Covariates []string

	// AIC and BIC of the fitted candidate; NaN if the fit failed.
	AIC float64
	BIC float64

	// Err is the fit error, nil if the fit succeeded.
	Err error
}

// EnumerationConfig configures model selection by subset enumeration.
type EnumerationConfig struct {

	// FailOnError makes any fit failure fatal for the whole enumeration.
	// When false (the default), failed candidates are logged and excluded
	// from the information criterion comparison.
	FailOnError bool

	// Log receives warnings about excluded candidates, if not nil.
	Log *log.Logger
}

// EnumerationResult holds the fits of all covariate subsets and the indices
// of the selected candidates.
type EnumerationResult struct {

	// Candidates holds one entry per subset, in enumeration order.
	Candidates []Candidate

	// BestBIC is the index into Candidates of the BIC-minimizing
	// candidate, or -1 if no candidate was fit successfully.  This is
	// the candidate carried forward by model selection.
	BestBIC int

	// BestAIC is the index of the AIC-minimizing candidate, recorded for
	// diagnostic comparison only.
	BestAIC int
}

// Selected returns the covariates of the BIC-selected candidate.
func (er *EnumerationResult) Selected() []string {
	if er.BestBIC == -1 {
		return nil
	}
	return er.Candidates[er.BestBIC].Covariates
}

// Subsets returns every subset of the given covariate names, including the
// empty set, ordered by increasing cardinality and lexicographically within
// a cardinality.  The order is deterministic and is the tie-break order for
// model selection.
func Subsets(names []string) [][]string {

	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	n := len(sorted)
	subsets := [][]string{{}}

	for size := 1; size <= n; size++ {
		// Fixed-size combinations in lexicographic order.
		ix := make([]int, size)
		for i := range ix {
			ix[i] = i
		}
		for {
			s := make([]string, size)
			for i, j := range ix {
				s[i] = sorted[j]
			}
			subsets = append(subsets, s)

			// Advance to the next combination.
			k := size - 1
			for k >= 0 && ix[k] == n-size+k {
				k--
			}
			if k < 0 {
				break
			}
			ix[k]++
			for i := k + 1; i < size; i++ {
				ix[i] = ix[i-1] + 1
			}
		}
	}

	return subsets
}

// SelectModels fits a model for every subset of the candidate covariates
// (2^len(candidates) fits including the no-covariate baseline) and selects
// the subset minimizing BIC.  The AIC-minimizing subset is recorded as well
// but does not drive selection.
//
// Candidates are visited by increasing subset size, lexicographically within
// a size, and the first minimum encountered wins ties, so a smaller model is
// preferred when information criteria are exactly equal.
func SelectModels(candidates []string, fit SubsetFitter, config *EnumerationConfig) (*EnumerationResult, error) {

	if config == nil {
		config = &EnumerationConfig{}
	}

	er := &EnumerationResult{
		BestBIC: -1,
		BestAIC: -1,
	}

	for _, sub := range Subsets(candidates) {

		aic, bic, err := fit(sub)
		if err != nil {
			if config.FailOnError {
				return nil, fmt.Errorf("SelectModels: fit with covariates %v failed: %v", sub, err)
			}
			if config.Log != nil {
				config.Log.Printf("SelectModels: excluding covariates %v: %v", sub, err)
			}
			er.Candidates = append(er.Candidates, Candidate{
				Covariates: sub,
				AIC:        math.NaN(),
				BIC:        math.NaN(),
				Err:        err,
			})
			continue
		}

		er.Candidates = append(er.Candidates, Candidate{Covariates: sub, AIC: aic, BIC: bic})

		k := len(er.Candidates) - 1
		if er.BestBIC == -1 || bic < er.Candidates[er.BestBIC].BIC {
			er.BestBIC = k
		}
		if er.BestAIC == -1 || aic < er.Candidates[er.BestAIC].AIC {
			er.BestAIC = k
		}
	}

	if er.BestBIC == -1 {
		return er, fmt.Errorf("SelectModels: no candidate model could be fit")
	}

	return er, nil
}

// Summary returns a text table of all candidates and their information
// criteria, with the selected candidates marked.
func (er *EnumerationResult) Summary() *SummaryTable {

	var labels []string
	var aic, bic []float64
	var note []string

	for k, c := range er.Candidates {
		la := "(none)"
		if len(c.Covariates) > 0 {
			la = fmt.Sprint(c.Covariates)
		}
		labels = append(labels, la)
		aic = append(aic, c.AIC)
		bic = append(bic, c.BIC)

		switch {
		case c.Err != nil:
			note = append(note, "failed")
		case k == er.BestBIC && k == er.BestAIC:
			note = append(note, "<- min BIC, min AIC")
		case k == er.BestBIC:
			note = append(note, "<- min BIC")
		case k == er.BestAIC:
			note = append(note, "<- min AIC")
		default:
			note = append(note, "")
		}
	}

	return &SummaryTable{
		Title:    "Covariate subset enumeration",
		ColNames: []string{"Covariates   ", "AIC", "BIC", "  "},
		ColFmt:   []Fmter{StringFmter, NumberFmter, NumberFmter, StringFmter},
		Cols:     []interface{}{labels, aic, bic, note},
		Top: []string{
			fmt.Sprintf("Candidates: %d", len(er.Candidates)),
		},
	}
}
