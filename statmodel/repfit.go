package statmodel

import (
	"fmt"
	"log"
	"math"
	"sort"
)

// QuantileRunner performs one independent fit of a fixed model specification
// at the given quantile levels, returning one coefficient table per quantile
// in the same order.  rep identifies the replicate, so that a runner can
// derive a per-replicate starting point; no solver state may be shared
// between calls.
type QuantileRunner func(rep int, taus []float64) ([]*CoefTable, error)

// RepFitConfig configures repeated fitting and aggregation.
type RepFitConfig struct {

	// Replicates is the number of independent fits.  The default is
	// DefaultReplicates.
	Replicates int

	// FailOnError makes any replicate failure fatal.  When false (the
	// default), failed replicates are logged and contribute no values to
	// the medians.
	FailOnError bool

	// Log receives warnings about failed replicates, if not nil.
	Log *log.Logger
}

// DefaultReplicates is the default number of repeated fits per
// specification.
const DefaultReplicates = 10

// RepFitResult holds element-wise medians over repeated fits of one model
// specification: one consolidated coefficient table per quantile, where
// every cell is the median of that cell over the replicates that produced
// a value for it.
type RepFitResult struct {

	// Taus contains the quantile levels, in the order requested.
	Taus []float64

	// Terms contains the fixed-effects term names shared by all tables.
	Terms []string

	// Tables contains one median coefficient table per quantile, aligned
	// with Taus.
	Tables []*CoefTable

	// LowConfidence[q][i][s] is true when fewer than half of the
	// replicates produced a value for statistic s of term i at quantile
	// Taus[q].  The median of the contributing values is still reported.
	LowConfidence [][][]bool

	// Replicates is the number of fits attempted.
	Replicates int

	// Failed contains the indices of replicates whose fit failed
	// entirely.
	Failed []int
}

// Table returns the median coefficient table for the given quantile level,
// or nil if the level was not fit.
func (rr *RepFitResult) Table(tau float64) *CoefTable {
	for q, t := range rr.Taus {
		if t == tau {
			return rr.Tables[q]
		}
	}
	return nil
}

// medianDropNaN returns the median of the non-NaN elements of x, averaging
// the two central values when their count is even.  It returns NaN when no
// element is present.
func medianDropNaN(x []float64) float64 {

	v := make([]float64, 0, len(x))
	for _, u := range x {
		if !math.IsNaN(u) {
			v = append(v, u)
		}
	}

	m := len(v)
	if m == 0 {
		return math.NaN()
	}

	sort.Float64s(v)
	if m%2 == 1 {
		return v[m/2]
	}
	return (v[m/2-1] + v[m/2]) / 2
}

// RepFit fits one model specification Replicates times at each of the given
// quantile levels and aggregates the resulting coefficient tables by
// element-wise median.  Medians are taken independently for every (quantile,
// term, statistic) cell, only ever across replicates.  Replicates that fail
// are excluded; cells missing from an individual replicate (NaN) are
// excluded from that cell's median only.
func RepFit(taus []float64, run QuantileRunner, config *RepFitConfig) (*RepFitResult, error) {

	if config == nil {
		config = &RepFitConfig{}
	}
	nrep := config.Replicates
	if nrep <= 0 {
		nrep = DefaultReplicates
	}
	if len(taus) == 0 {
		return nil, fmt.Errorf("RepFit: no quantile levels given")
	}

	var fits [][]*CoefTable
	var failed []int

	for rep := 0; rep < nrep; rep++ {
		tables, err := run(rep, taus)
		if err != nil {
			if config.FailOnError {
				return nil, fmt.Errorf("RepFit: replicate %d failed: %v", rep, err)
			}
			if config.Log != nil {
				config.Log.Printf("RepFit: excluding replicate %d: %v", rep, err)
			}
			failed = append(failed, rep)
			continue
		}
		if len(tables) != len(taus) {
			return nil, fmt.Errorf("RepFit: replicate %d returned %d tables for %d quantiles",
				rep, len(tables), len(taus))
		}
		fits = append(fits, tables)
	}

	if len(fits) == 0 {
		return nil, fmt.Errorf("RepFit: all %d replicates failed", nrep)
	}

	// The row set is fixed by the first successful replicate; every table
	// of every replicate must carry the same terms.
	terms := fits[0][0].Terms
	for _, tables := range fits {
		for _, t := range tables {
			if len(t.Terms) != len(terms) {
				return nil, fmt.Errorf("RepFit: coefficient tables disagree on terms: %v vs %v",
					t.Terms, terms)
			}
			for i := range terms {
				if t.Terms[i] != terms[i] {
					return nil, fmt.Errorf("RepFit: coefficient tables disagree on terms: %v vs %v",
						t.Terms, terms)
				}
			}
		}
	}

	rr := &RepFitResult{
		Taus:       taus,
		Terms:      terms,
		Replicates: nrep,
		Failed:     failed,
	}

	cell := make([]float64, 0, len(fits))

	for q := range taus {

		med := NewCoefTable(terms)
		medStats := med.Stats()
		low := make([][]bool, len(terms))

		for i := range terms {
			low[i] = make([]bool, len(medStats))

			for s := range medStats {
				cell = cell[:0]
				for _, tables := range fits {
					cell = append(cell, tables[q].Stats()[s][i])
				}

				medStats[s][i] = medianDropNaN(cell)

				present := 0
				for _, u := range cell {
					if !math.IsNaN(u) {
						present++
					}
				}
				low[i][s] = 2*present < nrep
			}
		}

		rr.Tables = append(rr.Tables, med)
		rr.LowConfidence = append(rr.LowConfidence, low)
	}

	return rr, nil
}

// Summary returns a text table of the median coefficient estimates for the
// given quantile level.
func (rr *RepFitResult) Summary(tau float64) *SummaryTable {

	t := rr.Table(tau)
	if t == nil {
		msg := fmt.Sprintf("RepFitResult: quantile %.3f was not fit\n", tau)
		panic(msg)
	}

	return &SummaryTable{
		Title:    "Median coefficients over repeated fits",
		ColNames: []string{"Term   ", "Estimate", "SE", "LCB", "UCB", "P-value"},
		ColFmt:   []Fmter{StringFmter, NumberFmter, NumberFmter, NumberFmter, NumberFmter, NumberFmter},
		Cols:     []interface{}{t.Terms, t.Est, t.SE, t.LCB, t.UCB, t.PValue},
		Top: []string{
			fmt.Sprintf("Quantile:   %.3f", tau),
			fmt.Sprintf("Replicates: %d (%d failed)", rr.Replicates, len(rr.Failed)),
		},
	}
}
