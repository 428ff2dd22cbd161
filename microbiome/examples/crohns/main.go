// This script reproduces the Crohn's disease abundance analysis on the
// synthetic example cohort: enumerate covariate subsets at the median,
// select by BIC, refit the selected model ten times per quantile, and plot
// the median coefficient estimates across quantiles against the ordinary
// linear mixed model fit.
package main

import (
	"fmt"
	"log"
	"os"

	"quantmix/lqmm"
	"quantmix/microbiome"
)

func main() {

	lg := log.New(os.Stderr, "crohns: ", 0)

	config := microbiome.DefaultAnalysisConfig()
	if _, err := os.Stat("analysis.yml"); err == nil {
		var err error
		config, err = microbiome.LoadAnalysisConfig("analysis.yml")
		if err != nil {
			panic(err)
		}
	}

	cohort, err := microbiome.NewCohort(microbiome.SimulateCohort(config.Seed))
	if err != nil {
		panic(err)
	}

	result, err := microbiome.RunAnalysis(cohort, config, lg)
	if err != nil {
		panic(err)
	}

	fmt.Print(result.Summary())
	fmt.Println()
	fmt.Print(result.RepFit.Summary(config.SelectionQuantile).String())
	if result.Mean != nil {
		fmt.Println()
		fmt.Print(result.Mean.Summary())
	}

	// Coefficient-by-quantile plot for the group-by-visit effects, with
	// the mean-model estimates overlaid.
	qp := lqmm.NewQuantPlotter().Width(7).Height(5)

	for _, term := range []string{"group1:visit2", "group2:visit2"} {

		est := make([]float64, len(result.RepFit.Taus))
		lcb := make([]float64, len(result.RepFit.Taus))
		ucb := make([]float64, len(result.RepFit.Taus))
		pv := make([]float64, len(result.RepFit.Taus))

		for q, tbl := range result.RepFit.Tables {
			i := tbl.Row(term)
			if i == -1 {
				panic(fmt.Sprintf("term %s missing from coefficient table", term))
			}
			est[q] = tbl.Est[i]
			lcb[q] = tbl.LCB[i]
			ucb[q] = tbl.UCB[i]
			pv[q] = tbl.PValue[i]
		}

		qp.Add(term, result.RepFit.Taus, est, lcb, ucb, pv)

		if result.Mean != nil {
			mt := result.Mean.CoefTable()
			if i := mt.Row(term); i != -1 {
				qp.AddReference(term+" (mean model)", mt.Est[i])
			}
		}
	}

	qp.Plot().Save("crohns_quantiles.pdf")
	fmt.Println("\nWrote crohns_quantiles.pdf")
}
