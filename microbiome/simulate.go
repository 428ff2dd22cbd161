package microbiome

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// SimulateCohort generates a synthetic example cohort: 15 controls and 57
// Crohn's patients (28 staying in remission, 29 moving to exacerbation),
// each seen at two visits, 144 observations in total.  Abundances follow a
// lognormal mechanism with a per-subject level, a group-dependent shift at
// the second visit, and occasional values below the detection limit.  The
// output is deterministic for a given seed.
func SimulateCohort(seed uint64) []Observation {

	src := rand.NewSource(seed)

	stdnorm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	agedist := distuv.Normal{Mu: 42, Sigma: 11, Src: src}
	unif := distuv.Uniform{Min: 0, Max: 1, Src: src}

	// Subject counts per group
	counts := []int{15, 28, 29}

	// Mean log-abundance by group, and the shift applied at visit 2
	level := []float64{6.2, 5.6, 5.4}
	shift := []float64{0, 0.1, -0.9}

	var obs []Observation
	subject := 0

	for group, ngrp := range counts {
		for s := 0; s < ngrp; s++ {

			subject++
			id := fmt.Sprintf("S%03d", subject)

			age := agedist.Rand()
			if age < 18 {
				age = 18
			}

			sex := SexFemale
			if unif.Rand() < 0.45 {
				sex = SexMale
			}

			smoking := SmokingNever
			switch u := unif.Rand(); {
			case u < 0.25:
				smoking = SmokingEx
			case u < 0.45:
				smoking = SmokingCurrent
			}

			// Subject-level intercept and visit trend
			b0 := 0.9 * stdnorm.Rand()
			b1 := 0.4 * stdnorm.Rand()

			for visit := 1; visit <= 2; visit++ {

				m := level[group] + b0
				if visit == 2 {
					m += shift[group] + b1
				}

				// Scaled abundance, de-scaled to the raw
				// relative abundance of the schema
				dens := math.Exp(m+0.5*stdnorm.Rand()) / 1000

				// Values under the detection limit are
				// recorded as zero abundance.
				if unif.Rand() < 0.06 {
					dens = 0
				}

				status := 0
				if group != GroupControl {
					status = 1
					if group == GroupRemissionExacerbation && visit == 2 {
						status = 2
					}
				}

				obs = append(obs, Observation{
					Individual: id,
					Visit:      visit,
					Group:      group,
					Status:     status,
					Age:        age,
					Sex:        sex,
					Smoking:    smoking,
					Density:    dens,
				})
			}
		}
	}

	return obs
}
