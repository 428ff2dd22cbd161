// Package microbiome implements a longitudinal analysis of bacterial taxon
// abundance in a Crohn's disease cohort: it defines the observation schema,
// derives the modeling columns, and drives quantile mixed-model selection
// and repeated fitting over the abundance distribution.
package microbiome

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"quantmix/statmodel"
)

// Group labels.
const (
	GroupControl = iota
	GroupRemissionRemission
	GroupRemissionExacerbation
)

// Smoking levels.
const (
	SmokingEx      = "ex"
	SmokingNever   = "never"
	SmokingCurrent = "current"
)

// Sex levels.
const (
	SexFemale = "female"
	SexMale   = "male"
)

// detectionFloor is the scaled-abundance value substituted inside the
// logarithm for abundances at or below the detection limit.
const detectionFloor = 100

// Observation is one individual-by-visit record of the cohort.
type Observation struct {
	Individual string
	Visit      int // 1 or 2
	Group      int // control / remission-remission / remission-exacerbation
	Status     int // disease status, 3 levels
	Age        float64
	Sex        string
	Smoking    string
	Density    float64 // raw relative abundance, >= 0
}

// Names of the derived model columns.
const (
	colSubject    = "subject"
	colIcept      = "icept"
	colGroup1     = "group1"
	colGroup2     = "group2"
	colVisit2     = "visit2"
	colGroup1Vis2 = "group1:visit2"
	colGroup2Vis2 = "group2:visit2"
	colAgeC       = "age_c"
	colSexMale    = "sex_male"
	colSmokeEx    = "smoke_ex"
	colSmokeCur   = "smoke_current"
	colDensScaled = "density_scaled"
	colLogDensity = "log_density"
)

// Cohort holds a validated set of observations together with the derived
// model dataset.
type Cohort struct {
	obs      []Observation
	subjects []string
	ds       statmodel.Dataset
}

func (o Observation) validate(row int) error {

	where := fmt.Sprintf("observation %d (individual %s)", row, o.Individual)

	if o.Individual == "" {
		return fmt.Errorf("observation %d: empty individual identifier", row)
	}
	if o.Visit != 1 && o.Visit != 2 {
		return fmt.Errorf("%s: visit is %d, must be 1 or 2", where, o.Visit)
	}
	if o.Group < GroupControl || o.Group > GroupRemissionExacerbation {
		return fmt.Errorf("%s: unknown group level %d", where, o.Group)
	}
	if o.Status < 0 || o.Status > 2 {
		return fmt.Errorf("%s: unknown status level %d", where, o.Status)
	}
	if o.Sex != SexFemale && o.Sex != SexMale {
		return fmt.Errorf("%s: unknown sex level %q", where, o.Sex)
	}
	switch o.Smoking {
	case SmokingEx, SmokingNever, SmokingCurrent:
	default:
		return fmt.Errorf("%s: unknown smoking level %q", where, o.Smoking)
	}
	if o.Density < 0 || math.IsNaN(o.Density) {
		return fmt.Errorf("%s: density is %v, must be non-negative", where, o.Density)
	}

	return nil
}

// NewCohort validates the observations and builds the model dataset with
// its derived columns.  Every individual must contribute exactly one
// observation per visit.
func NewCohort(obs []Observation) (*Cohort, error) {

	if len(obs) == 0 {
		return nil, fmt.Errorf("cohort is empty")
	}

	// Per-row contract checks
	for i, o := range obs {
		if err := o.validate(i); err != nil {
			return nil, err
		}
	}

	// Every individual has exactly one observation at each visit.
	type visits struct{ v1, v2 int }
	seen := make(map[string]*visits)
	var subjects []string
	for _, o := range obs {
		vs, ok := seen[o.Individual]
		if !ok {
			vs = &visits{}
			seen[o.Individual] = vs
			subjects = append(subjects, o.Individual)
		}
		if o.Visit == 1 {
			vs.v1++
		} else {
			vs.v2++
		}
	}
	for _, id := range subjects {
		vs := seen[id]
		if vs.v1 != 1 || vs.v2 != 1 {
			return nil, fmt.Errorf("individual %s has %d visit-1 and %d visit-2 observations, expected one of each",
				id, vs.v1, vs.v2)
		}
	}

	// Derived columns
	n := len(obs)
	var agemean float64
	for _, o := range obs {
		agemean += o.Age
	}
	agemean /= float64(n)

	code := make(map[string]int)
	for k, id := range subjects {
		code[id] = k
	}

	cols := make([][]statmodel.Dtype, 13)
	for j := range cols {
		cols[j] = make([]statmodel.Dtype, n)
	}
	names := []string{
		colSubject, colIcept, colGroup1, colGroup2, colVisit2,
		colGroup1Vis2, colGroup2Vis2, colAgeC, colSexMale,
		colSmokeEx, colSmokeCur, colDensScaled, colLogDensity,
	}

	for i, o := range obs {

		g1 := btof(o.Group == GroupRemissionRemission)
		g2 := btof(o.Group == GroupRemissionExacerbation)
		v2 := btof(o.Visit == 2)

		dscl := o.Density * 1000
		logd := math.Log(detectionFloor)
		if dscl > 0 {
			logd = math.Log(dscl)
		}

		cols[0][i] = float64(code[o.Individual])
		cols[1][i] = 1
		cols[2][i] = g1
		cols[3][i] = g2
		cols[4][i] = v2
		cols[5][i] = g1 * v2
		cols[6][i] = g2 * v2
		cols[7][i] = o.Age - agemean
		cols[8][i] = btof(o.Sex == SexMale)
		cols[9][i] = btof(o.Smoking == SmokingEx)
		cols[10][i] = btof(o.Smoking == SmokingCurrent)
		cols[11][i] = dscl
		cols[12][i] = logd
	}

	return &Cohort{
		obs:      obs,
		subjects: subjects,
		ds:       statmodel.NewDataset(cols, names),
	}, nil
}

func btof(b bool) statmodel.Dtype {
	if b {
		return 1
	}
	return 0
}

// Observations returns the validated observations.
func (c *Cohort) Observations() []Observation {
	return c.obs
}

// Subjects returns the individual identifiers in order of first appearance.
func (c *Cohort) Subjects() []string {
	return c.subjects
}

// Dataset returns the derived model dataset.
func (c *Cohort) Dataset() statmodel.Dataset {
	return c.ds
}

// Outcome returns the name of the modeled outcome column.
func (c *Cohort) Outcome() string {
	return colLogDensity
}

// GroupVar returns the name of the grouping column.
func (c *Cohort) GroupVar() string {
	return colSubject
}

// SlopeVar returns the name of the random-slope column.
func (c *Cohort) SlopeVar() string {
	return colVisit2
}

// BaseTerms returns the fixed-effects terms of the core model: intercept,
// group main effects, visit, and the group-by-visit interactions.
func (c *Cohort) BaseTerms() []string {
	return []string{colIcept, colGroup1, colGroup2, colVisit2, colGroup1Vis2, colGroup2Vis2}
}

// CovariateColumns maps an optional covariate name to its model columns;
// the categorical covariates expand to their dummy columns.
func CovariateColumns(name string) ([]string, error) {
	switch name {
	case "age":
		return []string{colAgeC}, nil
	case "sex":
		return []string{colSexMale}, nil
	case "smoking":
		return []string{colSmokeEx, colSmokeCur}, nil
	}
	return nil, fmt.Errorf("unknown covariate '%s'", name)
}

// Predictors returns the full fixed-effects term list for a model including
// the given optional covariates.
func (c *Cohort) Predictors(covariates []string) ([]string, error) {

	preds := append([]string{}, c.BaseTerms()...)
	for _, cov := range covariates {
		cols, err := CovariateColumns(cov)
		if err != nil {
			return nil, err
		}
		preds = append(preds, cols...)
	}

	return preds, nil
}

// ReadObservations reads observations from CSV data with the header
// individual,visit,group,status,age,sex,smoking,density.
func ReadObservations(r io.Reader) ([]Observation, error) {

	rd := csv.NewReader(r)

	hdr, err := rd.Read()
	if err != nil {
		return nil, err
	}

	pos := make(map[string]int)
	for j, na := range hdr {
		pos[na] = j
	}
	for _, na := range []string{"individual", "visit", "group", "status", "age", "sex", "smoking", "density"} {
		if _, ok := pos[na]; !ok {
			return nil, fmt.Errorf("missing column '%s'", na)
		}
	}

	var obs []Observation
	for row := 1; ; row++ {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		geti := func(na string) (int, error) {
			v, err := strconv.Atoi(rec[pos[na]])
			if err != nil {
				return 0, fmt.Errorf("row %d, column '%s': %v", row, na, err)
			}
			return v, nil
		}

		visit, err := geti("visit")
		if err != nil {
			return nil, err
		}
		group, err := geti("group")
		if err != nil {
			return nil, err
		}
		status, err := geti("status")
		if err != nil {
			return nil, err
		}
		age, err := strconv.ParseFloat(rec[pos["age"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d, column 'age': %v", row, err)
		}
		density, err := strconv.ParseFloat(rec[pos["density"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d, column 'density': %v", row, err)
		}

		obs = append(obs, Observation{
			Individual: rec[pos["individual"]],
			Visit:      visit,
			Group:      group,
			Status:     status,
			Age:        age,
			Sex:        rec[pos["sex"]],
			Smoking:    rec[pos["smoking"]],
			Density:    density,
		})
	}

	return obs, nil
}
