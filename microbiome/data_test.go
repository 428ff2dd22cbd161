package microbiome

import (
	"math"
	"strings"
	"testing"
)

func smallObs() []Observation {
	return []Observation{
		{Individual: "A", Visit: 1, Group: 0, Status: 0, Age: 30, Sex: SexFemale, Smoking: SmokingNever, Density: 0.2},
		{Individual: "A", Visit: 2, Group: 0, Status: 0, Age: 30, Sex: SexFemale, Smoking: SmokingNever, Density: 0.25},
		{Individual: "B", Visit: 1, Group: 1, Status: 1, Age: 50, Sex: SexMale, Smoking: SmokingEx, Density: 0},
		{Individual: "B", Visit: 2, Group: 1, Status: 1, Age: 50, Sex: SexMale, Smoking: SmokingEx, Density: 0.1},
		{Individual: "C", Visit: 1, Group: 2, Status: 1, Age: 40, Sex: SexMale, Smoking: SmokingCurrent, Density: 0.05},
		{Individual: "C", Visit: 2, Group: 2, Status: 2, Age: 40, Sex: SexMale, Smoking: SmokingCurrent, Density: 0.01},
	}
}

func TestLogDensityFloor(t *testing.T) {

	c, err := NewCohort(smallObs())
	if err != nil {
		t.Fatal(err)
	}

	ds := c.Dataset()
	dscl := ds.Column(colDensScaled)
	logd := ds.Column(colLogDensity)

	for i := range dscl {
		if dscl[i] <= 0 {
			if math.Abs(logd[i]-math.Log(100)) > 1e-12 {
				t.Errorf("row %d: floored log density is %v, want ln(100)=%v", i, logd[i], math.Log(100))
			}
		} else {
			if math.Abs(logd[i]-math.Log(dscl[i])) > 1e-12 {
				t.Errorf("row %d: log density is %v, want %v", i, logd[i], math.Log(dscl[i]))
			}
		}
	}

	// The zero-density row is floored to exactly ln(100).
	if math.Abs(logd[2]-4.605170185988092) > 1e-12 {
		t.Errorf("floored value: got %v", logd[2])
	}
}

func TestAgeCentering(t *testing.T) {

	c, err := NewCohort(smallObs())
	if err != nil {
		t.Fatal(err)
	}

	agec := c.Dataset().Column(colAgeC)

	var sum float64
	for _, v := range agec {
		sum += v
	}
	if math.Abs(sum) > 1e-9 {
		t.Errorf("centered ages sum to %v, want 0", sum)
	}

	// mean age is 40; subject A is 30.
	if math.Abs(agec[0]-(-10)) > 1e-12 {
		t.Errorf("centered age: got %v, want -10", agec[0])
	}
}

func TestInteractionColumns(t *testing.T) {

	c, err := NewCohort(smallObs())
	if err != nil {
		t.Fatal(err)
	}
	ds := c.Dataset()

	g2 := ds.Column(colGroup2)
	v2 := ds.Column(colVisit2)
	g2v2 := ds.Column(colGroup2Vis2)
	for i := range g2 {
		if g2v2[i] != g2[i]*v2[i] {
			t.Errorf("row %d: interaction cell %v != %v * %v", i, g2v2[i], g2[i], v2[i])
		}
	}
}

func TestValidation(t *testing.T) {

	for _, tc := range []struct {
		name   string
		mut    func([]Observation) []Observation
		substr string
	}{
		{
			"unknown smoking",
			func(o []Observation) []Observation { o[3].Smoking = "pipe"; return o },
			"smoking",
		},
		{
			"unknown group",
			func(o []Observation) []Observation { o[0].Group = 7; return o },
			"group",
		},
		{
			"negative density",
			func(o []Observation) []Observation { o[5].Density = -0.1; return o },
			"density",
		},
		{
			"bad visit",
			func(o []Observation) []Observation { o[1].Visit = 3; return o },
			"visit",
		},
		{
			"missing visit",
			func(o []Observation) []Observation { return o[0:5] },
			"expected one of each",
		},
		{
			"duplicated visit",
			func(o []Observation) []Observation { o[1].Visit = 1; return o },
			"expected one of each",
		},
	} {
		obs := tc.mut(smallObs())
		_, err := NewCohort(obs)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.substr) {
			t.Errorf("%s: error %q does not identify the problem", tc.name, err)
		}
	}
}

func TestPredictors(t *testing.T) {

	c, err := NewCohort(smallObs())
	if err != nil {
		t.Fatal(err)
	}

	base := c.BaseTerms()
	if len(base) != 6 {
		t.Fatalf("got %d base terms, want 6", len(base))
	}

	preds, err := c.Predictors([]string{"age", "smoking"})
	if err != nil {
		t.Fatal(err)
	}
	// 6 base terms + age_c + two smoking dummies
	if len(preds) != 9 {
		t.Errorf("got %d predictors, want 9: %v", len(preds), preds)
	}

	if _, err := c.Predictors([]string{"bmi"}); err == nil {
		t.Errorf("expected error for unknown covariate")
	}
}

func TestReadObservations(t *testing.T) {

	csvdata := `individual,visit,group,status,age,sex,smoking,density
A,1,0,0,30,female,never,0.2
A,2,0,0,30,female,never,0.25
`
	obs, err := ReadObservations(strings.NewReader(csvdata))
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 2 {
		t.Fatalf("got %d observations, want 2", len(obs))
	}
	if obs[1].Visit != 2 || obs[1].Density != 0.25 || obs[0].Individual != "A" {
		t.Errorf("parsed observations wrong: %+v", obs)
	}

	if _, err := ReadObservations(strings.NewReader("individual,visit\nA,1\n")); err == nil {
		t.Errorf("expected error for missing columns")
	}

	bad := `individual,visit,group,status,age,sex,smoking,density
A,one,0,0,30,female,never,0.2
`
	if _, err := ReadObservations(strings.NewReader(bad)); err == nil {
		t.Errorf("expected error for non-numeric visit")
	}
}
