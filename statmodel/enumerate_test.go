package statmodel

import (
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"testing"
)

func TestSubsets(t *testing.T) {

	subsets := Subsets([]string{"smoking", "age", "sex"})

	if len(subsets) != 8 {
		t.Fatalf("got %d subsets, want 8", len(subsets))
	}

	expected := [][]string{
		{},
		{"age"}, {"sex"}, {"smoking"},
		{"age", "sex"}, {"age", "smoking"}, {"sex", "smoking"},
		{"age", "sex", "smoking"},
	}

	seen := make(map[string]bool)
	for k, s := range subsets {
		key := strings.Join(s, "+")
		if seen[key] {
			t.Errorf("subset %v appears more than once", s)
		}
		seen[key] = true

		if strings.Join(expected[k], "+") != key {
			t.Errorf("position %d: got %v, want %v", k, s, expected[k])
		}
	}
}

func TestSubsetsEmpty(t *testing.T) {

	subsets := Subsets(nil)
	if len(subsets) != 1 || len(subsets[0]) != 0 {
		t.Errorf("got %v, want only the empty subset", subsets)
	}
}

// icByKey fits nothing; it looks up fixed information criteria per subset.
func icByKey(ic map[string][2]float64) SubsetFitter {
	return func(cov []string) (float64, float64, error) {
		v, ok := ic[strings.Join(cov, "+")]
		if !ok {
			return 0, 0, fmt.Errorf("did not converge")
		}
		return v[0], v[1], nil
	}
}

func TestSelectModels(t *testing.T) {

	ic := map[string][2]float64{
		"":                {110, 120},
		"age":             {100, 112},
		"sex":             {104, 116},
		"smoking":         {103, 115},
		"age+sex":         {99, 113},
		"age+smoking":     {98, 114},
		"sex+smoking":     {105, 119},
		"age+sex+smoking": {97, 118},
	}

	er, err := SelectModels([]string{"age", "sex", "smoking"}, icByKey(ic), nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(er.Candidates) != 8 {
		t.Fatalf("got %d candidates, want 8", len(er.Candidates))
	}

	sel := strings.Join(er.Selected(), "+")
	if sel != "age" {
		t.Errorf("BIC selection: got %q, want %q", sel, "age")
	}

	best := strings.Join(er.Candidates[er.BestAIC].Covariates, "+")
	if best != "age+sex+smoking" {
		t.Errorf("AIC minimum: got %q, want %q", best, "age+sex+smoking")
	}
}

func TestSelectModelsDeterministic(t *testing.T) {

	ic := map[string][2]float64{
		"":    {10, 10},
		"a":   {10, 10},
		"b":   {10, 10},
		"a+b": {10, 10},
	}

	// All criteria tie: the first candidate in enumeration order (the
	// baseline) must win, on every rerun.
	for rep := 0; rep < 3; rep++ {
		er, err := SelectModels([]string{"b", "a"}, icByKey(ic), nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(er.Selected()) != 0 {
			t.Errorf("tie-break: got %v, want the baseline", er.Selected())
		}
		if er.BestBIC != 0 || er.BestAIC != 0 {
			t.Errorf("tie-break indices: got %d, %d", er.BestBIC, er.BestAIC)
		}
	}
}

func TestSelectModelsNonConvergence(t *testing.T) {

	// The AIC-best subset fails to converge and must be excluded.
	ic := map[string][2]float64{
		"":  {110, 120},
		"b": {104, 113},
	}

	lg := log.New(os.Stderr, "", 0)
	er, err := SelectModels([]string{"a", "b"}, icByKey(ic), &EnumerationConfig{Log: lg})
	if err != nil {
		t.Fatal(err)
	}

	if len(er.Candidates) != 4 {
		t.Fatalf("got %d candidates, want 4", len(er.Candidates))
	}

	sel := strings.Join(er.Selected(), "+")
	if sel != "b" {
		t.Errorf("selection with failures: got %q, want %q", sel, "b")
	}

	var nfail int
	for _, c := range er.Candidates {
		if c.Err != nil {
			nfail++
			if !math.IsNaN(c.AIC) || !math.IsNaN(c.BIC) {
				t.Errorf("failed candidate has non-NaN criteria")
			}
		}
	}
	if nfail != 2 {
		t.Errorf("got %d failed candidates, want 2", nfail)
	}
}

func TestSelectModelsFailOnError(t *testing.T) {

	fit := func(cov []string) (float64, float64, error) {
		if len(cov) == 2 {
			return 0, 0, fmt.Errorf("did not converge")
		}
		return 100, 100, nil
	}

	_, err := SelectModels([]string{"a", "b"}, fit, &EnumerationConfig{FailOnError: true})
	if err == nil {
		t.Errorf("expected error with FailOnError")
	}
}

func TestSelectModelsAllFail(t *testing.T) {

	fit := func(cov []string) (float64, float64, error) {
		return 0, 0, fmt.Errorf("did not converge")
	}

	_, err := SelectModels([]string{"a"}, fit, nil)
	if err == nil {
		t.Errorf("expected error when every candidate fails")
	}
}
