package microbiome

import (
	"testing"
)

func TestSimulateCohort(t *testing.T) {

	obs := SimulateCohort(1)

	// 15 controls + 57 patients, two visits each.
	if len(obs) != 144 {
		t.Fatalf("got %d observations, want 144", len(obs))
	}

	counts := make(map[int]map[string]bool)
	for g := 0; g < 3; g++ {
		counts[g] = make(map[string]bool)
	}
	for _, o := range obs {
		counts[o.Group][o.Individual] = true
	}
	if len(counts[GroupControl]) != 15 {
		t.Errorf("got %d controls, want 15", len(counts[GroupControl]))
	}
	if len(counts[GroupRemissionRemission])+len(counts[GroupRemissionExacerbation]) != 57 {
		t.Errorf("got %d patients, want 57",
			len(counts[GroupRemissionRemission])+len(counts[GroupRemissionExacerbation]))
	}

	// The generated data passes cohort validation.
	c, err := NewCohort(obs)
	if err != nil {
		t.Fatal(err)
	}
	if c.Dataset().NumObs() != 144 {
		t.Errorf("dataset has %d rows, want 144", c.Dataset().NumObs())
	}

	// Controls never carry a disease status.
	for _, o := range obs {
		if o.Group == GroupControl && o.Status != 0 {
			t.Errorf("control %s has status %d", o.Individual, o.Status)
		}
	}
}

func TestSimulateDeterministic(t *testing.T) {

	a := SimulateCohort(7)
	b := SimulateCohort(7)

	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("observation %d differs between reruns of the same seed", i)
		}
	}

	c := SimulateCohort(8)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Errorf("different seeds produced identical cohorts")
	}
}
