package services

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPlanDistribution(t *testing.T) {
	plan := Plan()
	if len(plan) != 15 {
		t.Fatalf("expected 15 combinations, got %d", len(plan))
	}
	for size, want := range map[int]int{1: 4, 2: 6, 3: 4, 4: 1} {
		if got := len(plan.Tier(size)); got != want {
			t.Fatalf("expected %d combinations of size %d, got %d", want, size, got)
		}
	}
	seen := map[FeatureCombination]bool{}
	for _, c := range plan {
		if c.IsEmpty() {
			t.Fatalf("plan contains the empty combination")
		}
		if seen[c] {
			t.Fatalf("duplicate combination %s", c)
		}
		seen[c] = true
	}
}

func TestPlanKeysAreCanonicalAndStable(t *testing.T) {
	want := []string{
		"Name", "Age", "Location", "Gender",
		"Name,Age", "Name,Location", "Name,Gender", "Age,Location", "Age,Gender", "Location,Gender",
		"Name,Age,Location", "Name,Age,Gender", "Name,Location,Gender", "Age,Location,Gender",
		"Name,Age,Location,Gender",
	}
	if diff := cmp.Diff(want, Plan().Keys()); diff != "" {
		t.Fatalf("unexpected plan keys (-want +got):\n%s", diff)
	}
}

func TestPlanReturnsCopy(t *testing.T) {
	first := Plan()
	first[0] = first[14]
	if Plan()[0].String() != "Name" {
		t.Fatalf("expected Plan to be unaffected by caller mutation")
	}
}
