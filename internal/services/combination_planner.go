package services

import (
	"fmt"

	domain "github.com/adperception/survey/internal/domain"
)

// CombinationPlan is the ordered schedule of feature combinations every batch must instantiate.
type CombinationPlan []FeatureCombination

// tierSizes is the required number of combinations per combination size.
var tierSizes = map[int]int{1: 4, 2: 6, 3: 4, 4: 1}

var requiredPlan = buildPlan()

// Plan returns the fixed 15-entry plan: every non-empty subset of the four features, ordered by
// size and then by canonical feature order. The result is independent of any participant.
func Plan() CombinationPlan {
	return append(CombinationPlan(nil), requiredPlan...)
}

func buildPlan() CombinationPlan {
	features := domain.Features()
	var plan CombinationPlan
	for size := 1; size <= len(features); size++ {
		for _, combo := range subsetsOfSize(features, size) {
			plan = append(plan, domain.NewFeatureCombination(combo...))
		}
	}
	for size, want := range tierSizes {
		if got := len(plan.Tier(size)); got != want {
			panic(fmt.Sprintf("combination plan: tier %d has %d combinations, want %d", size, got, want))
		}
	}
	return plan
}

// subsetsOfSize enumerates size-k subsets in lexicographic order of positions in features.
func subsetsOfSize(features []domain.Feature, k int) [][]domain.Feature {
	var out [][]domain.Feature
	var walk func(start int, acc []domain.Feature)
	walk = func(start int, acc []domain.Feature) {
		if len(acc) == k {
			out = append(out, append([]domain.Feature(nil), acc...))
			return
		}
		for i := start; i < len(features); i++ {
			walk(i+1, append(acc, features[i]))
		}
	}
	walk(0, nil)
	return out
}

// Tier returns the combinations of the given size in plan order.
func (p CombinationPlan) Tier(size int) []FeatureCombination {
	var out []FeatureCombination
	for _, c := range p {
		if c.Size() == size {
			out = append(out, c)
		}
	}
	return out
}

// Keys renders every combination as its canonical key.
func (p CombinationPlan) Keys() []string {
	keys := make([]string, len(p))
	for i, c := range p {
		keys[i] = c.String()
	}
	return keys
}

// Contains reports whether c is planned.
func (p CombinationPlan) Contains(c FeatureCombination) bool {
	for _, planned := range p {
		if planned == c {
			return true
		}
	}
	return false
}
