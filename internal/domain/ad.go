package domain

// CombinationTag records which plan combination an ad was generated for. Generators do not
// always echo valid keys, so the tag is either Known or Unknown.
type CombinationTag struct {
	combination FeatureCombination
	known       bool
	raw         string
}

// KnownCombination tags an ad whose key resolved to c.
func KnownCombination(c FeatureCombination, raw string) CombinationTag {
	return CombinationTag{combination: c, known: true, raw: raw}
}

// UnknownCombination tags an ad whose key could not be resolved.
func UnknownCombination(raw string) CombinationTag {
	return CombinationTag{raw: raw}
}

// Combination returns the resolved combination and whether it is known.
func (t CombinationTag) Combination() (FeatureCombination, bool) {
	return t.combination, t.known
}

// IsKnown reports whether the key resolved.
func (t CombinationTag) IsKnown() bool { return t.known }

// RawKey returns the key exactly as the generator emitted it.
func (t CombinationTag) RawKey() string { return t.raw }

// Label renders the canonical key, or "unknown".
func (t CombinationTag) Label() string {
	if !t.known {
		return "unknown"
	}
	return t.combination.String()
}

// AdRecord is one generated advertisement.
type AdRecord struct {
	Text        string
	Combination CombinationTag
}

// BatchFidelity summarises how closely a parsed batch followed the combination plan.
type BatchFidelity struct {
	Planned    int
	Matched    int
	Unknown    []string
	Duplicated []string
	Missing    []string
}

// Faithful reports whether every planned combination appeared exactly once.
func (f BatchFidelity) Faithful() bool {
	return f.Planned > 0 && f.Matched == f.Planned && len(f.Unknown) == 0 && len(f.Duplicated) == 0 && len(f.Missing) == 0
}
