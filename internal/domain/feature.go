package domain

import (
	"math/bits"
	"strings"
)

// Feature is one personalisation attribute an ad may reference.
type Feature uint8

const (
	FeatureName Feature = 1 << iota
	FeatureAge
	FeatureLocation
	FeatureGender
)

// Features returns the four attributes in canonical order.
func Features() []Feature {
	return []Feature{FeatureName, FeatureAge, FeatureLocation, FeatureGender}
}

func (f Feature) String() string {
	switch f {
	case FeatureName:
		return "Name"
	case FeatureAge:
		return "Age"
	case FeatureLocation:
		return "Location"
	case FeatureGender:
		return "Gender"
	default:
		return ""
	}
}

// ParseFeature matches a feature label case-insensitively.
func ParseFeature(label string) (Feature, bool) {
	trimmed := strings.TrimSpace(label)
	for _, f := range Features() {
		if strings.EqualFold(trimmed, f.String()) {
			return f, true
		}
	}
	return 0, false
}

// FeatureCombination is a set of features stored as a bitmask, so equal sets compare equal.
type FeatureCombination uint8

const allFeaturesMask = FeatureCombination(FeatureName | FeatureAge | FeatureLocation | FeatureGender)

// NewFeatureCombination builds a combination from features; duplicates collapse.
func NewFeatureCombination(features ...Feature) FeatureCombination {
	var c FeatureCombination
	for _, f := range features {
		c |= FeatureCombination(f)
	}
	return c & allFeaturesMask
}

// Size reports how many features the combination holds.
func (c FeatureCombination) Size() int {
	return bits.OnesCount8(uint8(c & allFeaturesMask))
}

// IsEmpty reports whether no feature is set.
func (c FeatureCombination) IsEmpty() bool {
	return c&allFeaturesMask == 0
}

// Has reports whether f is part of the combination.
func (c FeatureCombination) Has(f Feature) bool {
	return c&FeatureCombination(f) != 0
}

// Features lists the members in canonical order.
func (c FeatureCombination) Features() []Feature {
	out := make([]Feature, 0, c.Size())
	for _, f := range Features() {
		if c.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// String renders the canonical comma-joined key, e.g. "Name,Location".
func (c FeatureCombination) String() string {
	members := c.Features()
	labels := make([]string, len(members))
	for i, f := range members {
		labels[i] = f.String()
	}
	return strings.Join(labels, ",")
}

// ParseFeatureCombination reads a comma-separated key. Labels are trimmed of whitespace and
// surrounding parentheses and matched case-insensitively. It fails on an empty key, an unknown
// label or a repeated label.
func ParseFeatureCombination(key string) (FeatureCombination, bool) {
	cleaned := strings.Trim(strings.TrimSpace(key), "()[] ")
	if cleaned == "" {
		return 0, false
	}
	var c FeatureCombination
	for _, part := range strings.Split(cleaned, ",") {
		f, ok := ParseFeature(strings.Trim(part, "()[] \t"))
		if !ok || c.Has(f) {
			return 0, false
		}
		c |= FeatureCombination(f)
	}
	return c, true
}
