package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	domain "github.com/adperception/survey/internal/domain"
)

// MaxBatchBytes bounds the generator output accepted by ParseAndValidate.
const MaxBatchBytes = 64 << 10

// ParseAndValidate turns raw generator output into ad records. The payload must be a single JSON
// object whose values are all non-empty strings; anything else fails with ErrMalformedBatch and no
// records are returned. An object whose entry count differs from the plan fails with
// ErrIncompleteBatch. Keys that do not resolve to a planned combination are kept as Unknown. The
// returned records follow the order in which the generator emitted them. A repeated key keeps its
// first position and takes the last value, so a batch with a repeat counts one entry short.
func ParseAndValidate(raw string, plan CombinationPlan) ([]AdRecord, error) {
	text := stripCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return nil, malformed("empty response")
	}
	if len(text) > MaxBatchBytes {
		return nil, malformed(fmt.Sprintf("response exceeds %d bytes", MaxBatchBytes))
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, malformed("invalid json")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, malformed("top-level value is not an object")
	}

	var ads []AdRecord
	seen := map[string]int{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, malformed("invalid json")
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, malformed("object key is not a string")
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, malformed("invalid json")
		}
		value, ok := valTok.(string)
		if !ok {
			return nil, malformed(fmt.Sprintf("value for key %q is not a string", key))
		}
		if strings.TrimSpace(value) == "" {
			return nil, malformed(fmt.Sprintf("value for key %q is empty", key))
		}
		if idx, dup := seen[key]; dup {
			ads[idx].Text = value
			continue
		}
		seen[key] = len(ads)
		ads = append(ads, AdRecord{Text: value, Combination: tagForKey(key, plan)})
	}

	if tok, err := dec.Token(); err != nil {
		return nil, malformed("invalid json")
	} else if delim, ok := tok.(json.Delim); !ok || delim != '}' {
		return nil, malformed("unterminated object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed("unexpected data after object")
	}

	if len(ads) != len(plan) {
		return nil, &domain.BatchError{Kind: domain.ErrIncompleteBatch, Count: len(ads), Want: len(plan)}
	}
	return ads, nil
}

// AssessFidelity compares the resolved combinations of a parsed batch with the plan.
func AssessFidelity(ads []AdRecord, plan CombinationPlan) BatchFidelity {
	report := BatchFidelity{Planned: len(plan)}
	counts := map[FeatureCombination]int{}
	for _, ad := range ads {
		c, ok := ad.Combination.Combination()
		if !ok {
			report.Unknown = append(report.Unknown, ad.Combination.RawKey())
			continue
		}
		counts[c]++
		if counts[c] == 2 {
			report.Duplicated = append(report.Duplicated, c.String())
		}
	}
	for _, c := range plan {
		if counts[c] > 0 {
			report.Matched++
			continue
		}
		report.Missing = append(report.Missing, c.String())
	}
	return report
}

func tagForKey(key string, plan CombinationPlan) domain.CombinationTag {
	c, ok := domain.ParseFeatureCombination(key)
	if !ok || !plan.Contains(c) {
		return domain.UnknownCombination(key)
	}
	return domain.KnownCombination(c, key)
}

// stripCodeFence removes one surrounding markdown code fence, which some models add despite
// being asked for bare JSON. The fence may sit on one line and its json tag may touch the body.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		if lang := strings.TrimSpace(inner[:nl]); lang == "" || strings.EqualFold(lang, "json") {
			return strings.TrimSpace(inner[nl+1:])
		}
	}
	if len(inner) >= 4 && strings.EqualFold(inner[:4], "json") {
		if rest := strings.TrimSpace(inner[4:]); strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return strings.TrimSpace(inner)
}

func malformed(detail string) error {
	return &domain.BatchError{Kind: domain.ErrMalformedBatch, Detail: detail}
}
