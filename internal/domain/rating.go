package domain

import "fmt"

const (
	// ScoreMin is the lowest value on every rating scale.
	ScoreMin = 1
	// ScoreMax is the highest value on every rating scale.
	ScoreMax = 5
	// ScoreDefault is the midpoint shown before the participant moves a slider.
	ScoreDefault = 3
)

// Scale identifies one of the four rating dimensions.
type Scale string

const (
	ScaleCreepiness        Scale = "creepiness"
	ScalePersonalRelevance Scale = "personal_relevance"
	ScaleClickIntention    Scale = "click_intention"
	ScalePurchaseIntention Scale = "purchase_intention"
)

// Scales returns the rating dimensions in display order.
func Scales() []Scale {
	return []Scale{ScaleCreepiness, ScalePersonalRelevance, ScaleClickIntention, ScalePurchaseIntention}
}

// Scores holds one value per scale as submitted by the participant.
type Scores struct {
	Creepiness        int
	PersonalRelevance int
	ClickIntention    int
	PurchaseIntention int
}

// DefaultScores returns the midpoint for every scale.
func DefaultScores() Scores {
	return Scores{
		Creepiness:        ScoreDefault,
		PersonalRelevance: ScoreDefault,
		ClickIntention:    ScoreDefault,
		PurchaseIntention: ScoreDefault,
	}
}

// Value returns the score for s.
func (s Scores) Value(scale Scale) int {
	switch scale {
	case ScaleCreepiness:
		return s.Creepiness
	case ScalePersonalRelevance:
		return s.PersonalRelevance
	case ScaleClickIntention:
		return s.ClickIntention
	case ScalePurchaseIntention:
		return s.PurchaseIntention
	default:
		return 0
	}
}

// Validate rejects any score outside [ScoreMin, ScoreMax].
func (s Scores) Validate() error {
	fields := map[string]string{}
	for _, scale := range Scales() {
		if v := s.Value(scale); v < ScoreMin || v > ScoreMax {
			fields[string(scale)] = fmt.Sprintf("must be between %d and %d", ScoreMin, ScoreMax)
		}
	}
	return NewValidationError(fields)
}

// RatingEntry is the stored outcome for one rated ad.
type RatingEntry struct {
	Ad                string
	Creepiness        int
	PersonalRelevance int
	ClickIntention    int
	PurchaseIntention int
}

// NewRatingEntry pairs an ad text with validated scores.
func NewRatingEntry(ad string, scores Scores) RatingEntry {
	return RatingEntry{
		Ad:                ad,
		Creepiness:        scores.Creepiness,
		PersonalRelevance: scores.PersonalRelevance,
		ClickIntention:    scores.ClickIntention,
		PurchaseIntention: scores.PurchaseIntention,
	}
}
