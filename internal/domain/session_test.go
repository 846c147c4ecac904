package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validProfile() ParticipantProfile {
	return ParticipantProfile{Name: "Ana", Location: "Lima", Age: 29, Gender: GenderFemale}
}

func sampleAds(n int) []AdRecord {
	ads := make([]AdRecord, n)
	for i := range ads {
		ads[i] = AdRecord{Text: "ad " + string(rune('a'+i)), Combination: UnknownCombination("")}
	}
	return ads
}

func ratingSession(t *testing.T, ads int) RatingSession {
	t.Helper()
	s := NewRatingSession("s1", time.Unix(0, 0), time.Hour)
	require.NoError(t, s.AcceptProfile(validProfile(), DefaultProfileRules()))
	require.NoError(t, s.AttachAds(sampleAds(ads), nil))
	return s
}

func TestProfileValidation(t *testing.T) {
	t.Parallel()

	p := validProfile()
	p.Gender = ""
	err := p.Validate(DefaultProfileRules())
	require.ErrorIs(t, err, ErrValidationFailure)
	require.Contains(t, FieldErrors(err), "gender")

	p = validProfile()
	p.Age = 17
	p.Name = "  "
	fields := FieldErrors(p.Validate(DefaultProfileRules()))
	require.Contains(t, fields, "age")
	require.Contains(t, fields, "name")

	p = validProfile()
	p.PurchaseIntent = ""
	require.NoError(t, p.Validate(DefaultProfileRules()))
}

func TestAcceptProfileRejectsInvalidAndStays(t *testing.T) {
	t.Parallel()

	s := NewRatingSession("s1", time.Now(), 0)
	p := validProfile()
	p.Gender = ""
	require.ErrorIs(t, s.AcceptProfile(p, DefaultProfileRules()), ErrValidationFailure)
	require.Equal(t, SessionStateAwaitingProfile, s.State)
}

func TestAttachAdsIsIdempotent(t *testing.T) {
	t.Parallel()

	s := ratingSession(t, 3)
	require.NoError(t, s.AttachAds(sampleAds(5), nil))
	require.Len(t, s.Ads, 3)
	require.Equal(t, SessionStateRating, s.State)
}

func TestAttachAdsEmptyBatch(t *testing.T) {
	t.Parallel()

	s := NewRatingSession("s1", time.Now(), 0)
	require.NoError(t, s.AcceptProfile(validProfile(), DefaultProfileRules()))
	require.ErrorIs(t, s.AttachAds(nil, nil), ErrEmptyBatch)
	require.Equal(t, SessionStateAwaitingAds, s.State)
}

func TestSubmitRatingKeepsIndexInvariant(t *testing.T) {
	t.Parallel()

	s := ratingSession(t, 3)
	for i := 0; i < 3; i++ {
		require.Equal(t, len(s.Responses), s.CurrentIndex)
		require.NoError(t, s.SubmitRating(i, DefaultScores()))
		require.Equal(t, len(s.Responses), s.CurrentIndex)
	}
	require.True(t, s.IsComplete())
	require.Equal(t, "ad a", s.Responses[0].Ad)
	require.Equal(t, ScoreDefault, s.Responses[2].PurchaseIntention)
	require.ErrorIs(t, s.SubmitRating(3, DefaultScores()), ErrInvalidTransition)
}

func TestSubmitRatingOutOfRange(t *testing.T) {
	t.Parallel()

	s := ratingSession(t, 2)
	scores := DefaultScores()
	scores.Creepiness = 6
	err := s.SubmitRating(0, scores)
	require.ErrorIs(t, err, ErrValidationFailure)
	require.Contains(t, FieldErrors(err), string(ScaleCreepiness))
	require.Equal(t, 0, s.CurrentIndex)
	require.Empty(t, s.Responses)

	scores = DefaultScores()
	scores.PurchaseIntention = 0
	require.ErrorIs(t, s.SubmitRating(0, scores), ErrValidationFailure)
}

func TestSubmitRatingStale(t *testing.T) {
	t.Parallel()

	s := ratingSession(t, 2)
	require.NoError(t, s.SubmitRating(0, DefaultScores()))
	err := s.SubmitRating(0, DefaultScores())
	require.True(t, errors.Is(err, ErrStaleSubmission))
	require.Len(t, s.Responses, 1)
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	t.Parallel()

	s := ratingSession(t, 2)
	s.Fidelity = &BatchFidelity{Planned: 2, Missing: []string{"Name"}}
	c := s.Clone()
	c.Ads[0].Text = "changed"
	c.Fidelity.Missing[0] = "Age"
	require.Equal(t, "ad a", s.Ads[0].Text)
	require.Equal(t, "Name", s.Fidelity.Missing[0])
}
