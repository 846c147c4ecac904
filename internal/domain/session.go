package domain

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle position of a rating session.
type SessionState string

const (
	// SessionStateAwaitingProfile waits for a valid participant profile.
	SessionStateAwaitingProfile SessionState = "awaiting_profile"
	// SessionStateAwaitingAds holds a profile and waits for a usable ad batch.
	SessionStateAwaitingAds SessionState = "awaiting_ads"
	// SessionStateRating presents Ads[CurrentIndex] for rating.
	SessionStateRating SessionState = "rating"
	// SessionStateComplete is terminal.
	SessionStateComplete SessionState = "complete"
)

// PersistenceStatus records the outcome of the last response upsert.
type PersistenceStatus string

const (
	PersistenceStatusPending PersistenceStatus = "pending"
	PersistenceStatusSaved   PersistenceStatus = "saved"
	PersistenceStatusFailed  PersistenceStatus = "failed"
)

// RatingSession is the per-participant state machine. All mutation goes through its methods so
// that len(Responses) == CurrentIndex holds after every transition.
type RatingSession struct {
	ID           string
	State        SessionState
	IntroSeen    bool
	Profile      ParticipantProfile
	Ads          []AdRecord
	Fidelity     *BatchFidelity
	Responses    []RatingEntry
	CurrentIndex int
	Persistence  PersistenceStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time
}

// NewRatingSession starts a session in SessionStateAwaitingProfile.
func NewRatingSession(id string, now time.Time, ttl time.Duration) RatingSession {
	s := RatingSession{
		ID:          id,
		State:       SessionStateAwaitingProfile,
		Persistence: PersistenceStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ttl > 0 {
		s.ExpiresAt = now.Add(ttl)
	}
	return s
}

// AcceptProfile stores a validated profile and moves to SessionStateAwaitingAds. A session that is
// still waiting for ads accepts a corrected profile, which is how a participant retries after a
// failed generation.
func (s *RatingSession) AcceptProfile(profile ParticipantProfile, rules ProfileRules) error {
	if s.State != SessionStateAwaitingProfile && s.State != SessionStateAwaitingAds {
		return fmt.Errorf("%w: profile submitted in state %s", ErrInvalidTransition, s.State)
	}
	if err := profile.Validate(rules); err != nil {
		return err
	}
	s.Profile = profile
	s.State = SessionStateAwaitingAds
	return nil
}

// HasAds reports whether an ad batch is already attached.
func (s *RatingSession) HasAds() bool {
	return len(s.Ads) > 0
}

// AttachAds moves SessionStateAwaitingAds to Rating(0). It is a no-op when ads are already
// attached, so a batch is never replaced once rating has started.
func (s *RatingSession) AttachAds(ads []AdRecord, fidelity *BatchFidelity) error {
	if s.HasAds() {
		return nil
	}
	if s.State != SessionStateAwaitingAds {
		return fmt.Errorf("%w: ads attached in state %s", ErrInvalidTransition, s.State)
	}
	if len(ads) == 0 {
		return ErrEmptyBatch
	}
	s.Ads = append([]AdRecord(nil), ads...)
	s.Fidelity = fidelity
	s.Responses = nil
	s.CurrentIndex = 0
	s.State = SessionStateRating
	return nil
}

// CurrentAd returns the ad awaiting a rating.
func (s *RatingSession) CurrentAd() (AdRecord, bool) {
	if s.State != SessionStateRating || s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Ads) {
		return AdRecord{}, false
	}
	return s.Ads[s.CurrentIndex], true
}

// SubmitRating records scores for the ad at index. The index must equal CurrentIndex; any other
// value is a resubmission of an earlier form and is rejected with ErrStaleSubmission. Rating the
// last ad moves the session to SessionStateComplete.
func (s *RatingSession) SubmitRating(index int, scores Scores) error {
	if s.State != SessionStateRating {
		return fmt.Errorf("%w: rating submitted in state %s", ErrInvalidTransition, s.State)
	}
	if index != s.CurrentIndex {
		return fmt.Errorf("%w: got ad %d, current ad is %d", ErrStaleSubmission, index, s.CurrentIndex)
	}
	if err := scores.Validate(); err != nil {
		return err
	}
	ad := s.Ads[s.CurrentIndex]
	s.Responses = append(s.Responses, NewRatingEntry(ad.Text, scores))
	s.CurrentIndex++
	if s.CurrentIndex == len(s.Ads) {
		s.State = SessionStateComplete
	}
	return nil
}

// IsComplete reports whether the session reached its terminal state.
func (s *RatingSession) IsComplete() bool {
	return s.State == SessionStateComplete
}

// Expired reports whether the session passed its expiry.
func (s *RatingSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy so stores never share slices with callers.
func (s RatingSession) Clone() RatingSession {
	out := s
	out.Ads = append([]AdRecord(nil), s.Ads...)
	out.Responses = append([]RatingEntry(nil), s.Responses...)
	if s.Fidelity != nil {
		f := *s.Fidelity
		f.Unknown = append([]string(nil), s.Fidelity.Unknown...)
		f.Duplicated = append([]string(nil), s.Fidelity.Duplicated...)
		f.Missing = append([]string(nil), s.Fidelity.Missing...)
		out.Fidelity = &f
	}
	return out
}

// ResponseRecord is the persisted document for one participant.
type ResponseRecord struct {
	Participant ParticipantProfile
	Responses   []RatingEntry
	Fidelity    *BatchFidelity
	SessionID   string
	UpdatedAt   time.Time
}
