package services

import (
	"context"
	"time"

	domain "github.com/adperception/survey/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	ParticipantProfile = domain.ParticipantProfile
	FeatureCombination = domain.FeatureCombination
	AdRecord           = domain.AdRecord
	BatchFidelity      = domain.BatchFidelity
	RatingEntry        = domain.RatingEntry
	RatingSession      = domain.RatingSession
	ResponseRecord     = domain.ResponseRecord
	Scores             = domain.Scores
	GenerationRequest  = domain.GenerationRequest
)

// SurveyService drives one participant's session from introduction to completion.
type SurveyService interface {
	StartSession(ctx context.Context) (RatingSession, error)
	GetSession(ctx context.Context, sessionID string) (RatingSession, error)
	AcknowledgeIntro(ctx context.Context, sessionID string) (RatingSession, error)
	SubmitProfile(ctx context.Context, cmd SubmitProfileCommand) (RatingSession, error)
	EnsureAds(ctx context.Context, sessionID string) (RatingSession, error)
	SubmitRating(ctx context.Context, cmd SubmitRatingCommand) (RatingSession, error)
	// PurgeExpiredSessions removes sessions past their expiry and reports how many were removed.
	PurgeExpiredSessions(ctx context.Context) (int, error)
}

// SubmitProfileCommand carries the raw participant form values.
type SubmitProfileCommand struct {
	SessionID      string
	Name           string
	Location       string
	Age            int
	Gender         string
	PurchaseIntent string
}

// SubmitRatingCommand carries one rating form submission.
type SubmitRatingCommand struct {
	SessionID string
	AdIndex   int
	Scores    Scores
}

// TextGenerator performs one outbound text-generation call and returns the raw response text.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// BatchArchiver stores raw generator output for later analysis. Implementations must not expose
// the payload to participants.
type BatchArchiver interface {
	ArchiveBatch(ctx context.Context, entry BatchArchiveEntry) error
}

// BatchArchiveEntry is one archived generation attempt.
type BatchArchiveEntry struct {
	SessionID   string
	Raw         string
	PlannedKeys []string
	Fidelity    *BatchFidelity
	Outcome     string
	CreatedAt   time.Time
}

// CompletionPublisher announces finished sessions to downstream consumers.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, event CompletionEvent) error
}

// CompletionEvent carries no participant attributes.
type CompletionEvent struct {
	SessionID   string
	AdCount     int
	Persisted   bool
	Faithful    bool
	Matched     int
	Planned     int
	CompletedAt time.Time
}

// SurveyMetrics receives generation and completion measurements.
type SurveyMetrics interface {
	RecordGeneration(ctx context.Context, outcome string, faithful bool, d time.Duration)
	RecordCompletion(ctx context.Context, persisted bool)
}
