package repositories

import (
	"context"
	"time"

	domain "github.com/adperception/survey/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// SessionRepository stores rating sessions keyed by their server-assigned identifier.
type SessionRepository interface {
	// Get returns a RepositoryError with IsNotFound when the session is absent.
	Get(ctx context.Context, sessionID string) (domain.RatingSession, error)
	Save(ctx context.Context, session domain.RatingSession) error
	// DeleteExpired removes sessions whose expiry is at or before cutoff and reports how many.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// ResponseRepository persists one response document per participant name.
type ResponseRepository interface {
	// Upsert replaces the stored responses for record.Participant.Name with record.Responses.
	Upsert(ctx context.Context, record domain.ResponseRecord) error
	Get(ctx context.Context, participantName string) (domain.ResponseRecord, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
