package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/repositories"
)

// ResponseGateway writes a participant's full response list to durable storage. Each call
// replaces the stored list, so retries with a longer list converge on the latest state.
type ResponseGateway struct {
	repo  repositories.ResponseRepository
	clock func() time.Time
}

// UpsertMeta carries non-participant context stored alongside the responses.
type UpsertMeta struct {
	SessionID string
	Fidelity  *BatchFidelity
}

// NewResponseGateway wraps repo. A nil clock defaults to time.Now.
func NewResponseGateway(repo repositories.ResponseRepository, clock func() time.Time) (*ResponseGateway, error) {
	if repo == nil {
		return nil, errors.New("response gateway: repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &ResponseGateway{repo: repo, clock: clock}, nil
}

// Upsert stores responses under profile.Name. Failures wrap domain.ErrPersistenceFailure.
func (g *ResponseGateway) Upsert(ctx context.Context, profile ParticipantProfile, responses []RatingEntry, meta UpsertMeta) error {
	if profile.Name == "" {
		return fmt.Errorf("%w: participant name is empty", domain.ErrPersistenceFailure)
	}
	record := domain.ResponseRecord{
		Participant: profile,
		Responses:   append([]RatingEntry(nil), responses...),
		Fidelity:    meta.Fidelity,
		SessionID:   meta.SessionID,
		UpdatedAt:   g.clock().UTC(),
	}
	if err := g.repo.Upsert(ctx, record); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err)
	}
	return nil
}
