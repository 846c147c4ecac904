package memory

import (
	"context"
	"errors"
	"sync"

	domain "github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/repositories"
)

// ResponseRepository stores one response record per participant name in memory.
type ResponseRepository struct {
	mu      sync.Mutex
	records map[string]domain.ResponseRecord
	writes  int
}

var _ repositories.ResponseRepository = (*ResponseRepository)(nil)

// NewResponseRepository constructs an empty repository.
func NewResponseRepository() *ResponseRepository {
	return &ResponseRepository{records: make(map[string]domain.ResponseRecord)}
}

// Upsert replaces the record stored under the participant name.
func (r *ResponseRepository) Upsert(_ context.Context, record domain.ResponseRecord) error {
	name := record.Participant.Name
	if name == "" {
		return errors.New("response repository: participant name is required")
	}
	record.Responses = append([]domain.RatingEntry(nil), record.Responses...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[name] = record
	r.writes++
	return nil
}

// Get returns the record stored under participantName.
func (r *ResponseRepository) Get(_ context.Context, participantName string) (domain.ResponseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[participantName]
	if !ok {
		return domain.ResponseRecord{}, notFound("responses.get", participantName)
	}
	record.Responses = append([]domain.RatingEntry(nil), record.Responses...)
	return record, nil
}

// Writes reports how many upserts were applied.
func (r *ResponseRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}
