package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/adperception/survey/internal/domain"
	pfirestore "github.com/adperception/survey/internal/platform/firestore"
	"github.com/adperception/survey/internal/repositories"
)

// ResponseRepository stores one document per participant name. The document ID is a digest of
// the name, so two participants who share a name write to the same document.
type ResponseRepository struct {
	provider   *pfirestore.Provider
	base       *pfirestore.BaseRepository[responseDocument]
	collection string
	clock      func() time.Time
	txOpts     []pfirestore.TxOption
}

// ResponseRepositoryOption customises the response repository.
type ResponseRepositoryOption func(*ResponseRepository)

// WithUpsertTransaction bounds each Upsert transaction by attempts and timeout.
func WithUpsertTransaction(attempts int, timeout time.Duration) ResponseRepositoryOption {
	return func(r *ResponseRepository) {
		r.txOpts = append(r.txOpts, pfirestore.WithTxAttempts(attempts), pfirestore.WithTxTimeout(timeout))
	}
}

// NewResponseRepository binds the repository to collection.
func NewResponseRepository(provider *pfirestore.Provider, collection string, opts ...ResponseRepositoryOption) (*ResponseRepository, error) {
	if provider == nil {
		return nil, errors.New("response repository: firestore provider is required")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("response repository: collection is required")
	}
	collection = strings.TrimSpace(collection)
	repo := &ResponseRepository{
		provider:   provider,
		base:       pfirestore.NewBaseRepository[responseDocument](provider, collection),
		collection: collection,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Upsert overwrites the participant's responses with record.Responses inside a transaction,
// preserving the first-write timestamp and bumping the revision.
func (r *ResponseRepository) Upsert(ctx context.Context, record domain.ResponseRecord) error {
	name := record.Participant.Name
	if strings.TrimSpace(name) == "" {
		return errors.New("response repository: participant name is required")
	}
	ref, err := r.base.DocumentRef(ctx, participantDocumentID(name))
	if err != nil {
		return err
	}
	now := r.clock().UTC()
	if !record.UpdatedAt.IsZero() {
		now = record.UpdatedAt.UTC()
	}

	return r.provider.RunTransaction(ctx, r.collection+".upsert", func(ctx context.Context, tx *firestore.Transaction) error {
		doc := responseDocument{
			ParticipantInfo: encodeParticipant(record.Participant),
			Responses:       encodeRatings(record.Responses),
			Fidelity:        encodeFidelity(record.Fidelity),
			SessionID:       record.SessionID,
			CreatedAt:       now,
			UpdatedAt:       now,
			Revision:        1,
		}

		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			existing, decodeErr := r.base.Decode(snap)
			if decodeErr != nil {
				return decodeErr
			}
			if !existing.Data.CreatedAt.IsZero() {
				doc.CreatedAt = existing.Data.CreatedAt
			}
			doc.Revision = existing.Data.Revision + 1
		case isNotFound(err):
		default:
			return err
		}
		return tx.Set(ref, doc)
	}, r.txOpts...)
}

// Get returns the stored record for participantName.
func (r *ResponseRepository) Get(ctx context.Context, participantName string) (domain.ResponseRecord, error) {
	doc, err := r.base.Get(ctx, participantDocumentID(participantName))
	if err != nil {
		return domain.ResponseRecord{}, err
	}
	return domain.ResponseRecord{
		Participant: doc.Data.ParticipantInfo.decode(),
		Responses:   decodeRatings(doc.Data.Responses),
		Fidelity:    doc.Data.Fidelity.decode(),
		SessionID:   doc.Data.SessionID,
		UpdatedAt:   doc.Data.UpdatedAt,
	}, nil
}

func participantDocumentID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return "p_" + hex.EncodeToString(sum[:12])
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(pfirestore.WrapError("", err), &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
