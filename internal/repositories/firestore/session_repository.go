package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/adperception/survey/internal/domain"
	pfirestore "github.com/adperception/survey/internal/platform/firestore"
	"github.com/adperception/survey/internal/repositories"
)

const expiredPageSize = 200

// SessionRepository stores rating sessions keyed by session ID.
type SessionRepository struct {
	base *pfirestore.BaseRepository[sessionDocument]
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository binds the repository to collection.
func NewSessionRepository(provider *pfirestore.Provider, collection string) (*SessionRepository, error) {
	if provider == nil {
		return nil, errors.New("session repository: firestore provider is required")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("session repository: collection is required")
	}
	return &SessionRepository{base: pfirestore.NewBaseRepository[sessionDocument](provider, collection)}, nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (domain.RatingSession, error) {
	doc, err := r.base.Get(ctx, sessionID)
	if err != nil {
		return domain.RatingSession{}, err
	}
	return doc.Data.decode(doc.ID), nil
}

func (r *SessionRepository) Save(ctx context.Context, session domain.RatingSession) error {
	return r.base.Set(ctx, session.ID, encodeSession(session))
}

// DeleteExpired removes sessions whose expires_at is at or before cutoff.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	return r.base.DeleteWhere(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expires_at", "<=", cutoff.UTC()).OrderBy("expires_at", firestore.Asc)
	}, expiredPageSize)
}
