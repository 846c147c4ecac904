package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction. It may run more than once when Firestore
// retries a contended commit, so it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises a single RunTransaction call.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts sets how many commits Firestore may try before giving up. Values below one
// keep the default.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout caps the whole transaction, retries included. A sooner caller deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func newTxSettings(opts []TxOption) txSettings {
	s := txSettings{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// bound derives the transaction context. The caller's deadline is kept when it is sooner.
func (s txSettings) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= s.timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// RunTransaction runs fn in a transaction on the shared client. Failures are classified with
// WrapError under op, e.g. "responses.upsert".
func (p *Provider) RunTransaction(ctx context.Context, op string, fn TxFunc, opts ...TxOption) error {
	op = strings.TrimSpace(op)
	if op == "" {
		op = "transaction"
	}
	if fn == nil {
		return WrapError(op, errors.New("firestore: transaction function is nil"))
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	settings := newTxSettings(opts)
	ctx, cancel := settings.bound(ctx)
	defer cancel()
	return WrapError(op, client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.attempts)))
}
