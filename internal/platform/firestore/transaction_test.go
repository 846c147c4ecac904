package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
)

func TestTxSettingsDefaultsAndOverrides(t *testing.T) {
	s := newTxSettings(nil)
	if s.attempts != defaultTxAttempts || s.timeout != defaultTxTimeout {
		t.Fatalf("unexpected defaults %+v", s)
	}

	s = newTxSettings([]TxOption{WithTxAttempts(2), WithTxTimeout(3 * time.Second), nil})
	if s.attempts != 2 || s.timeout != 3*time.Second {
		t.Fatalf("expected overrides applied, got %+v", s)
	}

	s = newTxSettings([]TxOption{WithTxAttempts(0), WithTxTimeout(-time.Second)})
	if s.attempts != defaultTxAttempts || s.timeout != defaultTxTimeout {
		t.Fatalf("expected non-positive overrides ignored, got %+v", s)
	}
}

func TestTxSettingsBoundKeepsSoonerDeadline(t *testing.T) {
	s := newTxSettings([]TxOption{WithTxTimeout(time.Minute)})

	parent, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ctx, release := s.bound(parent)
	defer release()
	parentDeadline, _ := parent.Deadline()
	if deadline, ok := ctx.Deadline(); !ok || !deadline.Equal(parentDeadline) {
		t.Fatalf("expected caller deadline %v, got %v", parentDeadline, deadline)
	}

	ctx, release = s.bound(context.Background())
	defer release()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected transaction timeout to set a deadline")
	}
	if remaining := time.Until(deadline); remaining <= 50*time.Second || remaining > time.Minute {
		t.Fatalf("expected deadline about a minute out, got %s", remaining)
	}
}

func TestRunTransactionRejectsNilFunc(t *testing.T) {
	p := NewProvider(configForTest())
	err := p.RunTransaction(context.Background(), "responses.upsert", nil)
	var repoErr *Error
	if !errors.As(err, &repoErr) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if err.Error() != "responses.upsert: firestore: transaction function is nil" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRunTransactionOnClosedProvider(t *testing.T) {
	p := NewProvider(configForTest())
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	called := false
	err := p.RunTransaction(context.Background(), "", func(context.Context, *firestore.Transaction) error {
		called = true
		return nil
	}, WithTxAttempts(1))
	if !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	if called {
		t.Fatal("transaction function must not run")
	}
}

func TestProviderDialTimeoutOption(t *testing.T) {
	if p := NewProvider(configForTest(), WithDialTimeout(2*time.Second)); p.dialTimeout != 2*time.Second {
		t.Fatalf("expected dial timeout 2s, got %s", p.dialTimeout)
	}
	if p := NewProvider(configForTest(), WithDialTimeout(0)); p.dialTimeout != defaultDialTimeout {
		t.Fatalf("expected default dial timeout, got %s", p.dialTimeout)
	}
}
