package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/adperception/survey/internal/services"
)

// objectOpener returns a writer for bucket/object. The object is committed on Close.
type objectOpener func(ctx context.Context, bucket, object string, attrs objectAttrs) io.WriteCloser

type objectAttrs struct {
	ContentType string
	Metadata    map[string]string
}

// BatchArchiver writes raw generation batches to Cloud Storage as JSON objects.
type BatchArchiver struct {
	bucket string
	prefix string
	open   objectOpener
}

var _ services.BatchArchiver = (*BatchArchiver)(nil)

// NewBatchArchiver constructs an archiver writing under gs://bucket/prefix.
func NewBatchArchiver(client *gcs.Client, bucket, prefix string) (*BatchArchiver, error) {
	if client == nil {
		return nil, errors.New("batch archiver: client is required")
	}
	return newBatchArchiver(bucket, prefix, func(ctx context.Context, bucket, object string, attrs objectAttrs) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = attrs.ContentType
		w.Metadata = attrs.Metadata
		return w
	})
}

func newBatchArchiver(bucket, prefix string, open objectOpener) (*BatchArchiver, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("batch archiver: bucket is required")
	}
	return &BatchArchiver{
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		open:   open,
	}, nil
}

type archivedBatch struct {
	SessionID   string          `json:"session_id"`
	Outcome     string          `json:"outcome"`
	CreatedAt   time.Time       `json:"created_at"`
	PlannedKeys []string        `json:"planned_keys"`
	Fidelity    *archivedReport `json:"fidelity,omitempty"`
	Raw         string          `json:"raw"`
}

type archivedReport struct {
	Planned    int      `json:"planned"`
	Matched    int      `json:"matched"`
	Faithful   bool     `json:"faithful"`
	Unknown    []string `json:"unknown,omitempty"`
	Duplicated []string `json:"duplicated,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

// ArchiveBatch writes entry to {prefix}/{sessionID}/{timestamp}.json.
func (a *BatchArchiver) ArchiveBatch(ctx context.Context, entry services.BatchArchiveEntry) error {
	if a == nil || a.open == nil {
		return errors.New("batch archiver: not initialised")
	}
	object, err := ObjectPath(a.prefix, entry.SessionID, entry.CreatedAt)
	if err != nil {
		return err
	}

	doc := archivedBatch{
		SessionID:   entry.SessionID,
		Outcome:     entry.Outcome,
		CreatedAt:   entry.CreatedAt.UTC(),
		PlannedKeys: entry.PlannedKeys,
		Raw:         entry.Raw,
	}
	if f := entry.Fidelity; f != nil {
		doc.Fidelity = &archivedReport{
			Planned:    f.Planned,
			Matched:    f.Matched,
			Faithful:   f.Faithful(),
			Unknown:    f.Unknown,
			Duplicated: f.Duplicated,
			Missing:    f.Missing,
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("batch archiver: marshal: %w", err)
	}

	w := a.open(ctx, a.bucket, object, objectAttrs{
		ContentType: "application/json",
		Metadata:    map[string]string{"outcome": entry.Outcome},
	})
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("batch archiver: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("batch archiver: commit %s: %w", object, err)
	}
	return nil
}

// ObjectPath builds the object name for one archived batch.
func ObjectPath(prefix, sessionID string, at time.Time) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\") || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("batch archiver: invalid session id %q", sessionID)
	}
	if at.IsZero() {
		at = time.Now()
	}
	name := at.UTC().Format("20060102T150405.000000000Z") + ".json"
	return path.Join(strings.Trim(prefix, "/"), sessionID, name), nil
}
