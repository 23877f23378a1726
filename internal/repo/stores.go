package repo

import (
	"context"
	"time"

	"github.com/verdictstack/verdict-engine/internal/models"
)

// VerdictStore is the full verdict persistence surface. Both the Postgres
// and the in-memory implementations satisfy it.
type VerdictStore interface {
	Persist(ctx context.Context, verdict models.Verdict) error
	GetByExecution(ctx context.Context, executionID string) ([]models.Verdict, error)
	GetByFingerprint(ctx context.Context, fingerprintID string, limit int) ([]models.Verdict, error)
	ListSince(ctx context.Context, since time.Time) ([]models.Verdict, error)
}

// EventStore is the full fingerprint history surface.
type EventStore interface {
	Append(ctx context.Context, event models.FingerprintEvent) error
	QueryByFingerprint(ctx context.Context, fingerprintID string, limit int) ([]models.FingerprintEvent, error)
	Stats(ctx context.Context, fingerprintID string) (models.FingerprintStats, error)
}
