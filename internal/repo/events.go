package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/verdictstack/verdict-engine/internal/models"
)

// DefaultHistoryTTL is the retention window for fingerprint events.
const DefaultHistoryTTL = 90 * 24 * time.Hour

// PostgresEventStore records fingerprint history. Retention is enforced
// with a query-time cutoff: expired events simply stop appearing.
type PostgresEventStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresEventStore wraps an open pool with the retention window.
func NewPostgresEventStore(db *sql.DB, ttl time.Duration, logger *slog.Logger) *PostgresEventStore {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresEventStore{db: db, ttl: ttl, logger: logger, now: time.Now}
}

// Append records one event. Re-appending the same (fingerprint, occurred_at)
// key is a no-op.
func (s *PostgresEventStore) Append(ctx context.Context, event models.FingerprintEvent) error {
	var deployContext []byte
	if len(event.DeployContext) > 0 {
		encoded, err := json.Marshal(event.DeployContext)
		if err != nil {
			return fmt.Errorf("encode deploy context: %w", err)
		}
		deployContext = encoded
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprint_events (fingerprint_id, occurred_at, error_class, service, raw_confidence, deploy_context)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (fingerprint_id, occurred_at) DO NOTHING`,
		event.FingerprintID, event.OccurredAt, event.ErrorClass, event.Service,
		event.RawConfidence, deployContext)
	if err != nil {
		return unavailable("append fingerprint event", err)
	}
	return nil
}

// QueryByFingerprint returns retained events for a fingerprint, newest first.
func (s *PostgresEventStore) QueryByFingerprint(ctx context.Context, fingerprintID string, limit int) ([]models.FingerprintEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint_id, occurred_at, error_class, service, raw_confidence, deploy_context
		 FROM fingerprint_events
		 WHERE fingerprint_id = $1 AND occurred_at >= $2
		 ORDER BY occurred_at DESC
		 LIMIT $3`,
		fingerprintID, s.cutoff(), clampLimit(limit))
	if err != nil {
		return nil, unavailable("query fingerprint events", err)
	}
	defer rows.Close()

	var events []models.FingerprintEvent
	for rows.Next() {
		var (
			event         models.FingerprintEvent
			deployContext []byte
		)
		if err := rows.Scan(&event.FingerprintID, &event.OccurredAt, &event.ErrorClass,
			&event.Service, &event.RawConfidence, &deployContext); err != nil {
			return nil, unavailable("scan fingerprint event", err)
		}
		if len(deployContext) > 0 {
			if err := json.Unmarshal(deployContext, &event.DeployContext); err != nil {
				return nil, fmt.Errorf("decode deploy context: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate fingerprint events", err)
	}
	return events, nil
}

// Stats aggregates the retained history for one fingerprint.
func (s *PostgresEventStore) Stats(ctx context.Context, fingerprintID string) (models.FingerprintStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(occurred_at), MAX(occurred_at), AVG(raw_confidence)
		 FROM fingerprint_events
		 WHERE fingerprint_id = $1 AND occurred_at >= $2`,
		fingerprintID, s.cutoff())

	var (
		count     int
		firstSeen sql.NullTime
		lastSeen  sql.NullTime
		avg       sql.NullFloat64
	)
	if err := row.Scan(&count, &firstSeen, &lastSeen, &avg); err != nil {
		return models.FingerprintStats{}, unavailable("aggregate fingerprint stats", err)
	}
	if count == 0 {
		return models.FingerprintStats{}, fmt.Errorf("fingerprint %s: %w", fingerprintID, ErrNotFound)
	}
	return models.FingerprintStats{
		FingerprintID:        fingerprintID,
		TotalOccurrences:     count,
		FirstSeen:            firstSeen.Time,
		LastSeen:             lastSeen.Time,
		AverageRawConfidence: avg.Float64,
	}, nil
}

func (s *PostgresEventStore) cutoff() time.Time {
	return s.now().Add(-s.ttl).UTC()
}
