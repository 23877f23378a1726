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

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

// PostgresVerdictStore persists verdicts in Postgres. The store is
// append-only: it exposes inserts and reads, never updates or deletes.
type PostgresVerdictStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresVerdictStore wraps an open pool.
func NewPostgresVerdictStore(db *sql.DB, logger *slog.Logger) *PostgresVerdictStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresVerdictStore{db: db, logger: logger}
}

const insertVerdictSQL = `
INSERT INTO verdicts (id, execution_id, error_class, service, confidence_score,
	proposed_action, fingerprint_id, policy_snapshot_id, signals, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Persist appends one verdict. Reusing an existing id fails with
// ErrDuplicateVerdict and leaves the original record untouched.
func (s *PostgresVerdictStore) Persist(ctx context.Context, verdict models.Verdict) error {
	signals, err := json.Marshal(verdict.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertVerdictSQL,
		verdict.ID,
		verdict.ExecutionID,
		verdict.ErrorClass,
		verdict.Service,
		verdict.ConfidenceScore,
		string(verdict.ProposedAction),
		verdict.FingerprintID,
		verdict.PolicySnapshotID,
		signals,
		verdict.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("verdict %s: %w", verdict.ID, ErrDuplicateVerdict)
		}
		return unavailable("insert verdict", err)
	}
	return nil
}

const selectVerdictSQL = `
SELECT id, execution_id, error_class, service, confidence_score,
	proposed_action, fingerprint_id, policy_snapshot_id, signals, created_at
FROM verdicts`

// GetByExecution returns the verdicts recorded for one execution, newest first.
func (s *PostgresVerdictStore) GetByExecution(ctx context.Context, executionID string) ([]models.Verdict, error) {
	rows, err := s.db.QueryContext(ctx,
		selectVerdictSQL+` WHERE execution_id = $1 ORDER BY created_at DESC, id`, executionID)
	if err != nil {
		return nil, unavailable("query verdicts by execution", err)
	}
	return scanVerdicts(rows)
}

// GetByFingerprint returns the most recent verdicts sharing a fingerprint.
func (s *PostgresVerdictStore) GetByFingerprint(ctx context.Context, fingerprintID string, limit int) ([]models.Verdict, error) {
	rows, err := s.db.QueryContext(ctx,
		selectVerdictSQL+` WHERE fingerprint_id = $1 ORDER BY created_at DESC, id LIMIT $2`,
		fingerprintID, clampLimit(limit))
	if err != nil {
		return nil, unavailable("query verdicts by fingerprint", err)
	}
	return scanVerdicts(rows)
}

// ListSince returns every verdict created at or after since, oldest first.
func (s *PostgresVerdictStore) ListSince(ctx context.Context, since time.Time) ([]models.Verdict, error) {
	rows, err := s.db.QueryContext(ctx,
		selectVerdictSQL+` WHERE created_at >= $1 ORDER BY created_at, id`, since)
	if err != nil {
		return nil, unavailable("query verdicts since", err)
	}
	return scanVerdicts(rows)
}

func scanVerdicts(rows *sql.Rows) ([]models.Verdict, error) {
	defer rows.Close()

	var verdicts []models.Verdict
	for rows.Next() {
		var (
			v       models.Verdict
			action  string
			signals []byte
		)
		if err := rows.Scan(&v.ID, &v.ExecutionID, &v.ErrorClass, &v.Service,
			&v.ConfidenceScore, &action, &v.FingerprintID, &v.PolicySnapshotID,
			&signals, &v.CreatedAt); err != nil {
			return nil, unavailable("scan verdict", err)
		}
		v.ProposedAction = models.ProposedAction(action)
		if len(signals) > 0 {
			if err := json.Unmarshal(signals, &v.Signals); err != nil {
				return nil, fmt.Errorf("decode signals for verdict %s: %w", v.ID, err)
			}
		}
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate verdicts", err)
	}
	return verdicts, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
