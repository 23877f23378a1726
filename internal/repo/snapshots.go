package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/verdictstack/verdict-engine/internal/models"
)

// PostgresSnapshotStore persists policy snapshots and their execution
// bindings. CreateBinding carries the conditional write that makes
// EnsureSnapshotForExecution idempotent across processes.
type PostgresSnapshotStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresSnapshotStore wraps an open pool.
func NewPostgresSnapshotStore(db *sql.DB, logger *slog.Logger) *PostgresSnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSnapshotStore{db: db, logger: logger}
}

// snapshotDoc is the JSONB payload of one captured definition.
type snapshotDoc struct {
	Rules     []models.PolicyRule        `json:"rules"`
	Playbooks map[string]models.Playbook `json:"playbooks"`
}

// CreateBinding inserts the candidate snapshot and binds it to executionID
// unless a binding already exists. It returns the snapshot that won the
// binding and whether this call created it. Losing candidates are rolled
// back, so no orphan snapshot rows remain.
func (s *PostgresSnapshotStore) CreateBinding(ctx context.Context, executionID string, snapshot models.PolicySnapshot) (models.PolicySnapshot, bool, error) {
	doc, err := json.Marshal(snapshotDoc{Rules: snapshot.Policies, Playbooks: snapshot.Playbooks})
	if err != nil {
		return models.PolicySnapshot{}, false, fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PolicySnapshot{}, false, unavailable("begin snapshot tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO policy_snapshots (id, version, definition, created_at) VALUES ($1, $2, $3, $4)`,
		snapshot.ID, snapshot.Version, doc, snapshot.CreatedAt); err != nil {
		return models.PolicySnapshot{}, false, unavailable("insert policy snapshot", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO execution_snapshots (execution_id, policy_snapshot_id, created_at)
		 VALUES ($1, $2, $3) ON CONFLICT (execution_id) DO NOTHING`,
		executionID, snapshot.ID, snapshot.CreatedAt)
	if err != nil {
		return models.PolicySnapshot{}, false, unavailable("bind execution snapshot", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.PolicySnapshot{}, false, unavailable("bind execution snapshot", err)
	}

	if inserted == 0 {
		// Another writer won; the deferred rollback discards the candidate.
		winner, err := s.GetByExecution(ctx, executionID)
		if errors.Is(err, ErrNotFound) {
			return models.PolicySnapshot{}, false, fmt.Errorf("execution %s: %w", executionID, ErrSnapshotConflict)
		}
		if err != nil {
			return models.PolicySnapshot{}, false, err
		}
		return winner, false, nil
	}

	if err := tx.Commit(); err != nil {
		return models.PolicySnapshot{}, false, unavailable("commit snapshot tx", err)
	}
	return snapshot, true, nil
}

// GetByExecution returns the snapshot bound to executionID.
func (s *PostgresSnapshotStore) GetByExecution(ctx context.Context, executionID string) (models.PolicySnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT ps.id, ps.version, ps.definition, ps.created_at
		 FROM execution_snapshots es
		 JOIN policy_snapshots ps ON ps.id = es.policy_snapshot_id
		 WHERE es.execution_id = $1`, executionID)
	return scanSnapshot(row, "execution "+executionID)
}

// GetByID returns one snapshot by its id.
func (s *PostgresSnapshotStore) GetByID(ctx context.Context, id string) (models.PolicySnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, definition, created_at FROM policy_snapshots WHERE id = $1`, id)
	return scanSnapshot(row, "snapshot "+id)
}

func scanSnapshot(row *sql.Row, subject string) (models.PolicySnapshot, error) {
	var (
		snapshot models.PolicySnapshot
		doc      []byte
	)
	err := row.Scan(&snapshot.ID, &snapshot.Version, &doc, &snapshot.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PolicySnapshot{}, fmt.Errorf("%s: %w", subject, ErrNotFound)
	}
	if err != nil {
		return models.PolicySnapshot{}, unavailable("scan snapshot", err)
	}

	var decoded snapshotDoc
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return models.PolicySnapshot{}, fmt.Errorf("decode snapshot %s: %w", snapshot.ID, err)
	}
	snapshot.Policies = decoded.Rules
	snapshot.Playbooks = decoded.Playbooks
	return snapshot, nil
}
