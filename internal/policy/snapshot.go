package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/verdictstack/verdict-engine/internal/metrics"
	"github.com/verdictstack/verdict-engine/internal/models"
	"github.com/verdictstack/verdict-engine/internal/repo"
)

// SnapshotStore is the storage surface the manager binds snapshots through.
type SnapshotStore interface {
	CreateBinding(ctx context.Context, executionID string, snapshot models.PolicySnapshot) (models.PolicySnapshot, bool, error)
	GetByExecution(ctx context.Context, executionID string) (models.PolicySnapshot, error)
}

// SnapshotManager guarantees exactly one policy snapshot binding per
// execution. The storage conditional write is the source of truth;
// singleflight collapses concurrent in-process calls and an LRU keeps hot
// bindings off storage entirely.
type SnapshotManager struct {
	def      Definition
	store    SnapshotStore
	logger   *slog.Logger
	group    singleflight.Group
	bindings *lru.Cache[string, models.PolicySnapshot]
	now      func() time.Time
	newID    func() string
}

// NewSnapshotManager constructs a manager capturing snapshots of def.
func NewSnapshotManager(def Definition, store SnapshotStore, cacheSize int, logger *slog.Logger) (*SnapshotManager, error) {
	if store == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	bindings, err := lru.New[string, models.PolicySnapshot](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("snapshot binding cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotManager{
		def:      def,
		store:    store,
		logger:   logger,
		bindings: bindings,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Definition returns the live definition the manager captures from.
func (m *SnapshotManager) Definition() Definition {
	return m.def
}

// EnsureSnapshotForExecution returns the snapshot bound to executionID,
// capturing and binding the current definition on first use. Re-calls and
// concurrent calls all observe the same binding.
func (m *SnapshotManager) EnsureSnapshotForExecution(ctx context.Context, executionID string) (models.PolicySnapshot, error) {
	if executionID == "" {
		return models.PolicySnapshot{}, fmt.Errorf("execution id is required")
	}
	if snapshot, ok := m.bindings.Get(executionID); ok {
		return snapshot, nil
	}

	v, err, _ := m.group.Do(executionID, func() (any, error) {
		return m.ensure(ctx, executionID)
	})
	if err != nil {
		return models.PolicySnapshot{}, err
	}
	return v.(models.PolicySnapshot), nil
}

func (m *SnapshotManager) ensure(ctx context.Context, executionID string) (models.PolicySnapshot, error) {
	snapshot, created, err := m.store.CreateBinding(ctx, executionID, m.capture())
	if errors.Is(err, repo.ErrSnapshotConflict) {
		// Lost the conditional write and the winner was not visible yet;
		// one re-read settles it.
		snapshot, err = m.store.GetByExecution(ctx, executionID)
	}
	if err != nil {
		return models.PolicySnapshot{}, fmt.Errorf("bind policy snapshot for %s: %w", executionID, err)
	}

	if created {
		metrics.IncSnapshotCreated()
		m.logger.Info("policy snapshot bound",
			"execution_id", executionID,
			"snapshot_id", snapshot.ID,
			"policy_version", snapshot.Version)
	} else {
		m.logger.Debug("policy snapshot reused",
			"execution_id", executionID,
			"snapshot_id", snapshot.ID)
	}

	m.bindings.Add(executionID, snapshot)
	return snapshot, nil
}

// capture freezes the current definition into a snapshot candidate.
func (m *SnapshotManager) capture() models.PolicySnapshot {
	rules := append([]models.PolicyRule(nil), m.def.Rules...)
	playbooks := make(map[string]models.Playbook, len(m.def.Playbooks))
	for class, playbook := range m.def.Playbooks {
		playbooks[class] = playbook
	}
	return models.PolicySnapshot{
		ID:        "ps-" + m.newID(),
		Version:   m.def.Version,
		Policies:  rules,
		Playbooks: playbooks,
		CreatedAt: m.now().UTC(),
	}
}
