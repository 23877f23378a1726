package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/verdictstack/verdict-engine/internal/models"
)

// Memory stores back tests and localdev runs without Postgres. They share
// the Postgres stores' semantics: append-only verdicts, conditional
// snapshot bindings, TTL-filtered history.

// MemoryVerdictStore keeps verdicts in process. Every call is recorded in
// an operation audit so append-only behaviour is assertable from tests.
type MemoryVerdictStore struct {
	mu       sync.RWMutex
	verdicts []models.Verdict
	byID     map[string]struct{}
	ops      []string
}

// NewMemoryVerdictStore constructs an empty store.
func NewMemoryVerdictStore() *MemoryVerdictStore {
	return &MemoryVerdictStore{byID: make(map[string]struct{})}
}

// Persist appends one verdict; duplicate ids fail and change nothing.
func (s *MemoryVerdictStore) Persist(ctx context.Context, verdict models.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "persist")
	if _, exists := s.byID[verdict.ID]; exists {
		return fmt.Errorf("verdict %s: %w", verdict.ID, ErrDuplicateVerdict)
	}
	s.byID[verdict.ID] = struct{}{}
	s.verdicts = append(s.verdicts, cloneVerdict(verdict))
	return nil
}

// GetByExecution returns the verdicts for one execution, newest first.
func (s *MemoryVerdictStore) GetByExecution(ctx context.Context, executionID string) ([]models.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "get_by_execution")
	var out []models.Verdict
	for _, v := range s.verdicts {
		if v.ExecutionID == executionID {
			out = append(out, cloneVerdict(v))
		}
	}
	sortVerdictsNewestFirst(out)
	return out, nil
}

// GetByFingerprint returns the most recent verdicts sharing a fingerprint.
func (s *MemoryVerdictStore) GetByFingerprint(ctx context.Context, fingerprintID string, limit int) ([]models.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "get_by_fingerprint")
	var out []models.Verdict
	for _, v := range s.verdicts {
		if v.FingerprintID == fingerprintID {
			out = append(out, cloneVerdict(v))
		}
	}
	sortVerdictsNewestFirst(out)
	if max := clampLimit(limit); len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// ListSince returns every verdict created at or after since, oldest first.
func (s *MemoryVerdictStore) ListSince(ctx context.Context, since time.Time) ([]models.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "list_since")
	var out []models.Verdict
	for _, v := range s.verdicts {
		if !v.CreatedAt.Before(since) {
			out = append(out, cloneVerdict(v))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Operations returns the audit of store calls issued so far.
func (s *MemoryVerdictStore) Operations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ops...)
}

func sortVerdictsNewestFirst(verdicts []models.Verdict) {
	sort.SliceStable(verdicts, func(i, j int) bool { return verdicts[i].CreatedAt.After(verdicts[j].CreatedAt) })
}

func cloneVerdict(v models.Verdict) models.Verdict {
	out := v
	out.Signals = make([]models.FailureSignal, len(v.Signals))
	for i, signal := range v.Signals {
		out.Signals[i] = cloneSignal(signal)
	}
	return out
}

func cloneSignal(s models.FailureSignal) models.FailureSignal {
	out := s
	if s.DeployContext != nil {
		out.DeployContext = make(map[string]string, len(s.DeployContext))
		for k, v := range s.DeployContext {
			out.DeployContext[k] = v
		}
	}
	return out
}

// MemorySnapshotStore keeps snapshot bindings in process.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]models.PolicySnapshot
	bindings  map[string]string
}

// NewMemorySnapshotStore constructs an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		snapshots: make(map[string]models.PolicySnapshot),
		bindings:  make(map[string]string),
	}
}

// CreateBinding binds the candidate unless the execution is already bound,
// in which case the existing snapshot wins.
func (s *MemorySnapshotStore) CreateBinding(ctx context.Context, executionID string, snapshot models.PolicySnapshot) (models.PolicySnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, bound := s.bindings[executionID]; bound {
		return cloneSnapshot(s.snapshots[id]), false, nil
	}
	s.snapshots[snapshot.ID] = cloneSnapshot(snapshot)
	s.bindings[executionID] = snapshot.ID
	return snapshot, true, nil
}

// GetByExecution returns the snapshot bound to executionID.
func (s *MemorySnapshotStore) GetByExecution(ctx context.Context, executionID string) (models.PolicySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, bound := s.bindings[executionID]
	if !bound {
		return models.PolicySnapshot{}, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	return cloneSnapshot(s.snapshots[id]), nil
}

// GetByID returns one snapshot by its id.
func (s *MemorySnapshotStore) GetByID(ctx context.Context, id string) (models.PolicySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[id]
	if !ok {
		return models.PolicySnapshot{}, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	return cloneSnapshot(snapshot), nil
}

func cloneSnapshot(snapshot models.PolicySnapshot) models.PolicySnapshot {
	out := snapshot
	out.Policies = make([]models.PolicyRule, len(snapshot.Policies))
	for i, rule := range snapshot.Policies {
		r := rule
		r.Patterns = append([]string(nil), rule.Patterns...)
		r.Tokens = append([]string(nil), rule.Tokens...)
		out.Policies[i] = r
	}
	if snapshot.Playbooks != nil {
		out.Playbooks = make(map[string]models.Playbook, len(snapshot.Playbooks))
		for class, playbook := range snapshot.Playbooks {
			p := playbook
			p.Steps = append([]string(nil), playbook.Steps...)
			out.Playbooks[class] = p
		}
	}
	return out
}

// MemoryEventStore keeps fingerprint history in process with the same
// query-time TTL cutoff as the Postgres store.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []models.FingerprintEvent
	keys   map[string]struct{}
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryEventStore constructs an empty store with the retention window.
func NewMemoryEventStore(ttl time.Duration) *MemoryEventStore {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &MemoryEventStore{keys: make(map[string]struct{}), ttl: ttl, now: time.Now}
}

// Append records one event; re-appending the same key is a no-op.
func (s *MemoryEventStore) Append(ctx context.Context, event models.FingerprintEvent) error {
	key := event.FingerprintID + "|" + event.OccurredAt.UTC().Format(time.RFC3339Nano)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.keys[key]; dup {
		return nil
	}
	s.keys[key] = struct{}{}
	s.events = append(s.events, event)
	return nil
}

// QueryByFingerprint returns retained events for a fingerprint, newest first.
func (s *MemoryEventStore) QueryByFingerprint(ctx context.Context, fingerprintID string, limit int) ([]models.FingerprintEvent, error) {
	cutoff := s.now().Add(-s.ttl)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FingerprintEvent
	for _, event := range s.events {
		if event.FingerprintID == fingerprintID && !event.OccurredAt.Before(cutoff) {
			out = append(out, event)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if max := clampLimit(limit); len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Stats aggregates the retained history for one fingerprint.
func (s *MemoryEventStore) Stats(ctx context.Context, fingerprintID string) (models.FingerprintStats, error) {
	cutoff := s.now().Add(-s.ttl)
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.FingerprintStats{FingerprintID: fingerprintID}
	var confidenceSum float64
	for _, event := range s.events {
		if event.FingerprintID != fingerprintID || event.OccurredAt.Before(cutoff) {
			continue
		}
		if stats.TotalOccurrences == 0 || event.OccurredAt.Before(stats.FirstSeen) {
			stats.FirstSeen = event.OccurredAt
		}
		if event.OccurredAt.After(stats.LastSeen) {
			stats.LastSeen = event.OccurredAt
		}
		stats.TotalOccurrences++
		confidenceSum += event.RawConfidence
	}
	if stats.TotalOccurrences == 0 {
		return models.FingerprintStats{}, fmt.Errorf("fingerprint %s: %w", fingerprintID, ErrNotFound)
	}
	stats.AverageRawConfidence = confidenceSum / float64(stats.TotalOccurrences)
	return stats, nil
}
