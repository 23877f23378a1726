package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/verdictstack/verdict-engine/internal/cache"
	"github.com/verdictstack/verdict-engine/internal/engine"
	"github.com/verdictstack/verdict-engine/internal/metrics"
	"github.com/verdictstack/verdict-engine/internal/models"
	"github.com/verdictstack/verdict-engine/internal/policy"
	"github.com/verdictstack/verdict-engine/internal/repo"
	"github.com/verdictstack/verdict-engine/internal/reports"
	"github.com/verdictstack/verdict-engine/internal/utils"
)

// VerdictStore describes the verdict reads the service serves.
type VerdictStore interface {
	GetByExecution(ctx context.Context, executionID string) ([]models.Verdict, error)
	GetByFingerprint(ctx context.Context, fingerprintID string, limit int) ([]models.Verdict, error)
	ListSince(ctx context.Context, since time.Time) ([]models.Verdict, error)
}

// EventStore describes the fingerprint history reads the service serves.
type EventStore interface {
	QueryByFingerprint(ctx context.Context, fingerprintID string, limit int) ([]models.FingerprintEvent, error)
	Stats(ctx context.Context, fingerprintID string) (models.FingerprintStats, error)
}

// VerdictService is the facade the API layer calls: classification through
// the pipeline, reads through the stores, reports cached read-through.
type VerdictService struct {
	logger    *slog.Logger
	pipeline  *engine.Pipeline
	verdicts  VerdictStore
	events    EventStore
	policies  *policy.SnapshotManager
	cache     cache.Provider
	statsTTL  time.Duration
	reportTTL time.Duration
	latencies *utils.LatencyTracker
	now       func() time.Time
}

// NewVerdictService constructs the service facade. cacheProvider may be
// nil; caching then degrades to a noop.
func NewVerdictService(
	logger *slog.Logger,
	pipeline *engine.Pipeline,
	verdicts VerdictStore,
	events EventStore,
	policies *policy.SnapshotManager,
	cacheProvider cache.Provider,
	statsTTL time.Duration,
	reportTTL time.Duration,
) *VerdictService {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if statsTTL <= 0 {
		statsTTL = 30 * time.Second
	}
	if reportTTL <= 0 {
		reportTTL = time.Minute
	}
	return &VerdictService{
		logger:    logger,
		pipeline:  pipeline,
		verdicts:  verdicts,
		events:    events,
		policies:  policies,
		cache:     cacheProvider,
		statsTTL:  statsTTL,
		reportTTL: reportTTL,
		latencies: utils.NewLatencyTracker(1024),
		now:       time.Now,
	}
}

// ClassifyAndRecord runs one classification through the pipeline.
func (s *VerdictService) ClassifyAndRecord(ctx context.Context, req models.ClassifyRequest) (models.Verdict, error) {
	if s.pipeline == nil {
		return models.Verdict{}, fmt.Errorf("pipeline not configured")
	}

	start := time.Now()
	verdict, err := s.pipeline.ClassifyAndRecord(ctx, req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveClassification(duration, metrics.OutcomeError)
		s.logger.Error("classification failed",
			slog.Any("error", err),
			"execution_id", req.ExecutionID)
		return models.Verdict{}, err
	}

	s.latencies.Observe(duration)
	metrics.ObserveClassification(duration, metrics.OutcomeSuccess)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("classification latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count))
	}
	return verdict, nil
}

// GetVerdictsForExecution returns the verdicts recorded for one execution,
// newest first.
func (s *VerdictService) GetVerdictsForExecution(ctx context.Context, executionID string) ([]models.Verdict, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	return s.verdicts.GetByExecution(ctx, executionID)
}

// GetVerdictsByFingerprint returns recent verdicts sharing a fingerprint.
func (s *VerdictService) GetVerdictsByFingerprint(ctx context.Context, fingerprintID string, limit int) ([]models.Verdict, error) {
	if fingerprintID == "" {
		return nil, fmt.Errorf("fingerprint id is required")
	}
	return s.verdicts.GetByFingerprint(ctx, fingerprintID, limit)
}

// GetConsistencyReport evaluates verdict consistency since the cutoff.
func (s *VerdictService) GetConsistencyReport(ctx context.Context, since time.Time) (models.ConsistencyReport, error) {
	key := "report:consistency:" + since.UTC().Format(time.RFC3339)
	var cached models.ConsistencyReport
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	verdicts, err := s.verdicts.ListSince(ctx, since)
	if err != nil {
		return models.ConsistencyReport{}, err
	}
	report := engine.EvaluateConsistency(verdicts, since, s.now().UTC())
	s.cacheSet(ctx, key, report, s.reportTTL)
	return report, nil
}

// GetKPIReport aggregates verdict volume and confidence since the cutoff.
func (s *VerdictService) GetKPIReport(ctx context.Context, since time.Time) (models.KPIReport, error) {
	key := "report:kpi:" + since.UTC().Format(time.RFC3339)
	var cached models.KPIReport
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	verdicts, err := s.verdicts.ListSince(ctx, since)
	if err != nil {
		return models.KPIReport{}, err
	}
	report := reports.BuildKPI(verdicts, since, s.now().UTC())
	s.cacheSet(ctx, key, report, s.reportTTL)
	return report, nil
}

// GetFingerprintStats aggregates the retained history for one fingerprint.
func (s *VerdictService) GetFingerprintStats(ctx context.Context, fingerprintID string) (models.FingerprintStats, error) {
	if fingerprintID == "" {
		return models.FingerprintStats{}, fmt.Errorf("fingerprint id is required")
	}

	key := "fingerprint:stats:" + fingerprintID
	var cached models.FingerprintStats
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	stats, err := s.events.Stats(ctx, fingerprintID)
	if err != nil {
		return models.FingerprintStats{}, err
	}
	s.cacheSet(ctx, key, stats, s.statsTTL)
	return stats, nil
}

// GetFingerprintEvents returns retained history events, newest first.
func (s *VerdictService) GetFingerprintEvents(ctx context.Context, fingerprintID string, limit int) ([]models.FingerprintEvent, error) {
	if fingerprintID == "" {
		return nil, fmt.Errorf("fingerprint id is required")
	}
	return s.events.QueryByFingerprint(ctx, fingerprintID, limit)
}

// GetPlaybook returns the live playbook for an error class.
func (s *VerdictService) GetPlaybook(errorClass string) (models.Playbook, error) {
	if s.policies == nil {
		return models.Playbook{}, fmt.Errorf("policy manager not configured")
	}
	playbook, ok := s.policies.Definition().Playbooks[errorClass]
	if !ok {
		return models.Playbook{}, fmt.Errorf("playbook %s: %w", errorClass, repo.ErrNotFound)
	}
	return playbook, nil
}

// LatencyP95 returns the current p95 classification latency.
func (s *VerdictService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

// cacheGet fills out from the cache; any cache error reads as a miss.
func (s *VerdictService) cacheGet(ctx context.Context, key string, out any) bool {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Debug("cache entry discarded", "key", key, slog.Any("error", err))
		return false
	}
	return true
}

// cacheSet stores v best-effort; failures only get a debug line.
func (s *VerdictService) cacheSet(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.logger.Debug("cache set failed", "key", key, slog.Any("error", err))
	}
}
