package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verdictstack/verdict-engine/internal/metrics"
	"github.com/verdictstack/verdict-engine/internal/models"
	"github.com/verdictstack/verdict-engine/internal/utils"
)

// SnapshotProvider binds and returns the policy snapshot for an execution.
type SnapshotProvider interface {
	EnsureSnapshotForExecution(ctx context.Context, executionID string) (models.PolicySnapshot, error)
}

// VerdictWriter persists verdicts append-only.
type VerdictWriter interface {
	Persist(ctx context.Context, verdict models.Verdict) error
}

// EventAppender records fingerprint history.
type EventAppender interface {
	Append(ctx context.Context, event models.FingerprintEvent) error
}

// VerdictPublisher pushes verdict-created events over the outbound
// boundary. The policy version rides along so consumers need no snapshot
// lookup.
type VerdictPublisher interface {
	PublishVerdict(ctx context.Context, verdict models.Verdict, policyVersion string) error
}

// Pipeline executes one classification end to end: snapshot binding, rule
// matching, normalization, fingerprinting, persistence, history.
type Pipeline struct {
	logger    *slog.Logger
	snapshots SnapshotProvider
	verdicts  VerdictWriter
	events    EventAppender
	publisher VerdictPublisher
	now       func() time.Time
	newID     func() string
}

// NewPipeline constructs a classification pipeline. The publisher and the
// event appender are optional; everything else is required.
func NewPipeline(
	logger *slog.Logger,
	snapshots SnapshotProvider,
	verdicts VerdictWriter,
	events EventAppender,
	publisher VerdictPublisher,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:    logger,
		snapshots: snapshots,
		verdicts:  verdicts,
		events:    events,
		publisher: publisher,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ClassifyAndRecord derives and persists one verdict. Identical signals
// under the same snapshot always yield the same class, score, action, and
// fingerprint; only the verdict id and createdAt differ between runs.
func (p *Pipeline) ClassifyAndRecord(ctx context.Context, req models.ClassifyRequest) (models.Verdict, error) {
	executionID := strings.TrimSpace(req.ExecutionID)
	if executionID == "" {
		return models.Verdict{}, utils.NewAppError("engine.classify", "execution id is required", nil)
	}
	signals := sanitizeSignals(req.Signals)
	if len(signals) == 0 {
		return models.Verdict{}, utils.NewAppError("engine.classify", "at least one failure signal is required", nil)
	}

	snapshot, err := p.snapshots.EnsureSnapshotForExecution(ctx, executionID)
	if err != nil {
		return models.Verdict{}, err
	}

	classification, err := Classify(signals, snapshot)
	if err != nil {
		return models.Verdict{}, err
	}
	score, err := Normalize(classification.RawConfidence)
	if err != nil {
		return models.Verdict{}, err
	}
	action, err := ResolveAction(classification.ErrorClass, snapshot)
	if err != nil {
		return models.Verdict{}, utils.NewAppError("engine.classify", "resolve proposed action", err)
	}

	verdict := models.Verdict{
		ID:               verdictID(req.VerdictID, p.newID),
		ExecutionID:      executionID,
		ErrorClass:       classification.ErrorClass,
		Service:          classification.Service,
		ConfidenceScore:  score,
		ProposedAction:   action,
		FingerprintID:    Fingerprint(classification.ErrorClass, classification.Service, classification.Tokens),
		PolicySnapshotID: snapshot.ID,
		Signals:          signals,
		CreatedAt:        p.now().UTC(),
	}

	if err := p.verdicts.Persist(ctx, verdict); err != nil {
		return models.Verdict{}, err
	}
	metrics.IncVerdict(verdict.ErrorClass, string(verdict.ProposedAction))

	p.recordHistory(ctx, verdict, classification.RawConfidence)
	p.publish(ctx, verdict, snapshot.Version)

	p.logger.Info("verdict recorded",
		"verdict_id", verdict.ID,
		"execution_id", verdict.ExecutionID,
		"error_class", verdict.ErrorClass,
		"confidence", verdict.ConfidenceScore,
		"action", string(verdict.ProposedAction),
		"fingerprint_id", verdict.FingerprintID,
		"policy_snapshot_id", verdict.PolicySnapshotID)
	return verdict, nil
}

// recordHistory appends a fingerprint event. Failures are logged and
// counted, never surfaced: history is best-effort and the verdict already
// stands.
func (p *Pipeline) recordHistory(ctx context.Context, verdict models.Verdict, rawConfidence float64) {
	if p.events == nil {
		return
	}
	event := models.FingerprintEvent{
		FingerprintID: verdict.FingerprintID,
		OccurredAt:    verdict.CreatedAt,
		ErrorClass:    verdict.ErrorClass,
		Service:       verdict.Service,
		RawConfidence: rawConfidence,
		DeployContext: mergeDeployContext(verdict.Signals),
	}
	if err := p.events.Append(ctx, event); err != nil {
		metrics.IncHistoryAppendFailure()
		p.logger.Warn("fingerprint history append failed",
			slog.Any("error", err),
			"fingerprint_id", verdict.FingerprintID,
			"verdict_id", verdict.ID)
	}
}

func (p *Pipeline) publish(ctx context.Context, verdict models.Verdict, policyVersion string) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishVerdict(ctx, verdict, policyVersion); err != nil {
		p.logger.Warn("verdict publish failed",
			slog.Any("error", err),
			"verdict_id", verdict.ID)
	}
}

func verdictID(supplied string, newID func() string) string {
	if supplied = strings.TrimSpace(supplied); supplied != "" {
		return supplied
	}
	return "vd-" + newID()
}

// sanitizeSignals trims text fields and drops signals carrying neither a
// status reason nor a resource type; those can match no rule and anchor no
// fingerprint token.
func sanitizeSignals(signals []models.FailureSignal) []models.FailureSignal {
	out := make([]models.FailureSignal, 0, len(signals))
	for _, signal := range signals {
		signal.Service = strings.TrimSpace(signal.Service)
		signal.ResourceType = strings.TrimSpace(signal.ResourceType)
		signal.ResourceID = strings.TrimSpace(signal.ResourceID)
		signal.StatusReason = strings.TrimSpace(signal.StatusReason)
		if signal.StatusReason == "" && signal.ResourceType == "" {
			continue
		}
		out = append(out, signal)
	}
	return out
}

// mergeDeployContext folds the signals' contexts into one map; the first
// signal to set a key wins.
func mergeDeployContext(signals []models.FailureSignal) map[string]string {
	var merged map[string]string
	for _, signal := range signals {
		for k, v := range signal.DeployContext {
			if merged == nil {
				merged = make(map[string]string)
			}
			if _, set := merged[k]; !set {
				merged[k] = v
			}
		}
	}
	return merged
}
