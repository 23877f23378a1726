package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/verdictstack/verdict-engine/internal/models"
)

type fakeSnapshots struct {
	snapshot models.PolicySnapshot
	calls    int
	err      error
}

func (f *fakeSnapshots) EnsureSnapshotForExecution(ctx context.Context, executionID string) (models.PolicySnapshot, error) {
	f.calls++
	return f.snapshot, f.err
}

type fakeVerdicts struct {
	persisted []models.Verdict
	err       error
}

func (f *fakeVerdicts) Persist(ctx context.Context, verdict models.Verdict) error {
	if f.err != nil {
		return f.err
	}
	f.persisted = append(f.persisted, verdict)
	return nil
}

type fakeAppender struct {
	events []models.FingerprintEvent
	err    error
}

func (f *fakeAppender) Append(ctx context.Context, event models.FingerprintEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakePublisher struct {
	published     int
	policyVersion string
	err           error
}

func (f *fakePublisher) PublishVerdict(ctx context.Context, verdict models.Verdict, policyVersion string) error {
	if f.err != nil {
		return f.err
	}
	f.published++
	f.policyVersion = policyVersion
	return nil
}

func acmSignals() []models.FailureSignal {
	return []models.FailureSignal{{
		Timestamp:    time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Service:      "acm",
		ResourceType: "AWS::CertificateManager::Certificate",
		ResourceID:   "cert-web",
		StatusReason: "Certificate is in PENDING_VALIDATION state: dns validation incomplete",
		DeployContext: map[string]string{
			"environment": "staging",
		},
	}}
}

func TestPipelineClassifyAndRecord(t *testing.T) {
	snapshots := &fakeSnapshots{snapshot: testSnapshot()}
	verdicts := &fakeVerdicts{}
	events := &fakeAppender{}
	publisher := &fakePublisher{}

	pipeline := NewPipeline(nil, snapshots, verdicts, events, publisher)
	fixed := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	pipeline.now = func() time.Time { return fixed }
	pipeline.newID = func() string { return "0001" }

	verdict, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		ExecutionID: "exec-1",
		Signals:     acmSignals(),
	})
	if err != nil {
		t.Fatalf("classify and record: %v", err)
	}

	if verdict.ID != "vd-0001" {
		t.Fatalf("expected generated id vd-0001, got %s", verdict.ID)
	}
	if verdict.ExecutionID != "exec-1" {
		t.Fatalf("unexpected execution id %s", verdict.ExecutionID)
	}
	if verdict.ErrorClass != "ACM_DNS_VALIDATION_PENDING" {
		t.Fatalf("unexpected error class %s", verdict.ErrorClass)
	}
	if verdict.ConfidenceScore != 90 {
		t.Fatalf("expected score 90, got %d", verdict.ConfidenceScore)
	}
	if verdict.ProposedAction != models.ActionWaitAndRetry {
		t.Fatalf("expected WAIT_AND_RETRY, got %s", verdict.ProposedAction)
	}
	if !strings.HasPrefix(verdict.FingerprintID, "fp-") {
		t.Fatalf("unexpected fingerprint %s", verdict.FingerprintID)
	}
	if verdict.PolicySnapshotID != "ps-test" {
		t.Fatalf("expected snapshot binding ps-test, got %s", verdict.PolicySnapshotID)
	}
	if !verdict.CreatedAt.Equal(fixed) {
		t.Fatalf("expected createdAt %v, got %v", fixed, verdict.CreatedAt)
	}

	if len(verdicts.persisted) != 1 {
		t.Fatalf("expected one persisted verdict, got %d", len(verdicts.persisted))
	}
	if publisher.published != 1 {
		t.Fatalf("expected one published verdict, got %d", publisher.published)
	}
	if publisher.policyVersion != "v-test" {
		t.Fatalf("expected policy version on the published event, got %q", publisher.policyVersion)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected one history event, got %d", len(events.events))
	}
	event := events.events[0]
	if event.FingerprintID != verdict.FingerprintID {
		t.Fatalf("event fingerprint %s does not match verdict %s", event.FingerprintID, verdict.FingerprintID)
	}
	if event.RawConfidence != 0.90 {
		t.Fatalf("expected raw confidence 0.90 on event, got %v", event.RawConfidence)
	}
	if event.DeployContext["environment"] != "staging" {
		t.Fatalf("expected deploy context carried onto event, got %v", event.DeployContext)
	}
}

func TestPipelineUnknownVerdict(t *testing.T) {
	pipeline := NewPipeline(nil, &fakeSnapshots{snapshot: testSnapshot()}, &fakeVerdicts{}, nil, nil)

	verdict, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		ExecutionID: "exec-unknown",
		Signals: []models.FailureSignal{{
			ResourceType: "Custom::LegacyProvisioner",
			StatusReason: "provisioner exited with status 3",
		}},
	})
	if err != nil {
		t.Fatalf("classify and record: %v", err)
	}
	if verdict.ErrorClass != models.ErrorClassUnknown {
		t.Fatalf("expected UNKNOWN, got %s", verdict.ErrorClass)
	}
	if verdict.ConfidenceScore != 50 {
		t.Fatalf("expected score 50, got %d", verdict.ConfidenceScore)
	}
	if verdict.ProposedAction != models.ActionHumanRequired {
		t.Fatalf("expected HUMAN_REQUIRED, got %s", verdict.ProposedAction)
	}
}

func TestPipelineHistoryFailureDoesNotFailVerdict(t *testing.T) {
	verdicts := &fakeVerdicts{}
	events := &fakeAppender{err: errors.New("history store down")}

	pipeline := NewPipeline(nil, &fakeSnapshots{snapshot: testSnapshot()}, verdicts, events, nil)
	verdict, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		ExecutionID: "exec-1",
		Signals:     acmSignals(),
	})
	if err != nil {
		t.Fatalf("history failure must not surface: %v", err)
	}
	if verdict.ID == "" || len(verdicts.persisted) != 1 {
		t.Fatalf("verdict should have been recorded despite history failure")
	}
}

func TestPipelinePublishFailureDoesNotFailVerdict(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker unreachable")}

	pipeline := NewPipeline(nil, &fakeSnapshots{snapshot: testSnapshot()}, &fakeVerdicts{}, nil, publisher)
	if _, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		ExecutionID: "exec-1",
		Signals:     acmSignals(),
	}); err != nil {
		t.Fatalf("publish failure must not surface: %v", err)
	}
}

func TestPipelineValidatesRequest(t *testing.T) {
	pipeline := NewPipeline(nil, &fakeSnapshots{snapshot: testSnapshot()}, &fakeVerdicts{}, nil, nil)

	if _, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		Signals: acmSignals(),
	}); err == nil {
		t.Fatalf("expected error for missing execution id")
	}

	if _, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		ExecutionID: "exec-1",
	}); err == nil {
		t.Fatalf("expected error for empty signal set")
	}

	// signals with neither status reason nor resource type are dropped
	if _, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		ExecutionID: "exec-1",
		Signals:     []models.FailureSignal{{Service: "  ", ResourceID: "r-1"}},
	}); err == nil {
		t.Fatalf("expected error when every signal is unusable")
	}
}

func TestPipelineHonorsSuppliedVerdictID(t *testing.T) {
	verdicts := &fakeVerdicts{}
	pipeline := NewPipeline(nil, &fakeSnapshots{snapshot: testSnapshot()}, verdicts, nil, nil)

	verdict, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		ExecutionID: "exec-1",
		VerdictID:   "vd-retry-7",
		Signals:     acmSignals(),
	})
	if err != nil {
		t.Fatalf("classify and record: %v", err)
	}
	if verdict.ID != "vd-retry-7" {
		t.Fatalf("expected supplied verdict id, got %s", verdict.ID)
	}
}

func TestPipelinePersistFailurePropagates(t *testing.T) {
	persistErr := errors.New("duplicate id")
	pipeline := NewPipeline(nil, &fakeSnapshots{snapshot: testSnapshot()}, &fakeVerdicts{err: persistErr}, nil, nil)

	if _, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		ExecutionID: "exec-1",
		Signals:     acmSignals(),
	}); !errors.Is(err, persistErr) {
		t.Fatalf("expected persist error to surface, got %v", err)
	}
}

func TestPipelineFingerprintStableAcrossRuns(t *testing.T) {
	pipeline := NewPipeline(nil, &fakeSnapshots{snapshot: testSnapshot()}, &fakeVerdicts{}, nil, nil)

	first, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		ExecutionID: "exec-1",
		Signals:     acmSignals(),
	})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := pipeline.ClassifyAndRecord(context.Background(), models.ClassifyRequest{
		ExecutionID: "exec-1",
		Signals:     acmSignals(),
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.ID == second.ID {
		t.Fatalf("verdict ids must differ between runs")
	}
	if first.FingerprintID != second.FingerprintID {
		t.Fatalf("fingerprints diverged: %s vs %s", first.FingerprintID, second.FingerprintID)
	}
	if first.ErrorClass != second.ErrorClass || first.ConfidenceScore != second.ConfidenceScore {
		t.Fatalf("identical signals produced different outcomes")
	}
}
