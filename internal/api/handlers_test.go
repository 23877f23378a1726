package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/verdictstack/verdict-engine/internal/engine"
	"github.com/verdictstack/verdict-engine/internal/models"
	"github.com/verdictstack/verdict-engine/internal/policy"
	"github.com/verdictstack/verdict-engine/internal/repo"
	"github.com/verdictstack/verdict-engine/internal/services"
)

const acmBody = `{
	"execution_id": "exec-1",
	"signals": [{
		"timestamp": "2026-08-20T10:00:00Z",
		"service": "acm",
		"resource_type": "AWS::CertificateManager::Certificate",
		"resource_id": "cert-web",
		"status_reason": "Certificate is in PENDING_VALIDATION state"
	}]
}`

func newTestRouter(t *testing.T, ready ReadinessFunc) *mux.Router {
	t.Helper()

	manager, err := policy.NewSnapshotManager(policy.DefaultDefinition(), repo.NewMemorySnapshotStore(), 8, nil)
	if err != nil {
		t.Fatalf("new snapshot manager: %v", err)
	}
	verdicts := repo.NewMemoryVerdictStore()
	events := repo.NewMemoryEventStore(0)
	pipeline := engine.NewPipeline(nil, manager, verdicts, events, nil)
	service := services.NewVerdictService(nil, pipeline, verdicts, events, manager, nil, 0, 0)
	return NewHandler(nil, service, ready).Routes()
}

func doRequest(router *mux.Router, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerClassifyVerdict(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := doRequest(router, http.MethodPost, "/api/v1/verdicts", acmBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %s", ct)
	}

	var verdict verdictPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if verdict.ErrorClass != "ACM_DNS_VALIDATION_PENDING" {
		t.Fatalf("unexpected error class %s", verdict.ErrorClass)
	}
	if verdict.ConfidenceScore != 90 || verdict.ProposedAction != "WAIT_AND_RETRY" {
		t.Fatalf("unexpected outcome %+v", verdict)
	}
	if !strings.HasPrefix(verdict.ID, "vd-") {
		t.Fatalf("unexpected verdict id %s", verdict.ID)
	}
	if !strings.HasPrefix(verdict.FingerprintID, "fp-") {
		t.Fatalf("unexpected fingerprint id %s", verdict.FingerprintID)
	}
	if !strings.HasPrefix(verdict.PolicySnapshotID, "ps-") {
		t.Fatalf("unexpected snapshot id %s", verdict.PolicySnapshotID)
	}
	if verdict.ExecutionID != "exec-1" || len(verdict.Signals) != 1 {
		t.Fatalf("request fields not echoed: %+v", verdict)
	}
}

func TestHandlerClassifyRejectsInvalidJSON(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := doRequest(router, http.MethodPost, "/api/v1/verdicts", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var payload errorPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Error == "" {
		t.Fatalf("expected error message in body")
	}
}

func TestHandlerClassifyRequiresExecutionID(t *testing.T) {
	router := newTestRouter(t, nil)

	body := `{"signals":[{"status_reason":"pending_validation"}]}`
	rec := doRequest(router, http.MethodPost, "/api/v1/verdicts", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerClassifyRejectsBadTimestamp(t *testing.T) {
	router := newTestRouter(t, nil)

	body := `{"execution_id":"exec-1","signals":[{"timestamp":"yesterday","status_reason":"pending_validation"}]}`
	rec := doRequest(router, http.MethodPost, "/api/v1/verdicts", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "RFC3339") {
		t.Fatalf("expected timestamp error, got %s", rec.Body.String())
	}
}

func TestHandlerClassifyDuplicateVerdictID(t *testing.T) {
	router := newTestRouter(t, nil)

	body := `{
		"execution_id": "exec-1",
		"verdict_id": "vd-dup",
		"signals": [{"service": "acm", "status_reason": "pending_validation"}]
	}`
	rec := doRequest(router, http.MethodPost, "/api/v1/verdicts", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var verdict verdictPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if verdict.ID != "vd-dup" {
		t.Fatalf("expected supplied verdict id, got %s", verdict.ID)
	}

	rec = doRequest(router, http.MethodPost, "/api/v1/verdicts", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerExecutionVerdicts(t *testing.T) {
	router := newTestRouter(t, nil)

	if rec := doRequest(router, http.MethodPost, "/api/v1/verdicts", acmBody); rec.Code != http.StatusCreated {
		t.Fatalf("seed verdict: %d", rec.Code)
	}

	rec := doRequest(router, http.MethodGet, "/api/v1/executions/exec-1/verdicts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list verdictListPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || len(list.Verdicts) != 1 {
		t.Fatalf("expected one verdict, got %+v", list)
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/executions/exec-unknown/verdicts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown execution, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 0 {
		t.Fatalf("expected empty list, got %+v", list)
	}
}

func TestHandlerFingerprintRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := doRequest(router, http.MethodPost, "/api/v1/verdicts", acmBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed verdict: %d", rec.Code)
	}
	var verdict verdictPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/fingerprints/"+verdict.FingerprintID+"/verdicts?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verdicts by fingerprint: %d", rec.Code)
	}
	var list verdictListPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("expected one verdict, got %+v", list)
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/fingerprints/"+verdict.FingerprintID+"/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("fingerprint stats: %d", rec.Code)
	}
	var stats statsPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalOccurrences != 1 || stats.AverageRawConfidence != 0.9 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/fingerprints/"+verdict.FingerprintID+"/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("fingerprint events: %d", rec.Code)
	}
	var events eventListPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if events.Count != 1 || events.Events[0].ErrorClass != verdict.ErrorClass {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestHandlerFingerprintStatsNotFound(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := doRequest(router, http.MethodGet, "/api/v1/fingerprints/fp-missing/stats", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlerRejectsBadLimit(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, limit := range []string{"nope", "-1"} {
		rec := doRequest(router, http.MethodGet, "/api/v1/fingerprints/fp-x/verdicts?limit="+limit, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("limit %q: expected 400, got %d", limit, rec.Code)
		}
	}
}

func TestHandlerRejectsBadSince(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, target := range []string{
		"/api/v1/reports/consistency?since=nope",
		"/api/v1/reports/kpi?since=nope",
	} {
		rec := doRequest(router, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestHandlerConsistencyReport(t *testing.T) {
	router := newTestRouter(t, nil)

	if rec := doRequest(router, http.MethodPost, "/api/v1/verdicts", acmBody); rec.Code != http.StatusCreated {
		t.Fatalf("seed verdict: %d", rec.Code)
	}

	rec := doRequest(router, http.MethodGet, "/api/v1/reports/consistency?since=2026-08-01T00:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report consistencyPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.TotalGroups != 1 || report.ConsistencyPercent != 100 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Since != "2026-08-01T00:00:00Z" {
		t.Fatalf("expected since echoed, got %s", report.Since)
	}
	if len(report.Inconsistent) != 0 {
		t.Fatalf("expected no inconsistent groups, got %+v", report.Inconsistent)
	}
}

func TestHandlerKPIReport(t *testing.T) {
	router := newTestRouter(t, nil)

	if rec := doRequest(router, http.MethodPost, "/api/v1/verdicts", acmBody); rec.Code != http.StatusCreated {
		t.Fatalf("seed verdict: %d", rec.Code)
	}

	rec := doRequest(router, http.MethodGet, "/api/v1/reports/kpi", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report kpiPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.TotalVerdicts != 1 {
		t.Fatalf("expected one verdict, got %+v", report)
	}
	if report.CountsByAction["WAIT_AND_RETRY"] != 1 {
		t.Fatalf("unexpected action counts %v", report.CountsByAction)
	}
	if report.ConsistencyPercent != 100 {
		t.Fatalf("expected 100%% consistency, got %d", report.ConsistencyPercent)
	}
	if len(report.TopErrorClasses) != 1 || report.TopErrorClasses[0].ErrorClass != "ACM_DNS_VALIDATION_PENDING" {
		t.Fatalf("unexpected top classes %+v", report.TopErrorClasses)
	}
}

func TestHandlerPlaybook(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := doRequest(router, http.MethodGet, "/api/v1/playbooks/ACM_DNS_VALIDATION_PENDING", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var playbook playbookPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &playbook); err != nil {
		t.Fatalf("decode playbook: %v", err)
	}
	if playbook.Action != "WAIT_AND_RETRY" || len(playbook.Steps) == 0 {
		t.Fatalf("unexpected playbook %+v", playbook)
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/playbooks/NO_SUCH_CLASS", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlerHealthAndReadiness(t *testing.T) {
	router := newTestRouter(t, nil)
	if rec := doRequest(router, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
	if rec := doRequest(router, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rec.Code)
	}

	failing := newTestRouter(t, func(ctx context.Context) error {
		return errors.New("store unreachable")
	})
	rec := doRequest(failing, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: expected 503, got %d", rec.Code)
	}
}

type downVerdictStore struct{}

func (downVerdictStore) Persist(ctx context.Context, verdict models.Verdict) error {
	return fmt.Errorf("persist: %w", repo.ErrUnavailable)
}

func (downVerdictStore) GetByExecution(ctx context.Context, executionID string) ([]models.Verdict, error) {
	return nil, fmt.Errorf("get by execution: %w", repo.ErrUnavailable)
}

func (downVerdictStore) GetByFingerprint(ctx context.Context, fingerprintID string, limit int) ([]models.Verdict, error) {
	return nil, fmt.Errorf("get by fingerprint: %w", repo.ErrUnavailable)
}

func (downVerdictStore) ListSince(ctx context.Context, since time.Time) ([]models.Verdict, error) {
	return nil, fmt.Errorf("list since: %w", repo.ErrUnavailable)
}

func TestHandlerStorageUnavailable(t *testing.T) {
	manager, err := policy.NewSnapshotManager(policy.DefaultDefinition(), repo.NewMemorySnapshotStore(), 8, nil)
	if err != nil {
		t.Fatalf("new snapshot manager: %v", err)
	}
	store := downVerdictStore{}
	events := repo.NewMemoryEventStore(0)
	pipeline := engine.NewPipeline(nil, manager, store, events, nil)
	service := services.NewVerdictService(nil, pipeline, store, events, manager, nil, 0, 0)
	router := NewHandler(nil, service, nil).Routes()

	if rec := doRequest(router, http.MethodGet, "/api/v1/executions/exec-1/verdicts", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for reads, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doRequest(router, http.MethodPost, "/api/v1/verdicts", acmBody); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for writes, got %d: %s", rec.Code, rec.Body.String())
	}
}
