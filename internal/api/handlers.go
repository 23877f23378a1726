package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/verdictstack/verdict-engine/internal/engine"
	"github.com/verdictstack/verdict-engine/internal/models"
	"github.com/verdictstack/verdict-engine/internal/repo"
	"github.com/verdictstack/verdict-engine/internal/services"
	"github.com/verdictstack/verdict-engine/internal/utils"
)

// defaultReportWindow is used when a reports endpoint gets no since filter.
const defaultReportWindow = 24 * time.Hour

// ReadinessFunc reports whether downstream dependencies can serve traffic.
type ReadinessFunc func(ctx context.Context) error

// Handler serves the verdict HTTP API.
type Handler struct {
	logger  *slog.Logger
	service *services.VerdictService
	ready   ReadinessFunc
}

// NewHandler constructs the API handler. ready may be nil; readyz then
// always reports ready.
func NewHandler(logger *slog.Logger, service *services.VerdictService, ready ReadinessFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, ready: ready}
}

// Routes returns the router with every endpoint registered.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/verdicts", h.handleClassify).Methods(http.MethodPost)
	api.HandleFunc("/executions/{executionID}/verdicts", h.handleExecutionVerdicts).Methods(http.MethodGet)
	api.HandleFunc("/fingerprints/{fingerprintID}/verdicts", h.handleFingerprintVerdicts).Methods(http.MethodGet)
	api.HandleFunc("/fingerprints/{fingerprintID}/stats", h.handleFingerprintStats).Methods(http.MethodGet)
	api.HandleFunc("/fingerprints/{fingerprintID}/events", h.handleFingerprintEvents).Methods(http.MethodGet)
	api.HandleFunc("/reports/consistency", h.handleConsistencyReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/kpi", h.handleKPIReport).Methods(http.MethodGet)
	api.HandleFunc("/playbooks/{errorClass}", h.handlePlaybook).Methods(http.MethodGet)

	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.handleReady).Methods(http.MethodGet)
	return r
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	var payload classifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req, err := payload.toModel()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	verdict, err := h.service.ClassifyAndRecord(r.Context(), req)
	if err != nil {
		h.writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toVerdictPayload(verdict))
}

func (h *Handler) handleExecutionVerdicts(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["executionID"]
	verdicts, err := h.service.GetVerdictsForExecution(r.Context(), executionID)
	if err != nil {
		h.writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, verdictListPayload{
		Verdicts: toVerdictPayloads(verdicts),
		Count:    len(verdicts),
	})
}

func (h *Handler) handleFingerprintVerdicts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fingerprintID := mux.Vars(r)["fingerprintID"]
	verdicts, err := h.service.GetVerdictsByFingerprint(r.Context(), fingerprintID, limit)
	if err != nil {
		h.writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, verdictListPayload{
		Verdicts: toVerdictPayloads(verdicts),
		Count:    len(verdicts),
	})
}

func (h *Handler) handleFingerprintStats(w http.ResponseWriter, r *http.Request) {
	fingerprintID := mux.Vars(r)["fingerprintID"]
	stats, err := h.service.GetFingerprintStats(r.Context(), fingerprintID)
	if err != nil {
		h.writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toStatsPayload(stats))
}

func (h *Handler) handleFingerprintEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fingerprintID := mux.Vars(r)["fingerprintID"]
	events, err := h.service.GetFingerprintEvents(r.Context(), fingerprintID, limit)
	if err != nil {
		h.writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, eventListPayload{
		Events: toEventPayloads(events),
		Count:  len(events),
	})
}

func (h *Handler) handleConsistencyReport(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.service.GetConsistencyReport(r.Context(), since)
	if err != nil {
		h.writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toConsistencyPayload(report))
}

func (h *Handler) handleKPIReport(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.service.GetKPIReport(r.Context(), since)
	if err != nil {
		h.writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toKPIPayload(report))
}

func (h *Handler) handlePlaybook(w http.ResponseWriter, r *http.Request) {
	errorClass := mux.Vars(r)["errorClass"]
	playbook, err := h.service.GetPlaybook(errorClass)
	if err != nil {
		h.writeError(w, statusFromError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, playbookPayload{
		ErrorClass: errorClass,
		Action:     string(playbook.Action),
		Steps:      append([]string(nil), playbook.Steps...),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFromError translates domain sentinels into HTTP status codes.
func statusFromError(err error) int {
	var appErr *utils.AppError
	switch {
	case errors.Is(err, repo.ErrDuplicateVerdict):
		return http.StatusConflict
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidConfidence):
		return http.StatusBadRequest
	case errors.Is(err, repo.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &appErr) && appErr.Err == nil:
		// validation failures carry no underlying cause
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return limit, nil
}

func parseSince(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Now().UTC().Add(-defaultReportWindow), nil
	}
	since, err := utils.ParseRFC3339(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be an RFC3339 timestamp")
	}
	return since.UTC(), nil
}

type errorPayload struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", status, "error", msg)
	}
	writeJSON(w, status, errorPayload{Error: msg})
}

type signalPayload struct {
	Timestamp     string            `json:"timestamp,omitempty"`
	Service       string            `json:"service,omitempty"`
	ResourceType  string            `json:"resource_type,omitempty"`
	ResourceID    string            `json:"resource_id,omitempty"`
	StatusReason  string            `json:"status_reason,omitempty"`
	DeployContext map[string]string `json:"deploy_context,omitempty"`
}

func (p signalPayload) toModel() (models.FailureSignal, error) {
	signal := models.FailureSignal{
		Service:      p.Service,
		ResourceType: p.ResourceType,
		ResourceID:   p.ResourceID,
		StatusReason: p.StatusReason,
	}
	if p.Timestamp != "" {
		ts, err := utils.ParseRFC3339(p.Timestamp)
		if err != nil {
			return models.FailureSignal{}, fmt.Errorf("signal timestamp must be RFC3339")
		}
		signal.Timestamp = ts.UTC()
	}
	if len(p.DeployContext) > 0 {
		signal.DeployContext = make(map[string]string, len(p.DeployContext))
		for k, v := range p.DeployContext {
			signal.DeployContext[k] = v
		}
	}
	return signal, nil
}

func toSignalPayload(signal models.FailureSignal) signalPayload {
	p := signalPayload{
		Service:       signal.Service,
		ResourceType:  signal.ResourceType,
		ResourceID:    signal.ResourceID,
		StatusReason:  signal.StatusReason,
		DeployContext: signal.DeployContext,
	}
	if !signal.Timestamp.IsZero() {
		p.Timestamp = signal.Timestamp.UTC().Format(time.RFC3339)
	}
	return p
}

type classifyPayload struct {
	ExecutionID string          `json:"execution_id"`
	VerdictID   string          `json:"verdict_id,omitempty"`
	Signals     []signalPayload `json:"signals"`
}

func (p classifyPayload) toModel() (models.ClassifyRequest, error) {
	req := models.ClassifyRequest{
		ExecutionID: p.ExecutionID,
		VerdictID:   p.VerdictID,
		Signals:     make([]models.FailureSignal, 0, len(p.Signals)),
	}
	for _, sp := range p.Signals {
		signal, err := sp.toModel()
		if err != nil {
			return models.ClassifyRequest{}, err
		}
		req.Signals = append(req.Signals, signal)
	}
	return req, nil
}

type verdictPayload struct {
	ID               string          `json:"id"`
	ExecutionID      string          `json:"execution_id"`
	ErrorClass       string          `json:"error_class"`
	Service          string          `json:"service"`
	ConfidenceScore  int             `json:"confidence_score"`
	ProposedAction   string          `json:"proposed_action"`
	FingerprintID    string          `json:"fingerprint_id"`
	PolicySnapshotID string          `json:"policy_snapshot_id"`
	Signals          []signalPayload `json:"signals"`
	CreatedAt        string          `json:"created_at"`
}

func toVerdictPayload(verdict models.Verdict) verdictPayload {
	payload := verdictPayload{
		ID:               verdict.ID,
		ExecutionID:      verdict.ExecutionID,
		ErrorClass:       verdict.ErrorClass,
		Service:          verdict.Service,
		ConfidenceScore:  verdict.ConfidenceScore,
		ProposedAction:   string(verdict.ProposedAction),
		FingerprintID:    verdict.FingerprintID,
		PolicySnapshotID: verdict.PolicySnapshotID,
		Signals:          make([]signalPayload, 0, len(verdict.Signals)),
		CreatedAt:        verdict.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, signal := range verdict.Signals {
		payload.Signals = append(payload.Signals, toSignalPayload(signal))
	}
	return payload
}

func toVerdictPayloads(verdicts []models.Verdict) []verdictPayload {
	payloads := make([]verdictPayload, 0, len(verdicts))
	for _, verdict := range verdicts {
		payloads = append(payloads, toVerdictPayload(verdict))
	}
	return payloads
}

type verdictListPayload struct {
	Verdicts []verdictPayload `json:"verdicts"`
	Count    int              `json:"count"`
}

type statsPayload struct {
	FingerprintID        string  `json:"fingerprint_id"`
	TotalOccurrences     int     `json:"total_occurrences"`
	FirstSeen            string  `json:"first_seen"`
	LastSeen             string  `json:"last_seen"`
	AverageRawConfidence float64 `json:"average_raw_confidence"`
}

func toStatsPayload(stats models.FingerprintStats) statsPayload {
	return statsPayload{
		FingerprintID:        stats.FingerprintID,
		TotalOccurrences:     stats.TotalOccurrences,
		FirstSeen:            stats.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:             stats.LastSeen.UTC().Format(time.RFC3339),
		AverageRawConfidence: stats.AverageRawConfidence,
	}
}

type eventPayload struct {
	FingerprintID string            `json:"fingerprint_id"`
	OccurredAt    string            `json:"occurred_at"`
	ErrorClass    string            `json:"error_class"`
	Service       string            `json:"service"`
	RawConfidence float64           `json:"raw_confidence"`
	DeployContext map[string]string `json:"deploy_context,omitempty"`
}

func toEventPayloads(events []models.FingerprintEvent) []eventPayload {
	payloads := make([]eventPayload, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, eventPayload{
			FingerprintID: event.FingerprintID,
			OccurredAt:    event.OccurredAt.UTC().Format(time.RFC3339),
			ErrorClass:    event.ErrorClass,
			Service:       event.Service,
			RawConfidence: event.RawConfidence,
			DeployContext: event.DeployContext,
		})
	}
	return payloads
}

type eventListPayload struct {
	Events []eventPayload `json:"events"`
	Count  int            `json:"count"`
}

type outcomePayload struct {
	ErrorClass      string `json:"error_class"`
	ConfidenceScore int    `json:"confidence_score"`
}

type inconsistentGroupPayload struct {
	FingerprintID string           `json:"fingerprint_id"`
	Outcomes      []outcomePayload `json:"outcomes"`
}

type consistencyPayload struct {
	GeneratedAt        string                     `json:"generated_at"`
	Since              string                     `json:"since"`
	TotalGroups        int                        `json:"total_groups"`
	ConsistentGroups   int                        `json:"consistent_groups"`
	ConsistencyPercent int                        `json:"consistency_percent"`
	Inconsistent       []inconsistentGroupPayload `json:"inconsistent"`
}

func toConsistencyPayload(report models.ConsistencyReport) consistencyPayload {
	payload := consistencyPayload{
		GeneratedAt:        report.GeneratedAt.UTC().Format(time.RFC3339),
		Since:              report.Since.UTC().Format(time.RFC3339),
		TotalGroups:        report.TotalGroups,
		ConsistentGroups:   report.ConsistentGroups,
		ConsistencyPercent: report.ConsistencyPercent,
		Inconsistent:       make([]inconsistentGroupPayload, 0, len(report.Inconsistent)),
	}
	for _, group := range report.Inconsistent {
		gp := inconsistentGroupPayload{
			FingerprintID: group.FingerprintID,
			Outcomes:      make([]outcomePayload, 0, len(group.Outcomes)),
		}
		for _, outcome := range group.Outcomes {
			gp.Outcomes = append(gp.Outcomes, outcomePayload{
				ErrorClass:      outcome.ErrorClass,
				ConfidenceScore: outcome.ConfidenceScore,
			})
		}
		payload.Inconsistent = append(payload.Inconsistent, gp)
	}
	return payload
}

type classStatPayload struct {
	ErrorClass    string  `json:"error_class"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

type kpiPayload struct {
	GeneratedAt        string             `json:"generated_at"`
	Since              string             `json:"since"`
	TotalVerdicts      int                `json:"total_verdicts"`
	AvgConfidence      float64            `json:"avg_confidence"`
	ConsistencyPercent int                `json:"consistency_percent"`
	CountsByAction     map[string]int     `json:"counts_by_action"`
	TopErrorClasses    []classStatPayload `json:"top_error_classes"`
}

func toKPIPayload(report models.KPIReport) kpiPayload {
	payload := kpiPayload{
		GeneratedAt:        report.GeneratedAt.UTC().Format(time.RFC3339),
		Since:              report.Since.UTC().Format(time.RFC3339),
		TotalVerdicts:      report.TotalVerdicts,
		AvgConfidence:      report.AvgConfidence,
		ConsistencyPercent: report.ConsistencyPercent,
		CountsByAction:     make(map[string]int, len(report.CountsByAction)),
		TopErrorClasses:    make([]classStatPayload, 0, len(report.TopErrorClasses)),
	}
	for action, count := range report.CountsByAction {
		payload.CountsByAction[string(action)] = count
	}
	for _, stat := range report.TopErrorClasses {
		payload.TopErrorClasses = append(payload.TopErrorClasses, classStatPayload{
			ErrorClass:    stat.ErrorClass,
			Count:         stat.Count,
			AvgConfidence: stat.AvgConfidence,
		})
	}
	return payload
}

type playbookPayload struct {
	ErrorClass string   `json:"error_class"`
	Action     string   `json:"action"`
	Steps      []string `json:"steps"`
}
