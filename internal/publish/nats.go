package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/verdictstack/verdict-engine/internal/models"
)

// DefaultSubject is where verdict-created events land unless configured.
const DefaultSubject = "verdicts.created"

// NATSPublisher emits one message per recorded verdict with routing
// metadata in the headers and a JSON summary as the payload.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to url and returns a publisher on subject.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("verdict-engine"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

// verdictEvent is the wire payload of one published verdict.
type verdictEvent struct {
	VerdictID        string `json:"verdict_id"`
	ExecutionID      string `json:"execution_id"`
	ErrorClass       string `json:"error_class"`
	Service          string `json:"service"`
	ConfidenceScore  int    `json:"confidence_score"`
	ProposedAction   string `json:"proposed_action"`
	FingerprintID    string `json:"fingerprint_id"`
	PolicySnapshotID string `json:"policy_snapshot_id"`
	PolicyVersion    string `json:"policy_version"`
	CreatedAt        string `json:"created_at"`
}

// PublishVerdict emits one verdict-created message.
func (p *NATSPublisher) PublishVerdict(ctx context.Context, verdict models.Verdict, policyVersion string) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("nats connection not available")
	}

	payload, err := json.Marshal(verdictEvent{
		VerdictID:        verdict.ID,
		ExecutionID:      verdict.ExecutionID,
		ErrorClass:       verdict.ErrorClass,
		Service:          verdict.Service,
		ConfidenceScore:  verdict.ConfidenceScore,
		ProposedAction:   string(verdict.ProposedAction),
		FingerprintID:    verdict.FingerprintID,
		PolicySnapshotID: verdict.PolicySnapshotID,
		PolicyVersion:    policyVersion,
		CreatedAt:        verdict.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode verdict event: %w", err)
	}

	headers := nats.Header{}
	headers.Set("x-verdict-id", verdict.ID)
	headers.Set("x-execution-id", verdict.ExecutionID)
	headers.Set("x-error-class", verdict.ErrorClass)
	headers.Set("x-proposed-action", string(verdict.ProposedAction))
	headers.Set("x-fingerprint-id", verdict.FingerprintID)

	msg := &nats.Msg{Subject: p.subject, Data: payload, Header: headers}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish verdict %s: %w", verdict.ID, err)
	}

	p.logger.Debug("verdict published",
		"verdict_id", verdict.ID,
		"error_class", verdict.ErrorClass,
		"subject", p.subject)
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
