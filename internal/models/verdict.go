package models

import "time"

// ProposedAction enumerates the remediation paths a verdict can propose.
type ProposedAction string

const (
	ActionWaitAndRetry  ProposedAction = "WAIT_AND_RETRY"
	ActionOpenIssue     ProposedAction = "OPEN_ISSUE"
	ActionHumanRequired ProposedAction = "HUMAN_REQUIRED"
)

// ErrorClassUnknown is assigned when no policy rule matches the signal set.
const ErrorClassUnknown = "UNKNOWN"

// Verdict is the classification outcome for one failed execution. Verdicts
// are append-only: once persisted they are never updated or deleted.
type Verdict struct {
	ID               string
	ExecutionID      string
	ErrorClass       string
	Service          string
	ConfidenceScore  int
	ProposedAction   ProposedAction
	FingerprintID    string
	PolicySnapshotID string
	Signals          []FailureSignal
	CreatedAt        time.Time
}
