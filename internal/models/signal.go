package models

import "time"

// FailureSignal is one observed failure emitted by an execution. A verdict
// is derived from the full signal set of a failed execution, not from a
// single signal.
type FailureSignal struct {
	Timestamp     time.Time
	Service       string
	ResourceType  string
	ResourceID    string
	StatusReason  string
	DeployContext map[string]string
}
