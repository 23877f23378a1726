package models

// ClassifyRequest carries one classification call. VerdictID is optional:
// callers retrying after an ambiguous failure supply their previous id so
// the second attempt is rejected as a duplicate instead of double-writing.
type ClassifyRequest struct {
	ExecutionID string
	VerdictID   string
	Signals     []FailureSignal
}
