package models

import "time"

// FingerprintEvent is one best-effort history record keyed by
// (fingerprint, occurrence time). Events carry the raw confidence so
// drift can be inspected before normalization.
type FingerprintEvent struct {
	FingerprintID string
	OccurredAt    time.Time
	ErrorClass    string
	Service       string
	RawConfidence float64
	DeployContext map[string]string
}

// FingerprintStats aggregates the retained history for one fingerprint.
type FingerprintStats struct {
	FingerprintID        string
	TotalOccurrences     int
	FirstSeen            time.Time
	LastSeen             time.Time
	AverageRawConfidence float64
}

// VerdictOutcome is one (errorClass, confidenceScore) pair observed within
// a fingerprint group.
type VerdictOutcome struct {
	ErrorClass      string
	ConfidenceScore int
}

// InconsistentGroup lists the divergent outcomes recorded for one fingerprint.
type InconsistentGroup struct {
	FingerprintID string
	Outcomes      []VerdictOutcome
}

// ConsistencyReport measures whether identical failures received identical
// verdicts within the reporting window.
type ConsistencyReport struct {
	GeneratedAt        time.Time
	Since              time.Time
	TotalGroups        int
	ConsistentGroups   int
	ConsistencyPercent int
	Inconsistent       []InconsistentGroup
}

// ClassStat ranks one error class inside a KPI report.
type ClassStat struct {
	ErrorClass    string
	Count         int
	AvgConfidence float64
}

// KPIReport summarises verdict volume, confidence, and the consistency
// score since a cutoff.
type KPIReport struct {
	GeneratedAt        time.Time
	Since              time.Time
	TotalVerdicts      int
	AvgConfidence      float64
	ConsistencyPercent int
	CountsByAction     map[ProposedAction]int
	TopErrorClasses    []ClassStat
}
