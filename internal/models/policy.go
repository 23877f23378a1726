package models

import "time"

// PolicyRule is one ordered classification rule. Rules are evaluated in
// pack order and the first match wins.
type PolicyRule struct {
	ErrorClass    string
	Service       string
	Patterns      []string
	RawConfidence float64
	Tokens        []string
}

// Playbook binds an error class to its single remediation action.
type Playbook struct {
	Action ProposedAction
	Steps  []string
}

// PolicySnapshot freezes the policy definitions in force for one execution
// so any verdict can be re-derived later. Snapshots are immutable.
type PolicySnapshot struct {
	ID        string
	Version   string
	Policies  []PolicyRule
	Playbooks map[string]Playbook
	CreatedAt time.Time
}
