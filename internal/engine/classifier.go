package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/verdictstack/verdict-engine/internal/models"
)

// ErrNoRuleMatched reports that no policy rule matched a signal set. It is
// ordinary control flow: Classify resolves it to the UNKNOWN classification.
var ErrNoRuleMatched = errors.New("no rule matched")

// unknownRawConfidence is the fixed raw confidence of UNKNOWN verdicts.
const unknownRawConfidence = 0.5

// Classification is the pure outcome of matching a signal set against a
// policy snapshot, before normalization and persistence.
type Classification struct {
	ErrorClass    string
	Service       string
	RawConfidence float64
	Tokens        []string
	Matched       bool
}

// Classify evaluates the snapshot's rules in pack order against the signal
// set and returns the first match. No match resolves to UNKNOWN rather
// than an error. The function performs no I/O and consults no clock.
func Classify(signals []models.FailureSignal, snapshot models.PolicySnapshot) (Classification, error) {
	if len(signals) == 0 {
		return Classification{}, fmt.Errorf("at least one failure signal is required")
	}

	rule, err := firstMatch(signals, snapshot.Policies)
	if err != nil {
		if errors.Is(err, ErrNoRuleMatched) {
			return unknownClassification(signals), nil
		}
		return Classification{}, err
	}

	return Classification{
		ErrorClass:    rule.ErrorClass,
		Service:       rule.Service,
		RawConfidence: rule.RawConfidence,
		Tokens:        rule.Tokens,
		Matched:       true,
	}, nil
}

func firstMatch(signals []models.FailureSignal, rules []models.PolicyRule) (models.PolicyRule, error) {
	for _, rule := range rules {
		if ruleMatches(rule, signals) {
			return rule, nil
		}
	}
	return models.PolicyRule{}, ErrNoRuleMatched
}

// ruleMatches reports whether any signal's status reason contains any of
// the rule's patterns, case-insensitively.
func ruleMatches(rule models.PolicyRule, signals []models.FailureSignal) bool {
	for _, signal := range signals {
		reason := strings.ToLower(signal.StatusReason)
		if reason == "" {
			continue
		}
		for _, pattern := range rule.Patterns {
			p := strings.ToLower(strings.TrimSpace(pattern))
			if p != "" && strings.Contains(reason, p) {
				return true
			}
		}
	}
	return false
}

// unknownClassification derives the UNKNOWN outcome from the signal set
// alone. Both the service and the tokens come from sorted resource types,
// so signal order cannot change the result.
func unknownClassification(signals []models.FailureSignal) Classification {
	tokens := resourceTypeTokens(signals)

	service := "unknown"
	if len(tokens) > 0 {
		service = tokens[0]
		if idx := strings.Index(service, "::"); idx > 0 {
			service = service[:idx]
		}
	}

	if len(tokens) == 0 {
		tokens = []string{"unclassified"}
	}

	return Classification{
		ErrorClass:    models.ErrorClassUnknown,
		Service:       service,
		RawConfidence: unknownRawConfidence,
		Tokens:        tokens,
	}
}

func resourceTypeTokens(signals []models.FailureSignal) []string {
	tokens := make([]string, 0, len(signals))
	for _, signal := range signals {
		if rt := strings.ToLower(strings.TrimSpace(signal.ResourceType)); rt != "" {
			tokens = append(tokens, rt)
		}
	}
	return canonicalTokens(tokens)
}
