package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/verdictstack/verdict-engine/internal/models"
)

// Definition is a validated policy pack: the ordered rule list and playbook
// table the engine classifies against. Rule order is significant; the first
// matching rule wins.
type Definition struct {
	Version   string
	Rules     []models.PolicyRule
	Playbooks map[string]models.Playbook
}

// packFile is the YAML root structure of a policy pack.
type packFile struct {
	Version   string                  `yaml:"version"`
	Rules     []packRule              `yaml:"rules"`
	Playbooks map[string]packPlaybook `yaml:"playbooks"`
}

type packRule struct {
	ErrorClass    string   `yaml:"error_class"`
	Service       string   `yaml:"service"`
	Patterns      []string `yaml:"patterns"`
	RawConfidence float64  `yaml:"raw_confidence"`
	Tokens        []string `yaml:"tokens"`
}

type packPlaybook struct {
	Action string   `yaml:"action"`
	Steps  []string `yaml:"steps"`
}

// LoadPack reads and validates a policy pack from path. An empty path
// selects the built-in default pack.
func LoadPack(path string) (Definition, error) {
	if path == "" {
		return DefaultDefinition(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read policy pack %s: %w", path, err)
	}
	def, err := ParsePack(data)
	if err != nil {
		return Definition{}, fmt.Errorf("policy pack %s: %w", path, err)
	}
	return def, nil
}

// ParsePack decodes a YAML policy pack and validates it.
func ParsePack(data []byte) (Definition, error) {
	var file packFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Definition{}, fmt.Errorf("parse policy pack: %w", err)
	}

	def := Definition{
		Version:   file.Version,
		Playbooks: make(map[string]models.Playbook, len(file.Playbooks)+1),
	}
	for _, rule := range file.Rules {
		def.Rules = append(def.Rules, models.PolicyRule{
			ErrorClass:    rule.ErrorClass,
			Service:       rule.Service,
			Patterns:      rule.Patterns,
			RawConfidence: rule.RawConfidence,
			Tokens:        rule.Tokens,
		})
	}
	for class, pb := range file.Playbooks {
		def.Playbooks[class] = models.Playbook{
			Action: models.ProposedAction(pb.Action),
			Steps:  pb.Steps,
		}
	}
	// Packs are not required to spell out the UNKNOWN playbook; its action
	// is fixed either way.
	if _, ok := def.Playbooks[models.ErrorClassUnknown]; !ok {
		def.Playbooks[models.ErrorClassUnknown] = unknownPlaybook()
	}

	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate enforces the structural rules a pack must satisfy before it can
// serve classifications.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Version) == "" {
		return fmt.Errorf("policy pack: version is required")
	}
	if len(d.Rules) == 0 {
		return fmt.Errorf("policy pack %s: at least one rule is required", d.Version)
	}

	seen := make(map[string]struct{}, len(d.Rules))
	for i, rule := range d.Rules {
		if strings.TrimSpace(rule.ErrorClass) == "" {
			return fmt.Errorf("policy pack %s: rule %d: error_class is required", d.Version, i)
		}
		if rule.ErrorClass == models.ErrorClassUnknown {
			return fmt.Errorf("policy pack %s: rule %d: error_class %s is reserved", d.Version, i, models.ErrorClassUnknown)
		}
		if _, dup := seen[rule.ErrorClass]; dup {
			return fmt.Errorf("policy pack %s: duplicate error_class %s", d.Version, rule.ErrorClass)
		}
		seen[rule.ErrorClass] = struct{}{}

		if strings.TrimSpace(rule.Service) == "" {
			return fmt.Errorf("policy pack %s: rule %s: service is required", d.Version, rule.ErrorClass)
		}
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("policy pack %s: rule %s: at least one pattern is required", d.Version, rule.ErrorClass)
		}
		if rule.RawConfidence < 0 || rule.RawConfidence > 1 {
			return fmt.Errorf("policy pack %s: rule %s: raw_confidence %v is outside [0,1]", d.Version, rule.ErrorClass, rule.RawConfidence)
		}
		if len(rule.Tokens) == 0 {
			return fmt.Errorf("policy pack %s: rule %s: at least one token is required", d.Version, rule.ErrorClass)
		}

		playbook, ok := d.Playbooks[rule.ErrorClass]
		if !ok {
			return fmt.Errorf("policy pack %s: rule %s has no playbook", d.Version, rule.ErrorClass)
		}
		if !validAction(playbook.Action) {
			return fmt.Errorf("policy pack %s: playbook %s: unknown action %q", d.Version, rule.ErrorClass, playbook.Action)
		}
	}

	unknown, ok := d.Playbooks[models.ErrorClassUnknown]
	if !ok {
		return fmt.Errorf("policy pack %s: %s playbook is required", d.Version, models.ErrorClassUnknown)
	}
	if unknown.Action != models.ActionHumanRequired {
		return fmt.Errorf("policy pack %s: %s playbook must propose %s", d.Version, models.ErrorClassUnknown, models.ActionHumanRequired)
	}
	return nil
}

func validAction(action models.ProposedAction) bool {
	switch action {
	case models.ActionWaitAndRetry, models.ActionOpenIssue, models.ActionHumanRequired:
		return true
	}
	return false
}

func unknownPlaybook() models.Playbook {
	return models.Playbook{
		Action: models.ActionHumanRequired,
		Steps: []string{
			"Inspect the raw failure signals attached to the verdict.",
			"If the failure mode recurs, add a classification rule for it to the policy pack.",
		},
	}
}
