package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/verdictstack/verdict-engine/internal/models"
)

const validPack = `
version: v9.9.9
rules:
  - error_class: DISK_FULL
    service: storage
    patterns: ["no space left on device"]
    raw_confidence: 0.95
    tokens: [storage, disk]
playbooks:
  DISK_FULL:
    action: OPEN_ISSUE
    steps:
      - Free disk space on the affected volume.
`

func TestParsePack(t *testing.T) {
	def, err := ParsePack([]byte(validPack))
	if err != nil {
		t.Fatalf("parse pack: %v", err)
	}
	if def.Version != "v9.9.9" {
		t.Fatalf("unexpected version %s", def.Version)
	}
	if len(def.Rules) != 1 || def.Rules[0].ErrorClass != "DISK_FULL" {
		t.Fatalf("unexpected rules %+v", def.Rules)
	}
	if def.Playbooks["DISK_FULL"].Action != models.ActionOpenIssue {
		t.Fatalf("unexpected playbook %+v", def.Playbooks["DISK_FULL"])
	}
}

func TestParsePackInjectsUnknownPlaybook(t *testing.T) {
	def, err := ParsePack([]byte(validPack))
	if err != nil {
		t.Fatalf("parse pack: %v", err)
	}
	unknown, ok := def.Playbooks[models.ErrorClassUnknown]
	if !ok {
		t.Fatalf("expected UNKNOWN playbook to be injected")
	}
	if unknown.Action != models.ActionHumanRequired {
		t.Fatalf("expected HUMAN_REQUIRED for UNKNOWN, got %s", unknown.Action)
	}
}

func TestParsePackRejectsInvalidPacks(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing version", `
rules:
  - error_class: A
    service: s
    patterns: [x]
    raw_confidence: 0.5
    tokens: [a]
playbooks:
  A: {action: OPEN_ISSUE}
`},
		{"no rules", `
version: v1
playbooks: {}
`},
		{"reserved class", `
version: v1
rules:
  - error_class: UNKNOWN
    service: s
    patterns: [x]
    raw_confidence: 0.5
    tokens: [a]
`},
		{"duplicate class", `
version: v1
rules:
  - {error_class: A, service: s, patterns: [x], raw_confidence: 0.5, tokens: [a]}
  - {error_class: A, service: s, patterns: [y], raw_confidence: 0.5, tokens: [a]}
playbooks:
  A: {action: OPEN_ISSUE}
`},
		{"confidence out of range", `
version: v1
rules:
  - {error_class: A, service: s, patterns: [x], raw_confidence: 1.5, tokens: [a]}
playbooks:
  A: {action: OPEN_ISSUE}
`},
		{"missing patterns", `
version: v1
rules:
  - {error_class: A, service: s, raw_confidence: 0.5, tokens: [a]}
playbooks:
  A: {action: OPEN_ISSUE}
`},
		{"missing tokens", `
version: v1
rules:
  - {error_class: A, service: s, patterns: [x], raw_confidence: 0.5}
playbooks:
  A: {action: OPEN_ISSUE}
`},
		{"rule without playbook", `
version: v1
rules:
  - {error_class: A, service: s, patterns: [x], raw_confidence: 0.5, tokens: [a]}
`},
		{"invalid action", `
version: v1
rules:
  - {error_class: A, service: s, patterns: [x], raw_confidence: 0.5, tokens: [a]}
playbooks:
  A: {action: ESCALATE}
`},
		{"unknown playbook wrong action", `
version: v1
rules:
  - {error_class: A, service: s, patterns: [x], raw_confidence: 0.5, tokens: [a]}
playbooks:
  A: {action: OPEN_ISSUE}
  UNKNOWN: {action: WAIT_AND_RETRY}
`},
	}

	for _, tc := range cases {
		if _, err := ParsePack([]byte(tc.yaml)); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestDefaultDefinitionIsValid(t *testing.T) {
	def := DefaultDefinition()
	if err := def.Validate(); err != nil {
		t.Fatalf("default pack invalid: %v", err)
	}
	if def.Rules[0].ErrorClass != "ACM_DNS_VALIDATION_PENDING" {
		t.Fatalf("expected ACM rule first, got %s", def.Rules[0].ErrorClass)
	}
	if def.Rules[0].RawConfidence != 0.90 {
		t.Fatalf("expected ACM raw confidence 0.90, got %v", def.Rules[0].RawConfidence)
	}
	if def.Playbooks["ACM_DNS_VALIDATION_PENDING"].Action != models.ActionWaitAndRetry {
		t.Fatalf("expected WAIT_AND_RETRY for ACM pending validation")
	}
}

func TestLoadPack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pack.yaml")
	if err := os.WriteFile(path, []byte(validPack), 0o600); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	def, err := LoadPack(path)
	if err != nil {
		t.Fatalf("load pack: %v", err)
	}
	if def.Version != "v9.9.9" {
		t.Fatalf("unexpected version %s", def.Version)
	}
}

func TestLoadPackEmptyPathUsesDefaults(t *testing.T) {
	def, err := LoadPack("")
	if err != nil {
		t.Fatalf("load pack: %v", err)
	}
	if len(def.Rules) == 0 {
		t.Fatalf("expected built-in rules")
	}
}

func TestLoadPackMissingFile(t *testing.T) {
	_, err := LoadPack(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read policy pack") {
		t.Fatalf("expected read error, got %v", err)
	}
}
