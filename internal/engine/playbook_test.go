package engine

import (
	"testing"

	"github.com/verdictstack/verdict-engine/internal/models"
)

func TestResolveActionFromSnapshot(t *testing.T) {
	action, err := ResolveAction("IAM_PERMISSION_DENIED", testSnapshot())
	if err != nil {
		t.Fatalf("resolve action: %v", err)
	}
	if action != models.ActionOpenIssue {
		t.Fatalf("expected OPEN_ISSUE, got %s", action)
	}
}

func TestResolveActionUnknownAlwaysHumanRequired(t *testing.T) {
	// Even a snapshot that mislabels UNKNOWN cannot override the floor.
	snapshot := testSnapshot()
	snapshot.Playbooks[models.ErrorClassUnknown] = models.Playbook{Action: models.ActionWaitAndRetry}

	action, err := ResolveAction(models.ErrorClassUnknown, snapshot)
	if err != nil {
		t.Fatalf("resolve action: %v", err)
	}
	if action != models.ActionHumanRequired {
		t.Fatalf("expected HUMAN_REQUIRED for UNKNOWN, got %s", action)
	}
}

func TestResolveActionMissingPlaybook(t *testing.T) {
	if _, err := ResolveAction("NO_SUCH_CLASS", testSnapshot()); err == nil {
		t.Fatalf("expected error for missing playbook")
	}
}
