package engine

import (
	"fmt"

	"github.com/verdictstack/verdict-engine/internal/models"
)

// ResolveAction looks up the single proposed action for an error class in
// the snapshot's captured playbooks. UNKNOWN always resolves to
// HUMAN_REQUIRED, whatever the snapshot says.
func ResolveAction(errorClass string, snapshot models.PolicySnapshot) (models.ProposedAction, error) {
	if errorClass == models.ErrorClassUnknown {
		return models.ActionHumanRequired, nil
	}
	playbook, ok := snapshot.Playbooks[errorClass]
	if !ok {
		return "", fmt.Errorf("snapshot %s has no playbook for error class %s", snapshot.ID, errorClass)
	}
	return playbook.Action, nil
}
