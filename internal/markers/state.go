package markers

import (
	"fmt"

	"narcomap.org/internal/auth"
)

// transitions is the single source of truth for the moderation workflow.
// Rejected and resolved are terminal.
var transitions = map[Status]map[Action]Status{
	StatusNew: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
	},
	StatusApproved: {
		ActionResolve: StatusResolved,
	},
}

// actionRole is the minimum role per moderation verb. Admin passes every
// check through Role.AtLeast.
var actionRole = map[Action]auth.Role{
	ActionApprove: auth.RoleModerator,
	ActionReject:  auth.RoleModerator,
	ActionResolve: auth.RolePolice,
}

// NextStatus resolves the status an action leads to from the current one.
// Both store implementations consult it inside their critical section so a
// transition and its audit entry commit against a consistent view.
func NextStatus(current Status, action Action) (Status, error) {
	next, ok := transitions[current][action]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s marker", ErrInvalidTransition, action, current)
	}
	return next, nil
}

// RequiredRole returns the minimum role allowed to perform the action.
func RequiredRole(action Action) (auth.Role, error) {
	role, ok := actionRole[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	return role, nil
}
