package tablekeep

import "fmt"

// workerRole is the per-worker state machine. It has the following
// transitions:
// ∅        → Starting
// Starting → Owner
// Starting → Heir
// Heir     → Owner
// Starting → Terminated
// Owner    → Terminated
// Heir     → Terminated
//
// The Heir → Owner transition is the in-place promotion an heir performs
// when the table's ownership-transfer notification arrives: the worker is
// not restarted, its role simply flips.
type workerRole string

const (
	// Starting is the initial state, before the keeper has assigned a role.
	roleStarting workerRole = "starting"
	// Owner holds live access rights to the table and is responsible for
	// re-pointing the heir attribute whenever the pair changes.
	roleOwner = "owner"
	// Heir exists as the table's backup; its only duty is to be alive and
	// accept ownership if it arrives.
	roleHeir = "heir"
	// Terminated is the terminal state, entered on stop or crash.
	roleTerminated = "terminated"
)

var validRoleTransitions = map[workerRole][]workerRole{
	roleStarting: {
		roleOwner,
		roleHeir,
		roleTerminated,
	},
	roleOwner: {
		roleTerminated,
	},
	roleHeir: {
		roleOwner,
		roleTerminated,
	},
	roleTerminated: {},
}

func (r *workerRole) canTransitionTo(role workerRole) error {
	for _, target := range validRoleTransitions[*r] {
		if target == role {
			return nil
		}
	}
	return fmt.Errorf("unable to transition from %s to %s", *r, role)
}

func (r *workerRole) transitionTo(role workerRole) error {
	if err := r.canTransitionTo(role); err != nil {
		return err
	}
	*r = role
	return nil
}
