package tablekeep

import "fmt"

// keeperState represents the keeper's lifecycle as a small finite state
// machine with the following transitions:
// ∅          → Supervising
// Supervising → Recovering
// Recovering  → Supervising
// Supervising → Draining
// Recovering  → Draining
// Supervising → Failed
// Recovering  → Failed
// Draining    → Stopped
//
// The meaning of each state is described above the state's definition below.
type keeperState string

const (
	// Supervising is the steady state: both workers are alive and wired to
	// the table, and the keeper is waiting on termination events.
	keeperStateSupervising keeperState = "supervising"
	// Recovering is entered after a single worker termination, while the
	// keeper restarts the failed side and drives re-nomination.
	keeperStateRecovering = "recovering"
	// Draining is entered by Stop: workers are being torn down on purpose.
	keeperStateDraining = "draining"
	// Stopped is the terminal state of a deliberate Stop.
	keeperStateStopped = "stopped"
	// Failed is the terminal state of an unrecoverable loss: a crash loop or
	// a double crash that destroyed the table.
	keeperStateFailed = "failed"
)

var validKeeperTransitions = map[keeperState][]keeperState{
	keeperStateSupervising: {
		keeperStateRecovering,
		keeperStateDraining,
		keeperStateFailed,
	},
	keeperStateRecovering: {
		keeperStateSupervising,
		keeperStateDraining,
		keeperStateFailed,
	},
	keeperStateDraining: {
		keeperStateStopped,
	},
	keeperStateStopped: {},
	keeperStateFailed:  {},
}

func (s *keeperState) canTransitionTo(state keeperState) error {
	for _, target := range validKeeperTransitions[*s] {
		if target == state {
			return nil
		}
	}
	return fmt.Errorf("unable to transition from %s to %s", *s, state)
}

func (s *keeperState) transitionTo(state keeperState) error {
	if err := s.canTransitionTo(state); err != nil {
		return err
	}
	*s = state
	return nil
}
