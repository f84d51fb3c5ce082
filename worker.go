package tablekeep

import (
	"sync"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/tablekeep/tablekeep/proc"
	"github.com/tablekeep/tablekeep/table"
)

// assignment gives a freshly spawned worker its starting role. peer is the
// current heir when the role is Owner, and is ignored for heirs.
type assignment struct {
	role workerRole
	peer *worker
}

// roleUpdate tells a worker its peer has been replaced. Owners react by
// re-pointing the table's heir attribute at the new peer; heirs ignore it.
type roleUpdate struct {
	peer *worker
}

// promotion is sent to the keeper by an heir that has just inherited the
// table, so a fresh heir can be nominated.
type promotion struct {
	w    *worker
	from proc.ID
}

// worker is one half of the owner/heir pair. Its entire behavior is the
// role state machine in worker_fsm.go: enter a role, then block on role
// updates, the ownership-transfer notification, or termination.
type worker struct {
	tbl *table.Table
	l   log15.Logger

	roleLock sync.Mutex
	role     workerRole

	p         *proc.P
	exitC     <-chan proc.Exit
	assignC   chan assignment
	updates   chan roleUpdate
	transferC chan table.Transfer
	promotedC chan<- promotion
}

func newWorker(tbl *table.Table, l log15.Logger, promotedC chan<- promotion) *worker {
	w := &worker{
		tbl:       tbl,
		l:         l,
		role:      roleStarting,
		assignC:   make(chan assignment, 1),
		updates:   make(chan roleUpdate, 4),
		transferC: make(chan table.Transfer, 1),
		promotedC: promotedC,
	}
	w.p = proc.Spawn(w.run)
	w.exitC = w.p.Monitor()
	return w
}

func (w *worker) id() proc.ID { return w.p.ID() }

// assign delivers the worker's starting role. Called exactly once, before
// the worker is exposed to any other event source.
func (w *worker) assign(role workerRole, peer *worker) {
	w.assignC <- assignment{role: role, peer: peer}
}

// update notifies the worker of a replaced peer. Delivery is abandoned if
// the worker terminates first; the keeper observes that termination through
// its own monitor and recovers from there.
func (w *worker) update(peer *worker) {
	select {
	case w.updates <- roleUpdate{peer: peer}:
	case <-w.p.Done():
	}
}

func (w *worker) currentRole() workerRole {
	w.roleLock.Lock()
	defer w.roleLock.Unlock()
	return w.role
}

func (w *worker) setRole(role workerRole) error {
	w.roleLock.Lock()
	defer w.roleLock.Unlock()
	return w.role.transitionTo(role)
}

func (w *worker) run(self *proc.P) error {
	l := w.l.New("worker", self.ID())

	var a assignment
	select {
	case a = <-w.assignC:
	case reason := <-self.Killed():
		_ = w.setRole(roleTerminated)
		return reason
	}
	if err := w.enter(self, l, a); err != nil {
		return err
	}

	for {
		select {
		case reason := <-self.Killed():
			_ = w.setRole(roleTerminated)
			return reason
		case up := <-w.updates:
			if w.currentRole() != roleOwner {
				// a replaced peer changes nothing for an heir
				continue
			}
			if err := w.tbl.SetHeir(up.peer.p, up.peer.transferC); err != nil {
				return errors.Wrap(err, "registering new heir")
			}
			l.Info("registered new heir", "heir", up.peer.id())
		case tr := <-w.transferC:
			// The runtime has already re-pointed the table at us; the role
			// flips in place, no restart. The keeper is told so it can
			// nominate a fresh heir.
			if err := w.setRole(roleOwner); err != nil {
				return errors.Wrap(err, "accepting inherited table")
			}
			l.Info("inherited table ownership", "table", tr.Table.Name(), "from", tr.From)
			select {
			case w.promotedC <- promotion{w: w, from: tr.From}:
			case reason := <-self.Killed():
				_ = w.setRole(roleTerminated)
				return reason
			}
		}
	}
}

// enter performs the side effects of activating in a role. Owners assume
// table ownership and register the current heir; heirs have no side effect
// beyond existing.
func (w *worker) enter(self *proc.P, l log15.Logger, a assignment) error {
	if err := w.setRole(a.role); err != nil {
		return err
	}
	switch a.role {
	case roleOwner:
		if err := w.tbl.SetOwner(self); err != nil {
			return errors.Wrap(err, "assuming table ownership")
		}
		if err := w.tbl.SetHeir(a.peer.p, a.peer.transferC); err != nil {
			return errors.Wrap(err, "registering initial heir")
		}
		l.Info("assumed table ownership", "table", w.tbl.Name(), "heir", a.peer.id())
	case roleHeir:
		l.Debug("standing by as heir", "table", w.tbl.Name())
	}
	return nil
}
