package tablekeep

import (
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/tablekeep/tablekeep/proc"
	"github.com/tablekeep/tablekeep/table"
)

// Restart intensity defaults: more than DefaultMaxRestarts worker crashes
// inside DefaultRestartWindow is treated as a crash loop and is fatal to the
// whole supervised unit.
const (
	DefaultMaxRestarts   = 10
	DefaultRestartWindow = 10 * time.Second
)

// keepers maps live table names to their keepers. An entry is removed when
// its keeper stops or fails, freeing the name for a fresh Start.
var keepers = xsync.NewMap[string, *Keeper]()

// Keeper supervises the owner/heir pair of one table. It restarts only the
// failed worker after any single crash (one-for-one) and drives the
// re-nomination protocol until the pair is whole again. A crash rate beyond
// the configured restart intensity, or the loss of both workers inside one
// recovery window, is fatal: the table is destroyed and the keeper stops.
type Keeper struct {
	name    string
	l       log15.Logger
	clk     clock.PassiveClock
	metrics Metrics

	maxRestarts   int
	restartWindow time.Duration

	tbl *table.Table

	stateLock sync.Mutex
	state     keeperState
	err       error

	pairLock sync.Mutex
	ownerW   *worker
	heirW    *worker

	promotedC chan promotion
	stopOnce  sync.Once
	stopC     chan struct{}
	doneC     chan struct{}

	restarts []time.Time

	// test seam: runs after a crash has been observed and counted, before
	// the replacement worker is nominated.
	testHookPreNominate func()
}

// Start creates the named table, starts its owner/heir pair, and begins
// crash monitoring. It fails with ErrNameTaken if a live table already holds
// the name, and with ErrInvalidOptions, before any resource is created, if
// the configuration is malformed.
func Start(name string, tableOpts table.Options, opts ...Option) (*Keeper, error) {
	return startKeeper(clock.RealClock{}, name, tableOpts, opts...)
}

func startKeeper(clk clock.PassiveClock, name string, tableOpts table.Options, opts ...Option) (*Keeper, error) {
	noopLogger := log15.New()
	noopLogger.SetHandler(log15.DiscardHandler())

	k := &Keeper{
		name:          name,
		l:             noopLogger,
		clk:           clk,
		metrics:       nopMetrics{},
		maxRestarts:   DefaultMaxRestarts,
		restartWindow: DefaultRestartWindow,
		state:         keeperStateSupervising,
		promotedC:     make(chan promotion, 4),
		stopC:         make(chan struct{}),
		doneC:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.maxRestarts < 0 || k.restartWindow <= 0 {
		return nil, errors.Wrapf(ErrInvalidOptions, "restart intensity %d per %s", k.maxRestarts, k.restartWindow)
	}

	if tableOpts.Logger == nil {
		tableOpts.Logger = k.l
	}
	tbl, err := table.New(name, tableOpts)
	if err != nil {
		return nil, err
	}
	k.tbl = tbl
	k.l = k.l.New("table", name)
	keepers.Store(name, k)

	// The heir exists before the owner activates so the owner can register
	// it on the table as part of assuming ownership.
	heir := newWorker(tbl, k.l, k.promotedC)
	owner := newWorker(tbl, k.l, k.promotedC)
	heir.assign(roleHeir, owner)
	owner.assign(roleOwner, heir)
	k.ownerW, k.heirW = owner, heir
	k.l.Info("started owner/heir pair", "owner", owner.id(), "heir", heir.id())

	go k.supervise()
	return k, nil
}

// Name returns the name of the supervised table.
func (k *Keeper) Name() string { return k.name }

// Table returns the supervised table.
func (k *Keeper) Table() *table.Table { return k.tbl }

// OwnerID returns the identity of the table's current owner, zero once the
// table is gone.
func (k *Keeper) OwnerID() proc.ID { return k.tbl.Owner() }

// HeirID returns the identity of the table's current heir, zero while a
// recovery is in flight or once the table is gone.
func (k *Keeper) HeirID() proc.ID { return k.tbl.Heir() }

// Done returns a channel closed when the keeper has stopped, deliberately or
// fatally. Err distinguishes the two.
func (k *Keeper) Done() <-chan struct{} { return k.doneC }

// Err returns the keeper's terminal error: nil after a deliberate Stop,
// ErrCrashLoop or ErrTableLost after a fatal failure. It returns nil while
// the keeper is still running.
func (k *Keeper) Err() error {
	k.stateLock.Lock()
	defer k.stateLock.Unlock()
	return k.err
}

// Stop tears the supervised unit down: both workers are stopped, which
// destroys the table, and the name is released. Stop blocks until teardown
// completes and is idempotent.
func (k *Keeper) Stop() {
	k.stopOnce.Do(func() { close(k.stopC) })
	<-k.doneC
}

// supervise is the keeper's steady-state loop. Crash detection is push
// based: the loop blocks on the termination events of the current pair and
// on the table's own destruction.
func (k *Keeper) supervise() {
	for {
		k.pairLock.Lock()
		owner, heir := k.ownerW, k.heirW
		k.pairLock.Unlock()

		select {
		case <-k.stopC:
			k.teardown()
			return
		case <-k.tbl.Destroyed():
			k.fail(ErrTableLost)
			return
		case exit := <-owner.exitC:
			if k.recoverOwner(exit) {
				return
			}
		case exit := <-heir.exitC:
			if k.recoverHeir(owner, exit) {
				return
			}
		}
	}
}

// recoverOwner handles an owner termination. The table has already been
// re-pointed at the heir by the time the heir's promotion notice arrives;
// the keeper's part is to start a fresh worker and have the promoted owner
// nominate it as the new heir. Returns true if the keeper is finished.
func (k *Keeper) recoverOwner(exit proc.Exit) bool {
	k.l.Info("owner terminated", "owner", exit.ID, "reason", exit.Reason)
	k.metrics.WorkerCrash(string(roleOwner))
	k.mustTransitionTo(keeperStateRecovering)
	if k.tooManyRestarts() {
		k.fail(ErrCrashLoop)
		return true
	}
	if k.testHookPreNominate != nil {
		k.testHookPreNominate()
	}

	select {
	case <-k.stopC:
		// the next loop iteration turns this into a teardown
		return false
	case <-k.tbl.Destroyed():
		// The heir was already dead when the owner terminated: both halves
		// of the pair were lost inside a single recovery window and the
		// table went with them.
		k.fail(ErrTableLost)
		return true
	case pr := <-k.promotedC:
		k.metrics.Promotion()
		fresh := newWorker(k.tbl, k.l, k.promotedC)
		fresh.assign(roleHeir, pr.w)

		k.pairLock.Lock()
		k.ownerW = pr.w
		k.heirW = fresh
		k.pairLock.Unlock()

		// Terminal step of the protocol: the owner re-points the table's
		// heir attribute at the replacement.
		pr.w.update(fresh)

		k.l.Info("pair re-established after owner crash", "owner", pr.w.id(), "heir", fresh.id())
		k.mustTransitionTo(keeperStateSupervising)
		return false
	}
}

// recoverHeir handles an heir termination. The owner and the table are
// untouched; a fresh worker is started and the owner nominates it. Returns
// true if the keeper is finished.
func (k *Keeper) recoverHeir(owner *worker, exit proc.Exit) bool {
	k.l.Info("heir terminated", "heir", exit.ID, "reason", exit.Reason)
	k.metrics.WorkerCrash(string(roleHeir))
	k.mustTransitionTo(keeperStateRecovering)
	if k.tooManyRestarts() {
		k.fail(ErrCrashLoop)
		return true
	}
	if k.testHookPreNominate != nil {
		k.testHookPreNominate()
	}

	fresh := newWorker(k.tbl, k.l, k.promotedC)
	fresh.assign(roleHeir, owner)

	k.pairLock.Lock()
	k.heirW = fresh
	k.pairLock.Unlock()

	owner.update(fresh)

	k.l.Info("pair re-established after heir crash", "owner", owner.id(), "heir", fresh.id())
	k.mustTransitionTo(keeperStateSupervising)
	return false
}

// tooManyRestarts records a crash and reports whether the crash rate now
// exceeds the configured restart intensity.
func (k *Keeper) tooManyRestarts() bool {
	now := k.clk.Now()
	cutoff := now.Add(-k.restartWindow)
	recent := k.restarts[:0]
	for _, ts := range k.restarts {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	k.restarts = append(recent, now)
	return len(k.restarts) > k.maxRestarts
}

// teardown is the deliberate Stop path. The table is destroyed first so the
// worker stops that follow cannot be mistaken for crashes and cannot trigger
// inheritance.
func (k *Keeper) teardown() {
	k.mustTransitionTo(keeperStateDraining)
	k.l.Info("stopping keeper")
	k.tbl.Destroy()

	k.pairLock.Lock()
	pair := []*worker{k.ownerW, k.heirW}
	k.pairLock.Unlock()

	var g errgroup.Group
	for _, w := range pair {
		g.Go(func() error {
			w.p.Kill(nil)
			<-w.p.Done()
			return nil
		})
	}
	_ = g.Wait()

	keepers.Delete(k.name)
	k.mustTransitionTo(keeperStateStopped)
	k.finish(nil)
}

// fail is the unrecoverable path: crash loop or double crash. The table and
// both workers are torn down and the terminal error recorded.
func (k *Keeper) fail(reason error) {
	k.mustTransitionTo(keeperStateFailed)
	k.l.Error("keeper failed, table is lost", "err", reason)
	if errors.Is(reason, ErrCrashLoop) {
		k.metrics.CrashLoop()
	} else {
		k.metrics.TableLost()
	}
	k.tbl.Destroy()

	k.pairLock.Lock()
	pair := []*worker{k.ownerW, k.heirW}
	k.pairLock.Unlock()
	for _, w := range pair {
		w.p.Kill(reason)
	}

	keepers.Delete(k.name)
	k.finish(reason)
}

func (k *Keeper) finish(err error) {
	k.stateLock.Lock()
	k.err = err
	k.stateLock.Unlock()
	close(k.doneC)
}

func (k *Keeper) currentState() keeperState {
	k.stateLock.Lock()
	defer k.stateLock.Unlock()
	return k.state
}

func (k *Keeper) mustTransitionTo(state keeperState) {
	k.stateLock.Lock()
	defer k.stateLock.Unlock()
	if err := k.state.transitionTo(state); err != nil {
		panic(errors.Wrapf(err, "BUG: keeper %q", k.name))
	}
}
