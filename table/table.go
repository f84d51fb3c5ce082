// Package table implements the named in-memory tables that tablekeep keeps
// alive. A table carries two process attributes, an owner and an heir, and
// one guarantee: if the owner terminates while a live heir is attached, the
// table re-points itself at the heir and delivers a Transfer notification to
// it exactly once. If the owner terminates with no live heir, the table and
// its contents are destroyed.
//
// Table names are unique process-wide; creation is atomic create-if-absent.
package table

import (
	"sync"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/tablekeep/tablekeep/proc"
)

var (
	// ErrNameTaken is returned by New when a live table already holds the
	// requested name.
	ErrNameTaken = errors.New("table name already taken")

	// ErrInvalidOptions is returned by New for malformed options, before any
	// resource is created.
	ErrInvalidOptions = errors.New("invalid table options")

	// ErrDestroyed is returned by attribute mutations on a destroyed table.
	ErrDestroyed = errors.New("table destroyed")
)

// registry maps live table names to tables. A destroyed table removes itself,
// freeing the name for reuse.
var registry = xsync.NewMap[string, *Table]()

// Options configures a table at creation time.
type Options struct {
	// InitialCapacity presizes the table's contents map. Zero means the
	// default size; negative values are invalid.
	InitialCapacity int

	// Logger receives ownership events. Nothing is logged by default.
	Logger log15.Logger
}

func (o Options) validate() error {
	if o.InitialCapacity < 0 {
		return errors.Wrapf(ErrInvalidOptions, "negative initial capacity %d", o.InitialCapacity)
	}
	return nil
}

// A Transfer is the ownership-transfer notification delivered to an heir
// when it inherits a table.
type Transfer struct {
	Table *Table
	From  proc.ID
}

// Table is a named mutable container shared between arbitrary readers and
// writers, plus the owner/heir attributes tablekeep's protocol revolves
// around. Attribute assignment is atomic; contents access is lock-free.
type Table struct {
	name string
	l    log15.Logger

	data *xsync.Map[string, any]

	mu         sync.Mutex
	owner      *proc.P
	heir       *proc.P
	heirNotify chan<- Transfer
	destroyed  bool
	destroyC   chan struct{}
}

// New creates a table under the given name. It fails with ErrNameTaken if a
// live table already holds the name, and with ErrInvalidOptions before any
// resource is created if the options are malformed.
func New(name string, opts Options) (*Table, error) {
	if name == "" {
		return nil, errors.Wrap(ErrInvalidOptions, "empty table name")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	l := opts.Logger
	if l == nil {
		l = log15.New()
		l.SetHandler(log15.DiscardHandler())
	}

	var mapOpts []func(*xsync.MapConfig)
	if opts.InitialCapacity > 0 {
		mapOpts = append(mapOpts, xsync.WithPresize(opts.InitialCapacity))
	}
	t := &Table{
		name:     name,
		l:        l.New("table", name),
		data:     xsync.NewMap[string, any](mapOpts...),
		destroyC: make(chan struct{}),
	}
	if _, taken := registry.LoadOrStore(name, t); taken {
		return nil, errors.Wrapf(ErrNameTaken, "table %q", name)
	}
	return t, nil
}

// Lookup returns the live table registered under name, if any.
func Lookup(name string) (*Table, bool) {
	return registry.Load(name)
}

// Name returns the table's registered name.
func (t *Table) Name() string { return t.name }

// SetOwner atomically assigns the owning process and begins watching it for
// termination. Owner death triggers inheritance or destruction as described
// in the package comment.
func (t *Table) SetOwner(p *proc.P) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return errors.Wrapf(ErrDestroyed, "table %q", t.name)
	}
	t.owner = p
	t.mu.Unlock()

	t.watchOwner(p)
	return nil
}

// SetHeir atomically assigns the heir process and the channel its Transfer
// notification is delivered on. This is the re-nomination step: it is what
// re-establishes the table's backup after a crash.
func (t *Table) SetHeir(p *proc.P, notify chan<- Transfer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return errors.Wrapf(ErrDestroyed, "table %q", t.name)
	}
	t.heir = p
	t.heirNotify = notify
	return nil
}

// Owner returns the identity of the current owner, zero if the table has no
// owner or has been destroyed.
func (t *Table) Owner() proc.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed || t.owner == nil {
		return 0
	}
	return t.owner.ID()
}

// Heir returns the identity of the current heir, zero if none is registered.
func (t *Table) Heir() proc.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed || t.heir == nil {
		return 0
	}
	return t.heir.ID()
}

// Destroy tears the table down and frees its name. Destroying an already
// destroyed table is a no-op.
func (t *Table) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destroyLocked("explicit destroy")
}

// Destroyed returns a channel closed when the table has been destroyed,
// whether explicitly or because its owner died without a live heir.
func (t *Table) Destroyed() <-chan struct{} { return t.destroyC }

// watchOwner waits for p's termination and resolves inheritance. Each call
// covers exactly one owner generation; a stale generation (the table has
// since been re-pointed elsewhere) resolves to nothing.
func (t *Table) watchOwner(p *proc.P) {
	exitC := p.Monitor()
	go func() {
		exit := <-exitC
		t.ownerTerminated(p, exit)
	}()
}

func (t *Table) ownerTerminated(p *proc.P, exit proc.Exit) {
	t.mu.Lock()
	if t.destroyed || t.owner != p {
		t.mu.Unlock()
		return
	}
	heir := t.heir
	notify := t.heirNotify
	if heir == nil || !heir.Alive() {
		// No backup: the table dies with its owner. This is the DoubleCrash
		// window described in the tablekeep package documentation.
		t.destroyLocked("owner terminated with no live heir")
		t.mu.Unlock()
		return
	}

	// The heir inherits in place. The heir slot stays empty until the next
	// re-nomination re-points it.
	t.owner = heir
	t.heir = nil
	t.heirNotify = nil
	t.mu.Unlock()

	t.watchOwner(heir)
	t.l.Info("ownership transferred to heir", "from", exit.ID, "to", heir.ID(), "reason", exit.Reason)

	select {
	case notify <- Transfer{Table: t, From: exit.ID}:
	case <-heir.Done():
		// The heir died before accepting the table. Its own owner watch,
		// registered above, resolves the rest.
	}
}

// destroyLocked requires t.mu held.
func (t *Table) destroyLocked(why string) {
	if t.destroyed {
		return
	}
	t.destroyed = true
	t.owner = nil
	t.heir = nil
	t.heirNotify = nil
	t.data.Clear()
	registry.Delete(t.name)
	close(t.destroyC)
	t.l.Info("table destroyed", "why", why)
}

// Set stores a value under key. Safe for concurrent use by arbitrary
// consumers; contents access is independent of the ownership protocol.
func (t *Table) Set(key string, value any) {
	t.data.Store(key, value)
}

// Get returns the value stored under key.
func (t *Table) Get(key string) (any, bool) {
	return t.data.Load(key)
}

// Delete removes the value stored under key.
func (t *Table) Delete(key string) {
	t.data.Delete(key)
}

// Len returns the number of stored entries.
func (t *Table) Len() int {
	return t.data.Size()
}
