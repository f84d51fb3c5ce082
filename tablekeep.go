package tablekeep

import (
	"github.com/tablekeep/tablekeep/proc"
	"github.com/tablekeep/tablekeep/table"
)

// Owner returns the identity of the worker currently owning the named
// table. ok is false if no such table is alive: never started, stopped, or
// lost to a double crash.
func Owner(name string) (proc.ID, bool) {
	t, ok := table.Lookup(name)
	if !ok {
		return 0, false
	}
	id := t.Owner()
	return id, id != 0
}

// Heir returns the identity of the worker registered as the named table's
// heir. ok is false if the table is not alive or no heir is currently
// registered (a recovery is in flight).
func Heir(name string) (proc.ID, bool) {
	t, ok := table.Lookup(name)
	if !ok {
		return 0, false
	}
	id := t.Heir()
	return id, id != 0
}

// Stop tears down the keeper supervising the named table, destroying the
// table and releasing the name. Stopping an unknown name is a no-op.
func Stop(name string) {
	if k, ok := keepers.Load(name); ok {
		k.Stop()
	}
}
