package table

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/tablekeep/tablekeep/proc"
)

var nameSeq atomic.Uint64

// testName returns a table name unique across the whole test binary; the
// registry is process-wide.
func testName(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), nameSeq.Add(1))
}

func blocked() *proc.P {
	return proc.Spawn(func(self *proc.P) error {
		return <-self.Killed()
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestCreateAndLookup(t *testing.T) {
	name := testName(t)
	tbl, err := New(name, Options{})
	require.NoError(t, err)
	require.Equal(t, name, tbl.Name())

	got, ok := Lookup(name)
	require.True(t, ok)
	require.Same(t, tbl, got)

	tbl.Destroy()
	_, ok = Lookup(name)
	require.False(t, ok)
}

func TestNameTaken(t *testing.T) {
	name := testName(t)
	tbl, err := New(name, Options{})
	require.NoError(t, err)

	_, err = New(name, Options{})
	require.ErrorIs(t, err, ErrNameTaken)

	// destroying frees the name for reuse
	tbl.Destroy()
	again, err := New(name, Options{})
	require.NoError(t, err)
	again.Destroy()
}

func TestInvalidOptions(t *testing.T) {
	_, err := New("", Options{})
	require.ErrorIs(t, err, ErrInvalidOptions)

	name := testName(t)
	_, err = New(name, Options{InitialCapacity: -1})
	require.ErrorIs(t, err, ErrInvalidOptions)

	// a failed create must not occupy the name
	tbl, err := New(name, Options{InitialCapacity: 64})
	require.NoError(t, err)
	tbl.Destroy()
}

func TestContents(t *testing.T) {
	tbl, err := New(testName(t), Options{})
	require.NoError(t, err)
	defer tbl.Destroy()

	tbl.Set("k", 42)
	v, ok := tbl.Get("k")
	require.True(t, ok)
	require.Equal(t, 42, v)
	require.Equal(t, 1, tbl.Len())

	tbl.Delete("k")
	_, ok = tbl.Get("k")
	require.False(t, ok)
	require.Equal(t, 0, tbl.Len())
}

func TestInheritance(t *testing.T) {
	tbl, err := New(testName(t), Options{})
	require.NoError(t, err)
	defer tbl.Destroy()

	owner, heir := blocked(), blocked()
	defer heir.Kill(nil)
	notify := make(chan Transfer, 1)

	require.NoError(t, tbl.SetOwner(owner))
	require.NoError(t, tbl.SetHeir(heir, notify))
	require.Equal(t, owner.ID(), tbl.Owner())
	require.Equal(t, heir.ID(), tbl.Heir())

	tbl.Set("payload", "survives")
	owner.Kill(errors.New("induced crash"))

	select {
	case tr := <-notify:
		require.Same(t, tbl, tr.Table)
		require.Equal(t, owner.ID(), tr.From)
	case <-time.After(5 * time.Second):
		t.Fatal("transfer notification not delivered")
	}

	require.Equal(t, heir.ID(), tbl.Owner())
	// the heir slot stays empty until re-nomination
	require.Zero(t, tbl.Heir())

	v, ok := tbl.Get("payload")
	require.True(t, ok)
	require.Equal(t, "survives", v)
}

func TestOwnerDeathWithoutHeir(t *testing.T) {
	name := testName(t)
	tbl, err := New(name, Options{})
	require.NoError(t, err)

	owner := blocked()
	require.NoError(t, tbl.SetOwner(owner))
	owner.Kill(errors.New("induced crash"))

	select {
	case <-tbl.Destroyed():
	case <-time.After(5 * time.Second):
		t.Fatal("table not destroyed after owner death without heir")
	}
	require.Zero(t, tbl.Owner())
	_, ok := Lookup(name)
	require.False(t, ok)
}

func TestOwnerDeathWithDeadHeir(t *testing.T) {
	tbl, err := New(testName(t), Options{})
	require.NoError(t, err)

	owner, heir := blocked(), blocked()
	notify := make(chan Transfer, 1)
	require.NoError(t, tbl.SetOwner(owner))
	require.NoError(t, tbl.SetHeir(heir, notify))

	// heir dies first and nobody re-nominates: the next owner death is a
	// double crash and the table goes down with it
	heir.Kill(errors.New("induced crash"))
	<-heir.Done()
	owner.Kill(errors.New("induced crash"))

	select {
	case <-tbl.Destroyed():
	case <-time.After(5 * time.Second):
		t.Fatal("table not destroyed after double crash")
	}
	require.Empty(t, tbl.Len())
}

func TestMutationsAfterDestroy(t *testing.T) {
	tbl, err := New(testName(t), Options{})
	require.NoError(t, err)
	tbl.Destroy()
	tbl.Destroy() // idempotent

	p := blocked()
	defer p.Kill(nil)
	require.ErrorIs(t, tbl.SetOwner(p), ErrDestroyed)
	require.ErrorIs(t, tbl.SetHeir(p, make(chan Transfer, 1)), ErrDestroyed)
	require.Zero(t, tbl.Owner())
	require.Zero(t, tbl.Heir())
}

func TestStaleOwnerWatchIgnored(t *testing.T) {
	tbl, err := New(testName(t), Options{})
	require.NoError(t, err)
	defer tbl.Destroy()

	first, second := blocked(), blocked()
	defer second.Kill(nil)
	require.NoError(t, tbl.SetOwner(first))
	// ownership is re-assigned before the first owner dies; its watch is a
	// stale generation and must not disturb the new owner
	require.NoError(t, tbl.SetOwner(second))
	first.Kill(errors.New("induced crash"))
	<-first.Done()

	waitFor(t, func() bool { return tbl.Owner() == second.ID() }, "owner to remain the second process")
	select {
	case <-tbl.Destroyed():
		t.Fatal("stale owner watch destroyed the table")
	case <-time.After(50 * time.Millisecond):
	}
}
