package tablekeep

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/tablekeep/tablekeep/proc"
)

var l = log15.New()

var errInduced = errors.New("induced crash")

var nameSeq atomic.Uint64

// uniqueName returns a table name unique across the whole test binary; the
// name registry is process-wide.
func uniqueName(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), nameSeq.Add(1))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// pair returns the keeper's current owner and heir workers.
func pair(k *Keeper) (owner, heir *worker) {
	k.pairLock.Lock()
	defer k.pairLock.Unlock()
	return k.ownerW, k.heirW
}

func crashOwner(k *Keeper) {
	owner, _ := pair(k)
	owner.p.Kill(errInduced)
}

func crashHeir(k *Keeper) {
	_, heir := pair(k)
	heir.p.Kill(errInduced)
}

// waitStable waits until the named table has a defined, distinct owner/heir
// pair and returns it.
func waitStable(t *testing.T, name string) (owner, heir proc.ID) {
	t.Helper()
	waitFor(t, func() bool {
		o, ok1 := Owner(name)
		h, ok2 := Heir(name)
		if !ok1 || !ok2 || o == h {
			return false
		}
		owner, heir = o, h
		return true
	}, "a stable owner/heir pair")
	return owner, heir
}
