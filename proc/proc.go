// Package proc is the process runtime tablekeep supervises on top of: small
// schedulable units of execution backed by goroutines, each with a unique
// identity, a kill signal, and push-based termination events delivered to any
// number of monitors.
//
// A process body receives its own handle and must return promptly once a kill
// reason arrives on Killed(). A panic inside a body is recovered and recorded
// as the crash reason rather than taking the whole program down; supervision
// of crashes is the caller's job.
package proc

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ID uniquely identifies a spawned process within this runtime instance.
// The zero ID never identifies a process.
type ID uint64

// An Exit describes the termination of a single process. It is delivered
// exactly once to every monitor of that process.
type Exit struct {
	ID     ID
	Reason error
}

// Crashed reports whether the exit was abnormal. A nil reason is a normal,
// intentional stop.
func (e Exit) Crashed() bool { return e.Reason != nil }

var lastID atomic.Uint64

// P is the handle of a spawned process.
type P struct {
	id ID

	killOnce sync.Once
	killC    chan error

	mu       sync.Mutex
	doneC    chan struct{}
	reason   error
	monitors []chan Exit
}

// Spawn starts fn on a new goroutine and returns its handle. The body is
// passed its own handle so it can select on Killed. The process terminates
// when fn returns; a non-nil return value or a recovered panic marks the
// termination as a crash.
func Spawn(fn func(self *P) error) *P {
	p := &P{
		id:    ID(lastID.Add(1)),
		killC: make(chan error, 1),
		doneC: make(chan struct{}),
	}
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("process panic: %v", r)
			}
			p.terminate(err)
		}()
		err = fn(p)
	}()
	return p
}

// ID returns the process identity.
func (p *P) ID() ID { return p.id }

// Killed returns the channel the kill reason is delivered on. Process bodies
// select on it and return the received reason.
func (p *P) Killed() <-chan error { return p.killC }

// Kill requests termination with the given reason and returns without
// waiting. A nil reason requests a normal stop. Only the first Kill has any
// effect; killing an already-terminated process is a no-op.
func (p *P) Kill(reason error) {
	p.killOnce.Do(func() { p.killC <- reason })
}

// Monitor registers interest in the process's termination. The returned
// channel delivers exactly one Exit; if the process has already terminated
// the Exit is available immediately. Monitoring never blocks termination.
func (p *P) Monitor() <-chan Exit {
	c := make(chan Exit, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.doneC:
		c <- Exit{ID: p.id, Reason: p.reason}
	default:
		p.monitors = append(p.monitors, c)
	}
	return c
}

// Done is closed once the process has terminated.
func (p *P) Done() <-chan struct{} { return p.doneC }

// Alive reports whether the process has not yet terminated.
func (p *P) Alive() bool {
	select {
	case <-p.doneC:
		return false
	default:
		return true
	}
}

// Err returns the termination reason. It is nil before termination and nil
// after a normal exit.
func (p *P) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.doneC:
		return p.reason
	default:
		return nil
	}
}

func (p *P) terminate(reason error) {
	p.mu.Lock()
	p.reason = reason
	monitors := p.monitors
	p.monitors = nil
	close(p.doneC)
	p.mu.Unlock()

	exit := Exit{ID: p.id, Reason: reason}
	for _, c := range monitors {
		c <- exit
	}
}
