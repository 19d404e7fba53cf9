// Package runlock keeps two pipeline runs from loading into the same
// destination at once.
//
// Guard covers runs inside one process (the scheduler firing while a manual
// run is still going). File covers separate processes sharing a host, which is
// what a sqlite destination needs; server backends use their own session
// locks through storage.Locker.
package runlock

import (
	"errors"

	"golang.org/x/sync/semaphore"
)

// ErrLocked is returned when the lock is already held.
var ErrLocked = errors.New("runlock: another run holds the lock")

// Guard is an in-process, non-blocking mutual exclusion lock.
type Guard struct {
	sem *semaphore.Weighted
}

// NewGuard returns an unlocked Guard.
func NewGuard() *Guard { return &Guard{sem: semaphore.NewWeighted(1)} }

// TryAcquire takes the guard or returns ErrLocked. The returned release func
// is safe to call more than once.
func (g *Guard) TryAcquire() (release func(), err error) {
	if !g.sem.TryAcquire(1) {
		return nil, ErrLocked
	}
	released := false
	return func() {
		if !released {
			released = true
			g.sem.Release(1)
		}
	}, nil
}
