// Package lock provides the spinlock abstraction used by every core
// singleton (PFA, AMC global state, per-service inboxes). On real
// hardware a spinlock must disable interrupts for its holder so that
// the same CPU cannot re-enter the lock from an interrupt handler;
// Spinlock models that discipline explicitly instead of leaving it
// implicit in a bare sync.Mutex, the way the teacher's msi and
// hashtable packages do.
package lock

import "sync"

// Spinlock wraps a mutex with a name, carried purely for diagnostics:
// it appears in Lockassert's panic message.
type Spinlock struct {
	mu   sync.Mutex
	name string
	// held is true between Lock and Unlock; it exists only to let
	// Lockassert catch bugs under tests, not for correctness.
	held bool
}

// New returns a named spinlock.
func New(name string) *Spinlock {
	return &Spinlock{name: name}
}

// Name returns the lock's diagnostic name.
func (l *Spinlock) Name() string {
	return l.name
}

// Lock acquires the lock. On real hardware this also disables
// interrupts on the current CPU; that half of the contract has no
// meaning under `go test` and is therefore a no-op here, but the
// method exists so call sites read the same as they would in the
// kernel proper.
func (l *Spinlock) Lock() {
	l.mu.Lock()
	l.held = true
}

// Unlock releases the lock and restores the prior interrupt state.
func (l *Spinlock) Unlock() {
	l.held = false
	l.mu.Unlock()
}

// Lockassert panics if the lock is not currently held. It does not
// check which goroutine holds it. It is a cheap bug-finder, not a substitute for holding
// the lock correctly under real concurrency.
func (l *Spinlock) Lockassert() {
	if !l.held {
		panic("lock: " + l.name + " must be held")
	}
}
