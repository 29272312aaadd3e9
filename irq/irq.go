// Package irq tracks interrupt-vector registration and pending counts
// for the Asynchronous Driver Interface (ADI): the only sanctioned way
// a user-space driver task receives a hardware interrupt (spec.md
// ยง6, "Kernel <-> Driver tasks"). It is adapted from the teacher
// kernel's msi package, which allocates a small fixed set of MSI
// vectors from a shared pool; here the pool models the registration
// half of the ADI instead of MSI vector allocation, since axle's ADI
// binds a driver to a vector it already knows (from PCI config space,
// out of this core's scope) rather than requesting one from the
// kernel.
package irq

import "sync"

// Vector identifies a hardware interrupt line.
type Vector uint

// Table tracks, for every vector a driver has registered interest in,
// the owning service name and the number of interrupts that have
// fired since the last drain.
type Table struct {
	mu      sync.Mutex
	owners  map[Vector]string
	pending map[Vector]int
}

// NewTable returns an empty registration table.
func NewTable() *Table {
	return &Table{
		owners:  make(map[Vector]string),
		pending: make(map[Vector]int),
	}
}

// Register associates a vector with the owning service name. Re-registering
// the same vector from a different service replaces the owner, matching the
// kernel's trust that only one driver claims a given line.
func (t *Table) Register(vector Vector, service string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owners[vector] = service
	if _, ok := t.pending[vector]; !ok {
		t.pending[vector] = 0
	}
}

// Unregister removes a vector's registration, called when the owning
// task dies.
func (t *Table) Unregister(vector Vector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.owners, vector)
	delete(t.pending, vector)
}

// Owner returns the service name registered for vector, if any.
func (t *Table) Owner(vector Vector) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.owners[vector]
	return s, ok
}

// Fire records that vector fired once. Called from the kernel's IRQ
// dispatch stub; the caller is responsible for then unblocking any
// task parked in EventAwait for this vector.
func (t *Table) Fire(vector Vector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[vector]++
}

// Drain atomically reads and clears the pending count for vector.
func (t *Table) Drain(vector Vector) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.pending[vector]
	t.pending[vector] = 0
	return n
}

// Pending reports the pending count without clearing it.
func (t *Table) Pending(vector Vector) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending[vector]
}
