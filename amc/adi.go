package amc

import (
	"github.com/codyd51/axle-sub002/defs"
	"github.com/codyd51/axle-sub002/irq"
	"github.com/codyd51/axle-sub002/sched"
)

// irqTable is the single ADI vector-registration table. It is a
// package-level variable shared by every Channel, not a Channel field
// like the services directory and pending pool; like them, it is
// something a user-space driver task talks to exclusively through
// blocking/waking via the scheduler (spec.md ยง6, "Kernel <-> Driver
// tasks").
var irqTable = irq.NewTable()

// RegisterDriver binds the named service to vector, the Go counterpart
// of the upstream libamc's adi_register_driver. Only a registered AMC
// service may claim a vector.
func (c *Channel) RegisterDriver(name string, vector irq.Vector) defs.Err_t {
	c.mu.Lock()
	_, ok := c.lookup(name)
	c.mu.Unlock()
	if !ok {
		return defs.UnknownService
	}
	irqTable.Register(vector, name)
	return 0
}

// EventAwait is the blocking half of the ADI: if vector already has a
// pending (undrained) interrupt it returns immediately, otherwise the
// caller must block the task on AwaitInterrupt and retry once
// Scheduler.Unblock fires. It mirrors await's split between TryAwait
// and the caller-driven block loop.
func (c *Channel) EventAwait(vector irq.Vector) (fired int, ready bool) {
	n := irqTable.Drain(vector)
	if n == 0 {
		return 0, false
	}
	return n, true
}

// FireInterrupt is called from the kernel's IRQ dispatch stub when
// vector fires; it records the interrupt and wakes whichever task (if
// any) is parked in EventAwait for it.
func (c *Channel) FireInterrupt(s *sched.Scheduler, vector irq.Vector) {
	irqTable.Fire(vector)
	owner, ok := irqTable.Owner(vector)
	if !ok {
		return
	}
	c.mu.Lock()
	svc, ok := c.lookup(owner)
	c.mu.Unlock()
	if ok {
		s.Unblock(svc.TaskID, sched.AwaitInterrupt)
	}
}

// SendEOI acknowledges vector, matching adi_send_eoi: real hardware
// needs this to re-arm the line, but the table itself has nothing
// further to track once the pending count is drained, so this is a
// no-op kept as a named call site for symmetry with the register/await
// pair and for a future interrupt controller to hook into.
func (c *Channel) SendEOI(vector irq.Vector) {}
