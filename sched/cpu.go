package sched

// TSS models the one register of the real Task State Segment the core
// ever touches: rsp0, the stack pointer the CPU loads on a ring3→ring0
// transition. Every other TSS field is out of scope (owned by the
// GDT/TSS setup code, per spec.md's Non-goals).
type TSS struct {
	RSP0 uint64
}

// CPU is one SMP core's scheduling state: the task it is currently
// running and the TSS it must keep pointed at that task's kernel
// stack, so a trap taken while running ring-3 code lands on the right
// stack (spec.md ยง4.D).
type CPU struct {
	ID      int
	Current *Task
	TSS     TSS
}

// InstallKernelStack points the CPU's TSS rsp0 at the top of task's
// kernel stack. Called whenever a new task becomes Current.
func (c *CPU) InstallKernelStack(t *Task) {
	c.TSS.RSP0 = uint64(t.KernelStackBase) + uint64(t.KernelStackSize)
}

// Switch performs the context switch spec.md ยง4.D describes: it
// records prev's register frame (already up to date - the caller is
// the trap handler that just saved it), loads next's kernel stack into
// the TSS, and marks next Current. There is no real hardware here to
// restore registers into, so the "restore" half of the contract is the
// caller's responsibility once Switch returns next's RegisterFrame;
// this function owns exactly the bookkeeping a from-scratch port would
// hand to an assembly trampoline.
func Switch(c *CPU, prev *Task, next *Task) RegisterFrame {
	if prev != nil {
		prev.CPU = -1
	}
	next.CPU = c.ID
	c.Current = next
	c.InstallKernelStack(next)
	return next.Frame
}
