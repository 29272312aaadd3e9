// Package sched implements the Task Scheduler (spec.md ยง4.D): a
// preemptive, single-CPU-at-a-time priority round-robin scheduler with
// SMP-aware TSS bookkeeping and cooperative yield.
//
// The struct-per-task-plus-package-level-singleton shape, and the
// convention of a task carrying its own saved register frame, are
// grounded on the teacher kernel's proc/accnt packages (proc/go.mod
// shows the package existed; accnt/accnt.go shows the struct-of-
// counters style Task's bookkeeping fields follow). Since the
// retrieved proc package has no surviving source, the block/unblock/
// sleep/priority-queue algorithm itself is ported directly from
// spec.md ยง4.D rather than from teacher code.
package sched

// Priority is a task's scheduling class. Higher-valued classes are
// always selected ahead of lower ones when both have runnable tasks.
type Priority int

const (
	PriorityIdle Priority = iota
	PriorityNormal
	PriorityDriver
	PriorityKernel
	numPriorities
)

func (p Priority) String() string {
	switch p {
	case PriorityIdle:
		return "idle"
	case PriorityNormal:
		return "normal"
	case PriorityDriver:
		return "driver"
	case PriorityKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// Reason is a bitmask of conditions a task is blocked on. A task
// becomes runnable again only once every active reason bit has been
// satisfied, except the AwaitMessage|AwaitTimestamp combination, where
// either satisfies the wake (spec.md ยง4.D).
type Reason uint8

const (
	AwaitMessage Reason = 1 << iota
	AwaitTimestamp
	AwaitInterrupt
)

// BlockInfo records why a task is blocked and what would wake it.
type BlockInfo struct {
	Reason    Reason
	WakeMs    uint64
	Service   string
	Vector    uint
	seq       uint64 // insertion order, for sleeper tie-break
}

// RegisterFrame is the saved machine state for a task: general
// registers plus the three control registers a context switch must
// restore. Real register names are used (not generic slots) so a
// future assembly trampoline has an obvious struct to target.
type RegisterFrame struct {
	RAX, RBX, RCX, RDX    uint64
	RSI, RDI, RBP         uint64
	R8, R9, R10, R11      uint64
	R12, R13, R14, R15    uint64
	RIP, RSP, RFLAGS      uint64
}

// NewInitialFrame builds the register frame for a brand new task: RIP
// at entry, RSP at the top of its freshly allocated stack, and the
// interrupt-enable flag set so it can be scheduled normally.
func NewInitialFrame(entry, stackTop uint64) RegisterFrame {
	const flagsIF = 1 << 9
	return RegisterFrame{RIP: entry, RSP: stackTop, RFLAGS: flagsIF}
}

// Task is a schedulable activity: the fields spec.md ยง3's Task
// description lists as essential, plus scheduler-private bookkeeping.
type Task struct {
	ID       int
	Name     string
	Priority Priority

	KernelStackBase uintptr
	KernelStackSize uintptr

	Frame RegisterFrame

	// AddressSpace is an opaque handle supplied by the caller (a
	// *vasm.AddressSpace in practice); sched never dereferences it,
	// matching ยง4.D's instruction that the scheduler only moves tasks
	// between queues and does not know about paging.
	AddressSpace interface{}

	Blocked   bool
	BlockInfo BlockInfo

	// Symbols holds the user-task symbol-table snapshot as an opaque
	// value. Neither sched nor crash reads it: crash.Symbolicate takes
	// its kernel and task tables as arguments.
	Symbols interface{}

	CPU int

	// Service, if non-empty, names the AMC service this task owns;
	// HasService matches against it. It is set by the caller: neither
	// sched nor amc fills it in, since amc keeps its own task-to-service
	// directory.
	Service string

	dead bool
}
