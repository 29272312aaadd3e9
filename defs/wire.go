package defs

// PageSize is the size in bytes of a physical frame and a virtual
// page; the core only ever deals in whole multiples of it.
const PageSize = 4096

// PageShift is the base-2 exponent of PageSize.
const PageShift = 12

const (
	// ServiceNameMax is the maximum length, in bytes, of an AMC
	// service name, matching the wire envelope's source/dest fields.
	ServiceNameMax = 64
	// MaxMessageBody is the build-time constant for the maximum AMC
	// message body size (spec.md ยง9: "documented as ~32 KiB").
	MaxMessageBody = 32 * 1024
	// EnvelopeHeaderSize is the size in bytes of the fixed portion of
	// the wire envelope (source + dest + length), before the body.
	EnvelopeHeaderSize = ServiceNameMax + ServiceNameMax + 4
	// DeliveryPoolSize is the size, in bytes, of the per-service
	// delivery-pool virtual region mapped in the owning task's address
	// space.
	DeliveryPoolSize = 32 * 1024 * 1024
	// InboxCapacity bounds the number of queued messages per service.
	InboxCapacity = 128
	// PendingPoolCapacity bounds the pending-to-unknown queue of each
	// unregistered destination name.
	PendingPoolCapacity = 64
)

// CoreServiceName is the reserved destination name handled entirely
// in-kernel; messages addressed to it never enter an inbox.
const CoreServiceName = "core"

// Kernel-state message events understood by the in-kernel "core"
// handler (spec.md ยง6).
const (
	EventFileManagerMapInitrd uint32 = iota + 1
	EventAMCExecBuffer
	EventSleepUntilTimestamp
	EventAllocPhysicalRange
)

// QuantumMs is the scheduler's preemption quantum.
const QuantumMs = 20
