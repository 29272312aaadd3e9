// Package amc implements the Asynchronous Message Channel (spec.md
// ยง4.E): named services exchanging bounded messages through per-
// service FIFO inboxes and a per-service delivery pool mapped into the
// receiving task's address space.
//
// The name->service directory uses hashtable.Hashtable_t (biscuit's
// hashtable package, shared with sched's task directory in spirit):
// lock-free reads matter here because every send() looks up its
// destination and must never block concurrent delivery to an
// unrelated service. Blocking/waking goes through sched.Block/Unblock
// exactly as spec.md ยง5 describes ("AMC blocks/unblocks tasks via
// Scheduler").
package amc

import (
	"github.com/codyd51/axle-sub002/defs"
	"github.com/codyd51/axle-sub002/ustr"
)

// Message is the kernel-owned copy of one sent message: the sender
// and destination names plus the body bytes, queued on the
// destination's inbox until an await drains it.
type Message struct {
	Source string
	Dest   string
	Body   []byte
}

// Envelope is the wire struct matching spec.md ยง6's delivery-pool byte
// layout: source[64], dest[64], length u32, body[length]. MarshalInto
// and UnmarshalFrom are what await actually writes into and a driver
// task would decode from the delivery pool.
type Envelope struct {
	Source string
	Dest   string
	Body   []byte
}

// Size returns the number of bytes this envelope occupies once
// marshalled.
func (e Envelope) Size() int {
	return defs.EnvelopeHeaderSize + len(e.Body)
}

// MarshalInto writes the envelope into pool, starting at offset 0, and
// returns the number of bytes written. pool must be at least Size()
// bytes long.
func (e Envelope) MarshalInto(pool []byte) int {
	ustr.MkName(e.Source).PutInto(pool[0:defs.ServiceNameMax])
	ustr.MkName(e.Dest).PutInto(pool[defs.ServiceNameMax : 2*defs.ServiceNameMax])
	putUint32(pool[2*defs.ServiceNameMax:defs.EnvelopeHeaderSize], uint32(len(e.Body)))
	copy(pool[defs.EnvelopeHeaderSize:], e.Body)
	return e.Size()
}

// UnmarshalFrom decodes an Envelope previously written by MarshalInto.
func UnmarshalFrom(pool []byte) Envelope {
	source := ustr.NameFrom(pool[0:defs.ServiceNameMax]).String()
	dest := ustr.NameFrom(pool[defs.ServiceNameMax : 2*defs.ServiceNameMax]).String()
	length := getUint32(pool[2*defs.ServiceNameMax : defs.EnvelopeHeaderSize])
	body := make([]byte, length)
	copy(body, pool[defs.EnvelopeHeaderSize:defs.EnvelopeHeaderSize+int(length)])
	return Envelope{Source: source, Dest: dest, Body: body}
}

func putUint32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func getUint32(src []byte) uint32 {
	return uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16 | uint32(src[3])<<24
}
