// Package ustr provides a bounded, NUL-padded byte-string type sized
// for an AMC service name. It is adapted from the teacher kernel's
// Ustr path type: the same fixed-width, truncate-at-first-NUL decode
// convention (MkUstrSlice) applied to a fixed-size field instead of a
// variable-length path component, since spec.md ยง6 fixes service
// names at defs.ServiceNameMax bytes on the wire.
package ustr

import "github.com/codyd51/axle-sub002/defs"

// Name is a fixed-width, NUL-padded service name as it appears in an
// AMC envelope's source or dest field.
type Name [defs.ServiceNameMax]byte

// MkName encodes s into a Name, NUL-padding short names and
// truncating names longer than defs.ServiceNameMax.
func MkName(s string) Name {
	var n Name
	copy(n[:], s)
	return n
}

// NameFrom decodes a Name from a defs.ServiceNameMax-byte wire slice.
func NameFrom(src []byte) Name {
	var n Name
	copy(n[:], src)
	return n
}

// String decodes the Name back to a Go string, stopping at the first
// NUL byte, matching MkUstrSlice's convention.
func (n Name) String() string {
	for i, b := range n {
		if b == 0 {
			return string(n[:i])
		}
	}
	return string(n[:])
}

// Eq compares two Names byte-for-byte.
func (n Name) Eq(o Name) bool {
	return n == o
}

// PutInto writes n's bytes into dst, which must be exactly
// defs.ServiceNameMax bytes long.
func (n Name) PutInto(dst []byte) {
	copy(dst, n[:])
}
