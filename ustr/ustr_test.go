package ustr

import (
	"testing"

	"github.com/codyd51/axle-sub002/defs"
)

func TestNameRoundTrip(t *testing.T) {
	n := MkName("com.axle.nic")
	if got := n.String(); got != "com.axle.nic" {
		t.Fatalf("String() = %q, want %q", got, "com.axle.nic")
	}
}

func TestNameTruncatesOversizeInput(t *testing.T) {
	long := make([]byte, defs.ServiceNameMax+10)
	for i := range long {
		long[i] = 'a'
	}
	n := MkName(string(long))
	if len(n.String()) != defs.ServiceNameMax {
		t.Fatalf("expected truncation to %d bytes, got %d", defs.ServiceNameMax, len(n.String()))
	}
}

func TestPutIntoAndNameFromRoundTrip(t *testing.T) {
	n := MkName("core")
	buf := make([]byte, defs.ServiceNameMax)
	n.PutInto(buf)

	decoded := NameFrom(buf)
	if !decoded.Eq(n) {
		t.Fatalf("decoded Name does not equal original")
	}
	if decoded.String() != "core" {
		t.Fatalf("String() = %q, want core", decoded.String())
	}
}

func TestEqDistinguishesDifferentNames(t *testing.T) {
	a := MkName("a")
	b := MkName("b")
	if a.Eq(b) {
		t.Fatalf("expected distinct names to compare unequal")
	}
}
