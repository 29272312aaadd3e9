package irq

import "testing"

func TestRegisterFireDrain(t *testing.T) {
	tbl := NewTable()
	tbl.Register(11, "com.axle.realtek8139")

	if owner, ok := tbl.Owner(11); !ok || owner != "com.axle.realtek8139" {
		t.Fatalf("Owner(11) = %q, %v", owner, ok)
	}

	tbl.Fire(11)
	tbl.Fire(11)
	if n := tbl.Pending(11); n != 2 {
		t.Fatalf("Pending(11) = %d, want 2", n)
	}

	if n := tbl.Drain(11); n != 2 {
		t.Fatalf("Drain(11) = %d, want 2", n)
	}
	if n := tbl.Pending(11); n != 0 {
		t.Fatalf("Pending after drain = %d, want 0", n)
	}
}

func TestUnregisterClearsState(t *testing.T) {
	tbl := NewTable()
	tbl.Register(5, "com.axle.pci")
	tbl.Fire(5)
	tbl.Unregister(5)

	if _, ok := tbl.Owner(5); ok {
		t.Fatal("expected Owner to report absent after Unregister")
	}
	if n := tbl.Pending(5); n != 0 {
		t.Fatalf("Pending after unregister = %d, want 0", n)
	}
}
