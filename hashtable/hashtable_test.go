package hashtable

import "testing"

func TestSetGetDel(t *testing.T) {
	ht := MkHash(8)

	if _, ok := ht.Get("nic"); ok {
		t.Fatal("unexpected hit on empty table")
	}

	if _, inserted := ht.Set("nic", 42); !inserted {
		t.Fatal("expected insert")
	}
	if _, inserted := ht.Set("nic", 43); inserted {
		t.Fatal("expected duplicate Set to report no insert")
	}

	v, ok := ht.Get("nic")
	if !ok || v.(int) != 42 {
		t.Fatalf("Get returned %v, %v", v, ok)
	}

	if ht.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", ht.Size())
	}

	ht.Del("nic")
	if _, ok := ht.Get("nic"); ok {
		t.Fatal("found key after Del")
	}
}

func TestManyKeysDistinctBuckets(t *testing.T) {
	ht := MkHash(16)
	names := []string{"com.axle.pci", "com.axle.crash_reporter", "com.axle.file_manager", "com.axle.kb_driver"}
	for i, n := range names {
		ht.Set(n, i)
	}
	for i, n := range names {
		v, ok := ht.Get(n)
		if !ok || v.(int) != i {
			t.Fatalf("Get(%q) = %v, %v; want %d, true", n, v, ok, i)
		}
	}
	if ht.Size() != len(names) {
		t.Fatalf("Size() = %d, want %d", ht.Size(), len(names))
	}
}
