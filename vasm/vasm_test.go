package vasm

import (
	"os"
	"testing"

	"github.com/codyd51/axle-sub002/bootinfo"
	"github.com/codyd51/axle-sub002/defs"
	"github.com/codyd51/axle-sub002/pfa"
)

// TestMain seeds the global PFA once for the whole package, since
// AddressSpace allocates table and data frames through pfa's package-
// level singleton rather than an injected allocator - matching the
// teacher kernel's vm package, which likewise calls into mem's
// process-wide Physmem_t directly.
func TestMain(m *testing.M) {
	pfa.Init(&bootinfo.Info{
		Regions: []bootinfo.Region{
			{Type: bootinfo.RegionUsable, Addr: 0x100000, Len: 64 * 1024 * 1024},
		},
	})
	os.Exit(m.Run())
}

func TestS5AddressSpaceClone(t *testing.T) {
	a, err := New()
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	defer a.Destroy()

	f1, err := a.MapVirt(0x400000, Flags{Writable: true, User: true})
	if err != 0 {
		t.Fatalf("MapVirt: %v", err)
	}
	copy(dataPage(f1)[:], []byte{0x11, 0x22, 0x33})

	b, err := a.Clone()
	if err != 0 {
		t.Fatalf("Clone: %v", err)
	}
	defer b.Destroy()

	var f2 pfa.Frame
	for _, m := range b.EnumerateUser() {
		if m.Vaddr == 0x400000 {
			f2 = m.Frame
		}
	}
	if f2 == 0 {
		t.Fatal("clone missing 0x400000 mapping")
	}
	if f2 == f1 {
		t.Fatal("clone did not allocate a fresh frame (F1 == F2)")
	}
	if *dataPage(f2) != *dataPage(f1) {
		t.Fatal("clone byte content does not match source")
	}

	dataPage(f1)[0] = 0xff
	if dataPage(f2)[0] == 0xff {
		t.Fatal("write to source frame visible in clone: not an eager copy")
	}
}

func TestMapVirtToPhysRejectsDoubleMap(t *testing.T) {
	a, err := New()
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	defer a.Destroy()

	f, err := pfa.Alloc()
	if err != 0 {
		t.Fatal(err)
	}
	if err := a.MapVirtToPhys(0x500000, f, Flags{Writable: true, User: true}); err != 0 {
		t.Fatalf("first map: %v", err)
	}
	f2, err := pfa.Alloc()
	if err != 0 {
		t.Fatal(err)
	}
	if err := a.MapVirtToPhys(0x500000, f2, Flags{Writable: true, User: true}); err != defs.AlreadyMapped {
		t.Fatalf("second map: got %v, want AlreadyMapped", err)
	}
}

func TestUnmapRangeFreesFrameAndClearsPTE(t *testing.T) {
	a, err := New()
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	defer a.Destroy()

	if err := a.AllocRange(0x600000, 3*pageSize, Flags{Writable: true, User: true}); err != 0 {
		t.Fatalf("AllocRange: %v", err)
	}
	if len(a.EnumerateUser()) != 3 {
		t.Fatalf("expected 3 mappings, got %d", len(a.EnumerateUser()))
	}

	if err := a.UnmapRange(0x600000, 3*pageSize); err != 0 {
		t.Fatalf("UnmapRange: %v", err)
	}
	if len(a.EnumerateUser()) != 0 {
		t.Fatal("mappings survived UnmapRange")
	}
	if kind := a.ClassifyFault(0x600000, false); kind != FaultUnmapped {
		t.Fatalf("ClassifyFault after unmap: got %v, want FaultUnmapped", kind)
	}
}

func TestClassifyFaultDistinguishesUnmappedFromProtection(t *testing.T) {
	a, err := New()
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	defer a.Destroy()

	if kind := a.ClassifyFault(0x700000, false); kind != FaultUnmapped {
		t.Fatalf("unmapped address: got %v, want FaultUnmapped", kind)
	}

	if _, err := a.MapVirt(0x700000, Flags{Writable: false, User: true}); err != 0 {
		t.Fatalf("MapVirt: %v", err)
	}
	if kind := a.ClassifyFault(0x700000, true); kind != FaultProtection {
		t.Fatalf("write to read-only page: got %v, want FaultProtection", kind)
	}
	if kind := a.ClassifyFault(0x700000, false); kind != FaultOK {
		t.Fatalf("read of read-only page: got %v, want FaultOK", kind)
	}
}

func TestDestroyFreesIntermediateTableFrames(t *testing.T) {
	freeBefore, allocBefore := pfa.Stats()

	a, err := New()
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	// 513 pages cross a PT boundary (512 entries/PT), forcing a second
	// PT frame - and the PD/PDPT frames above it - to be allocated.
	if err := a.AllocRange(0x800000, 513*pageSize, Flags{Writable: true, User: true}); err != 0 {
		t.Fatalf("AllocRange: %v", err)
	}

	a.Destroy()

	freeAfter, allocAfter := pfa.Stats()
	if freeAfter != freeBefore || allocAfter != allocBefore {
		t.Fatalf("Destroy leaked frames: free %d->%d, allocated %d->%d", freeBefore, freeAfter, allocBefore, allocAfter)
	}
}

func TestFindFreeRegionSkipsUsedRanges(t *testing.T) {
	a, err := New()
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	defer a.Destroy()

	if err := a.AllocRange(pageSize, 4*pageSize, Flags{Writable: true, User: true}); err != 0 {
		t.Fatalf("AllocRange: %v", err)
	}

	region, err := a.FindFreeRegion(pageSize)
	if err != 0 {
		t.Fatalf("FindFreeRegion: %v", err)
	}
	used := Range{Start: pageSize, Size: 4 * pageSize}
	if used.overlaps(Range{Start: region, Size: pageSize}) {
		t.Fatalf("FindFreeRegion returned %#x, overlaps used range", region)
	}
}

// TestFindFreeRegionSkipsBareMapVirtToPhys guards against the bug where
// FindFreeRegion only consulted ranges recorded by AllocRange: a region
// mapped directly via MapVirtToPhys (as amc's shmem support does) must
// still be seen as occupied, or a second caller gets handed the same
// virtual base and collides with AlreadyMapped.
func TestFindFreeRegionSkipsBareMapVirtToPhys(t *testing.T) {
	a, err := New()
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	defer a.Destroy()

	f, err := pfa.Alloc()
	if err != 0 {
		t.Fatal(err)
	}
	const base = 0x900000
	if err := a.MapVirtToPhys(base, f, Flags{Writable: true, User: true}); err != 0 {
		t.Fatalf("MapVirtToPhys: %v", err)
	}

	region, err := a.FindFreeRegion(pageSize)
	if err != 0 {
		t.Fatalf("FindFreeRegion: %v", err)
	}
	if region == base {
		t.Fatalf("FindFreeRegion returned %#x, same as bare-mapped region", region)
	}

	f2, err := pfa.Alloc()
	if err != 0 {
		t.Fatal(err)
	}
	if err := a.MapVirtToPhys(region, f2, Flags{Writable: true, User: true}); err != 0 {
		t.Fatalf("mapping FindFreeRegion's answer should not collide: %v", err)
	}
}
