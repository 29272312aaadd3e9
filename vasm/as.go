// Package vasm implements the Virtual Address Space Manager (spec.md
// ยง4.C): construction, mapping, cloning, and teardown of per-task
// x86_64 page tables.
//
// The four-level walk and the kernel/user half split are grounded on
// the teacher kernel's vm package (vm/vm.go, Pmap_t.Walk and
// Pmap_t.mk): same PML4/PDPT/PD/PT nesting, same "allocate the next
// level on demand" walk semantics. Where the teacher uses a combination
// of the x86 self-map and per-CPU temp-map slots to reach a table's
// bytes, this package goes through dmap.go's direct map instead (see
// that file's doc comment) - a deliberate simplification spec.md ยง9
// sanctions explicitly, since there is no real hardware here for a
// self-map trick to exploit.
package vasm

import (
	"sort"
	"sync"

	"github.com/codyd51/axle-sub002/defs"
	"github.com/codyd51/axle-sub002/lock"
	"github.com/codyd51/axle-sub002/pfa"
)

// userSpaceEnd is the first byte past the canonical user half
// (kernelHalfStart's PML4 slot), i.e. 256 * 512GiB.
const userSpaceEnd = uintptr(kernelHalfStart) << 39

// Range is a half-open virtual address range [Start, Start+Size).
type Range struct {
	Start uintptr
	Size  uintptr
}

func (r Range) End() uintptr { return r.Start + r.Size }

func (r Range) overlaps(o Range) bool {
	return r.Start < o.End() && o.Start < r.End()
}

// Mapping describes one resident user page, as reported by
// EnumerateUser.
type Mapping struct {
	Vaddr uintptr
	Frame pfa.Frame
	Flags Flags
}

// FaultKind classifies a page fault for the handler spec.md ยง4.C asks
// ClassifyFault to support.
type FaultKind int

const (
	// FaultUnmapped means the faulting address has no mapping at all.
	FaultUnmapped FaultKind = iota
	// FaultProtection means a mapping exists but forbids the attempted
	// access (e.g. a write to a read-only page).
	FaultProtection
	// FaultOK means the address is mapped and the access is permitted;
	// a fault should never legitimately occur here, but callers use
	// this value to detect a spurious report.
	FaultOK
)

// AddressSpace owns one PML4 and every table reachable from it. The
// zero value is not usable; construct with New.
type AddressSpace struct {
	mu   *lock.Spinlock
	pml4 pfa.Frame

	// used tracks the live, non-overlapping user-half ranges this
	// space has handed out, kept sorted by Start, so FindFreeRegion
	// can scan gaps without walking the page tables.
	used []Range
}

var kernelMu sync.Mutex

// kernelPML4 holds the canonical kernel-half PML4 entries, copied by
// value into every new AddressSpace. Slots [kernelHalfStart,
// selfMapSlot) are kernel; SeedKernelMapping populates them once
// during boot.
var kernelPML4 table

// SeedKernelMapping installs a kernel-half mapping shared by every
// address space created afterward (e.g. the kernel image, the direct
// map window, device MMIO). It must be called before any task's
// address space is constructed with New.
func SeedKernelMapping(vaddr uintptr, frame pfa.Frame, flags Flags) defs.Err_t {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	pml4i, i3, i2, _ := indices(vaddr)
	if pml4i < kernelHalfStart || pml4i == selfMapSlot {
		return defs.OutOfVirt
	}
	t := &kernelPML4
	for _, i := range []int{pml4i, i3, i2} {
		if !t[i].present() {
			f, err := pfa.Alloc()
			if err != 0 {
				return err
			}
			t[i] = entryFor(f, Flags{Writable: true})
		}
		t = Table(pfa.Frame(t[i].addr()))
	}
	return mapInto(t, vaddr, frame, flags)
}

func entryFor(f pfa.Frame, fl Flags) entry {
	return (entry(f) & pteAddrMask) | fl.pack()
}

// New constructs a fresh address space: an empty user half, the
// shared kernel half installed via SeedKernelMapping, and the self-map
// slot pointing at the space's own PML4.
func New() (*AddressSpace, defs.Err_t) {
	f, err := pfa.Alloc()
	if err != 0 {
		return nil, err
	}
	pt := Table(f)

	kernelMu.Lock()
	for i := kernelHalfStart; i < selfMapSlot; i++ {
		pt[i] = kernelPML4[i]
	}
	kernelMu.Unlock()

	pt[selfMapSlot] = entryFor(f, Flags{Writable: true})

	return &AddressSpace{
		mu:   lock.New("vasm"),
		pml4: f,
	}, 0
}

// walk descends the four levels to the PT covering vaddr, allocating
// and zeroing intermediate tables as needed when create is true.
// It returns the PT and the index of vaddr's entry within it.
func (as *AddressSpace) walk(vaddr uintptr, create bool) (*table, int, defs.Err_t) {
	i4, i3, i2, i1 := indices(vaddr)
	pml4t := Table(as.pml4)

	next := func(t *table, i int) (*table, defs.Err_t) {
		if !t[i].present() {
			if !create {
				return nil, defs.NotMapped
			}
			f, err := pfa.Alloc()
			if err != 0 {
				return nil, err
			}
			t[i] = entryFor(f, Flags{Writable: true, User: true})
		}
		return Table(pfa.Frame(t[i].addr())), 0
	}

	pdpt, err := next(pml4t, i4)
	if err != 0 {
		return nil, 0, err
	}
	pd, err := next(pdpt, i3)
	if err != 0 {
		return nil, 0, err
	}
	pt, err := next(pd, i2)
	if err != 0 {
		return nil, 0, err
	}
	return pt, i1, 0
}

func mapInto(pt *table, vaddr uintptr, frame pfa.Frame, flags Flags) defs.Err_t {
	_, _, _, i1 := indices(vaddr)
	pt[i1] = entryFor(frame, flags)
	return 0
}

// MapVirtToPhys installs a mapping from vaddr to a caller-supplied
// physical frame (identity maps, MMIO, shared memory). It fails with
// AlreadyMapped if vaddr already has a present mapping.
func (as *AddressSpace) MapVirtToPhys(vaddr uintptr, frame pfa.Frame, flags Flags) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()

	pt, i1, err := as.walk(vaddr, true)
	if err != 0 {
		return err
	}
	if pt[i1].present() {
		return defs.AlreadyMapped
	}
	pt[i1] = entryFor(frame, flags)
	as.recordUsed(Range{Start: vaddr, Size: pageSize})
	return 0
}

// MapVirt allocates a fresh frame from the PFA and maps it at vaddr.
func (as *AddressSpace) MapVirt(vaddr uintptr, flags Flags) (pfa.Frame, defs.Err_t) {
	f, err := pfa.Alloc()
	if err != 0 {
		return 0, err
	}
	if err := as.MapVirtToPhys(vaddr, f, flags); err != 0 {
		pfa.Free(f)
		return 0, err
	}
	return f, 0
}

// AllocRange maps [start, start+size) with freshly allocated frames,
// rounding size up to a page boundary. On any failure partway through,
// every page it mapped is unwound, and every frame AllocN handed out is
// freed, before returning.
func (as *AddressSpace) AllocRange(start, size uintptr, flags Flags) defs.Err_t {
	npages := pagesIn(size)

	frames, err := pfa.AllocN(npages)
	if err != 0 {
		return err
	}

	mapped := 0
	for i, f := range frames {
		vaddr := start + uintptr(i)*pageSize
		if err := as.MapVirtToPhys(vaddr, f, flags); err != 0 {
			as.mu.Lock()
			for j := 0; j < mapped; j++ {
				as.unmapOne(start + uintptr(j)*pageSize)
			}
			as.mu.Unlock()
			pfa.FreeN(frames[mapped:])
			return err
		}
		mapped++
	}
	return 0
}

const pageSize = 4096

func pagesIn(size uintptr) int {
	return int((size + pageSize - 1) / pageSize)
}

// recordUsed inserts r into as.used, merging it with any adjacent or
// overlapping entry so the ledger stays a handful of ranges even though
// MapVirtToPhys calls this once per page. Callers must hold as.mu.
func (as *AddressSpace) recordUsed(r Range) {
	i := sort.Search(len(as.used), func(i int) bool { return as.used[i].Start >= r.Start })

	if i > 0 && as.used[i-1].End() >= r.Start {
		i--
		start := as.used[i].Start
		end := r.End()
		if as.used[i].End() > end {
			end = as.used[i].End()
		}
		r = Range{Start: start, Size: end - start}
		as.used = append(as.used[:i], as.used[i+1:]...)
	}
	for i < len(as.used) && as.used[i].Start <= r.End() {
		if as.used[i].End() > r.End() {
			r.Size = as.used[i].End() - r.Start
		}
		as.used = append(as.used[:i], as.used[i+1:]...)
	}

	as.used = append(as.used, Range{})
	copy(as.used[i+1:], as.used[i:])
	as.used[i] = r
}

// removeUsed carves the single page at vaddr out of whichever tracked
// range currently contains it, splitting that range if vaddr falls in
// its interior. Callers must hold as.mu.
func (as *AddressSpace) removeUsed(vaddr uintptr) {
	for i, r := range as.used {
		if vaddr < r.Start || vaddr >= r.End() {
			continue
		}
		as.used = append(as.used[:i], as.used[i+1:]...)
		if r.Start < vaddr {
			as.recordUsed(Range{Start: r.Start, Size: vaddr - r.Start})
		}
		if rest := vaddr + pageSize; rest < r.End() {
			as.recordUsed(Range{Start: rest, Size: r.End() - rest})
		}
		return
	}
}

// FindFreeRegion returns the lowest-address gap of at least size
// bytes in the user half that does not overlap any previously
// allocated range.
func (as *AddressSpace) FindFreeRegion(size uintptr) (uintptr, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()

	size = uintptr(pagesIn(size)) * pageSize
	cursor := pageSize // never hand out vaddr 0, matching the teacher's reserved-null-page convention
	for _, r := range as.used {
		if r.Start >= uintptr(cursor)+size {
			break
		}
		if uintptr(cursor) < r.End() {
			cursor = int(r.End())
		}
	}
	if uintptr(cursor)+size > userSpaceEnd {
		return 0, defs.OutOfVirt
	}
	return uintptr(cursor), 0
}

// UnmapRange clears the mappings covering [start, start+size), freeing
// each mapped frame back to the PFA. It is not an error to unmap pages
// that were never mapped.
func (as *AddressSpace) UnmapRange(start, size uintptr) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()

	npages := pagesIn(size)
	for i := 0; i < npages; i++ {
		as.unmapOne(start + uintptr(i)*pageSize)
	}
	return 0
}

// unmapOne clears one page's PTE and frees its frame, if present.
// Callers must hold as.mu.
func (as *AddressSpace) unmapOne(vaddr uintptr) {
	as.clearOne(vaddr, true)
}

// clearOne clears one page's PTE, optionally freeing the underlying
// frame back to the PFA. free is false for a page shared with another
// address space (shmem's non-owning side), where the frame outlives
// this mapping. Callers must hold as.mu.
func (as *AddressSpace) clearOne(vaddr uintptr, free bool) {
	pt, i1, err := as.walk(vaddr, false)
	if err != 0 {
		return
	}
	if !pt[i1].present() {
		return
	}
	frame := pfa.Frame(pt[i1].addr())
	pt[i1] = 0
	as.removeUsed(vaddr)
	if free {
		forgetDataPage(frame)
		pfa.Free(frame)
	}
}

// FrameAt returns the physical frame currently mapped at vaddr,
// without altering the mapping.
func (as *AddressSpace) FrameAt(vaddr uintptr) (pfa.Frame, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pt, i1, err := as.walk(vaddr, false)
	if err != 0 {
		return 0, defs.NotMapped
	}
	if !pt[i1].present() {
		return 0, defs.NotMapped
	}
	return pfa.Frame(pt[i1].addr()), 0
}

// Detach clears the mappings covering [start, start+size) without
// freeing the underlying frames - the non-owning side of a shared-
// memory region uses this so the frames, still live on the owning
// side, are not double-freed.
func (as *AddressSpace) Detach(start, size uintptr) {
	as.mu.Lock()
	defer as.mu.Unlock()
	npages := pagesIn(size)
	for i := 0; i < npages; i++ {
		as.clearOne(start+uintptr(i)*pageSize, false)
	}
}

// Clone produces a new address space with the same kernel half and an
// eager, byte-for-byte copy of every resident user page - no
// copy-on-write, per spec.md ยง9's resolution of the Clone semantics
// open question.
func (as *AddressSpace) Clone() (*AddressSpace, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()

	child, err := New()
	if err != 0 {
		return nil, err
	}

	for _, m := range as.enumerateUserLocked() {
		nf, err := child.MapVirt(m.Vaddr, m.Flags)
		if err != 0 {
			child.Destroy()
			return nil, err
		}
		*dataPage(nf) = *dataPage(m.Frame)
	}
	return child, 0
}

// Destroy tears the space down in the order spec.md ยง4.C mandates:
// every leaf frame is freed via the PFA first, then the intermediate
// PDPT/PD/PT table frames that held them, and finally the top-level
// PML4 itself. Leaves are found by walking the tables directly, not
// through the used-range ledger, since a page mapped via bare
// MapVirt/MapVirtToPhys rather than AllocRange is still live and must
// not leak.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	mappings := as.enumerateUserLocked()
	for _, m := range mappings {
		as.unmapOne(m.Vaddr)
	}
	as.used = nil
	as.freeIntermediateTables()
	as.mu.Unlock()

	pml4t := Table(as.pml4)
	pml4t[selfMapSlot] = 0
	forgetTable(as.pml4)
	pfa.Free(as.pml4)
}

// freeIntermediateTables frees every user-half PDPT/PD/PT frame back to
// the PFA, bottom-up (PT, then PD, then PDPT), so a table is never
// freed while a live parent entry still points at it. Every leaf frame
// must already be unmapped by the caller. Callers must hold as.mu.
func (as *AddressSpace) freeIntermediateTables() {
	pml4t := Table(as.pml4)
	for i4 := 0; i4 < kernelHalfStart; i4++ {
		if !pml4t[i4].present() {
			continue
		}
		pdptFrame := pfa.Frame(pml4t[i4].addr())
		pdpt := Table(pdptFrame)
		for i3 := 0; i3 < 512; i3++ {
			if !pdpt[i3].present() {
				continue
			}
			pdFrame := pfa.Frame(pdpt[i3].addr())
			pd := Table(pdFrame)
			for i2 := 0; i2 < 512; i2++ {
				if !pd[i2].present() {
					continue
				}
				ptFrame := pfa.Frame(pd[i2].addr())
				pd[i2] = 0
				forgetTable(ptFrame)
				pfa.Free(ptFrame)
			}
			pdpt[i3] = 0
			forgetTable(pdFrame)
			pfa.Free(pdFrame)
		}
		pml4t[i4] = 0
		forgetTable(pdptFrame)
		pfa.Free(pdptFrame)
	}
}

// ClassifyFault reports why vaddr faulted, for the handler spec.md
// ยง4.C describes: distinguish a wholly unmapped address from a
// present-but-forbidden access.
func (as *AddressSpace) ClassifyFault(vaddr uintptr, write bool) FaultKind {
	as.mu.Lock()
	defer as.mu.Unlock()

	pt, i1, err := as.walk(vaddr, false)
	if err != 0 {
		return FaultUnmapped
	}
	if !pt[i1].present() {
		return FaultUnmapped
	}
	if write && !flagsOf(pt[i1]).Writable {
		return FaultProtection
	}
	return FaultOK
}

// WriteAt copies data into the mapped pages starting at vaddr, one
// page at a time. Every byte touched must already be mapped; this is
// the primitive amc's delivery pool and shared-memory regions use to
// move bytes through a virtual address without real hardware.
func (as *AddressSpace) WriteAt(vaddr uintptr, data []byte) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()

	for len(data) > 0 {
		pt, i1, err := as.walk(vaddr, false)
		if err != 0 {
			return defs.NotMapped
		}
		if !pt[i1].present() {
			return defs.NotMapped
		}
		page := dataPage(pfa.Frame(pt[i1].addr()))
		off := int(vaddr % pageSize)
		n := copy(page[off:], data)
		data = data[n:]
		vaddr += uintptr(n)
	}
	return 0
}

// ReadAt returns a copy of n bytes starting at vaddr.
func (as *AddressSpace) ReadAt(vaddr uintptr, n int) ([]byte, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()

	out := make([]byte, 0, n)
	for len(out) < n {
		pt, i1, err := as.walk(vaddr, false)
		if err != 0 {
			return nil, defs.NotMapped
		}
		if !pt[i1].present() {
			return nil, defs.NotMapped
		}
		page := dataPage(pfa.Frame(pt[i1].addr()))
		off := int(vaddr % pageSize)
		take := n - len(out)
		if take > pageSize-off {
			take = pageSize - off
		}
		out = append(out, page[off:off+take]...)
		vaddr += uintptr(take)
	}
	return out, 0
}

// EnumerateUser lists every resident user-half page. Clone and Destroy
// use the same walk through enumerateUserLocked.
func (as *AddressSpace) EnumerateUser() []Mapping {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.enumerateUserLocked()
}

func (as *AddressSpace) enumerateUserLocked() []Mapping {
	var out []Mapping
	pml4t := Table(as.pml4)
	for i4 := 0; i4 < kernelHalfStart; i4++ {
		if !pml4t[i4].present() {
			continue
		}
		pdpt := Table(pfa.Frame(pml4t[i4].addr()))
		for i3 := 0; i3 < 512; i3++ {
			if !pdpt[i3].present() {
				continue
			}
			pd := Table(pfa.Frame(pdpt[i3].addr()))
			for i2 := 0; i2 < 512; i2++ {
				if !pd[i2].present() {
					continue
				}
				pt := Table(pfa.Frame(pd[i2].addr()))
				for i1 := 0; i1 < 512; i1++ {
					if !pt[i1].present() {
						continue
					}
					vaddr := uintptr(i4)<<39 | uintptr(i3)<<30 | uintptr(i2)<<21 | uintptr(i1)<<12
					out = append(out, Mapping{
						Vaddr: vaddr,
						Frame: pfa.Frame(pt[i1].addr()),
						Flags: flagsOf(pt[i1]),
					})
				}
			}
		}
	}
	return out
}
