// Package pfa implements the Physical Frame Allocator (spec.md ยง4.B):
// page-granular physical memory allocation backed by a pair of
// bitsets, "accessible" and "allocated", with the invariant that
// allocated implies accessible and no frame is ever double-allocated.
//
// The singleton/locking shape is grounded on the teacher kernel's
// mem.Physmem_t (mem/mem.go): a single process-wide allocator guarded
// by one lock, exposed only through package functions. The bitset
// scan-for-a-free-frame algorithm, and alloc_contiguous's
// run-length tracking, are ported directly from axle's own
// src/kernel/pmm/pmm.c (_first_usable_pmm_index_unlocked,
// _find_free_region_unlocked) rather than from the teacher's
// refcounted free-list design, since spec.md ยง3 mandates bitsets.
package pfa

import (
	"github.com/codyd51/axle-sub002/bootinfo"
	"github.com/codyd51/axle-sub002/defs"
	"github.com/codyd51/axle-sub002/lock"
	"github.com/codyd51/axle-sub002/stats"
	"github.com/codyd51/axle-sub002/util"
)

// Frame identifies a physical frame by its base address. Frame
// addresses are always a multiple of defs.PageSize.
type Frame uintptr

const invalidFrame Frame = ^Frame(0)

// Allocator owns the accessible/allocated bitsets for one contiguous
// span of frame numbers. A single instance, Global, is the process-
// wide allocator; Allocator itself takes no locks internal to its
// methods other than through the caller-supplied Spinlock, matching
// the teacher's convention of a struct embedding its own lock.
type Allocator struct {
	mu *lock.Spinlock

	// base is the frame number of bit 0 in both bitsets; frames below
	// it (e.g. addresses reserved for real-mode/AP bootstrap) are
	// never representable and are implicitly inaccessible.
	base int
	accessible bitset
	allocated  bitset

	allocs stats.Counter_t
	frees  stats.Counter_t
}

// Global is the process-wide physical frame allocator singleton.
var Global = &Allocator{mu: lock.New("pfa")}

// Init resets Global from the normalized boot-info RAM map: every
// RegionUsable range is marked accessible, then everything below the
// kernel image, the kernel image itself, the framebuffer, the initrd,
// and every RegionKernelImage region are reserved out again (the same
// two-pass shape as axle's pmm_init). Info carries no size for the
// symbol and string tables, so no frames are reserved for them.
func Init(info *bootinfo.Info) {
	Global.initFrom(info)
}

func framesOf(r uintptr) int {
	return int(r >> defs.PageShift)
}

func (a *Allocator) initFrom(info *bootinfo.Info) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var highest uintptr
	info.VisitMemRegions(func(r bootinfo.Region) bool {
		highest = util.Max(highest, r.Addr+r.Len)
		return true
	})
	highest = util.Max(highest, info.KernelImage.End())
	highest = util.Max(highest, info.Initrd.End())

	nframes := framesOf(util.Roundup(highest, uintptr(defs.PageSize))) + 1
	a.base = 0
	a.accessible = newBitset(nframes)
	a.allocated = newBitset(nframes)

	info.VisitMemRegions(func(r bootinfo.Region) bool {
		if r.Type == bootinfo.RegionUsable && r.Len > 0 {
			start := framesOf(util.Rounddown(r.Addr, uintptr(defs.PageSize)))
			end := framesOf(util.Rounddown(r.Addr+r.Len, uintptr(defs.PageSize)))
			if end > start {
				a.accessible.setRange(start, end-start)
			}
		}
		return true
	})

	a.reserveUnlocked(0, info.KernelImage.Start)
	a.reserveUnlocked(info.KernelImage.Start, info.KernelImage.Size)
	a.reserveUnlocked(info.Framebuffer.PhysBase, uintptr(info.Framebuffer.Width)*uintptr(info.Framebuffer.Height)*uintptr(info.Framebuffer.BytesPerPixel))
	a.reserveUnlocked(info.Initrd.Start, info.Initrd.Size)
	a.reserveUnlocked(info.SymbolTable, 0)
	a.reserveUnlocked(info.StringTable, 0)

	info.VisitMemRegions(func(r bootinfo.Region) bool {
		if r.Type == bootinfo.RegionKernelImage {
			a.reserveUnlocked(r.Addr, r.Len)
		}
		return true
	})
}

// Reserve removes [start, start+size) from the accessible set. It is
// idempotent: reserving an already-reserved or partially-reserved
// range is safe.
func (a *Allocator) Reserve(start, size uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserveUnlocked(start, size)
}

func (a *Allocator) reserveUnlocked(start, size uintptr) {
	if size == 0 {
		return
	}
	first := framesOf(util.Rounddown(start, uintptr(defs.PageSize)))
	last := framesOf(util.Roundup(start+size, uintptr(defs.PageSize)))
	if last > a.accessible.nbits {
		last = a.accessible.nbits
	}
	if last > first {
		a.accessible.clearRange(first, last-first)
	}
}

// Reserve reserves a region of the global allocator. See Allocator.Reserve.
func Reserve(start, size uintptr) { Global.Reserve(start, size) }

// candidate reports whether frame index i is accessible and not yet
// allocated - the joint bitset test spec.md ยง4.B's algorithm section
// describes.
func (a *Allocator) candidate(i int) bool {
	return a.accessible.test(i) && !a.allocated.test(i)
}

// Alloc returns the first accessible, unallocated frame and marks it
// allocated.
func (a *Allocator) Alloc() (Frame, defs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < a.accessible.nbits; i++ {
		if a.candidate(i) {
			a.allocated.set(i)
			a.allocs.Inc()
			return a.frameOf(i), 0
		}
	}
	return invalidFrame, defs.OutOfFrames
}

// Alloc allocates from the global allocator. See Allocator.Alloc.
func Alloc() (Frame, defs.Err_t) { return Global.Alloc() }

// AllocAddress marks a specific, known-physical frame as allocated.
// It is used only for identity maps of known-physical regions (e.g.
// MMIO, the kernel image itself). If the frame is already allocated it
// returns DoubleAlloc and leaves the bitsets unchanged.
func (a *Allocator) AllocAddress(f Frame) defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.indexOf(f)
	if a.allocated.test(i) {
		return defs.DoubleAlloc
	}
	a.allocated.set(i)
	a.allocs.Inc()
	return 0
}

// AllocAddress allocates a specific frame from the global allocator.
func AllocAddress(f Frame) defs.Err_t { return Global.AllocAddress(f) }

// AllocN allocates n frames one at a time, the same loop axle's own
// pmm_alloc uses, rolling back every frame it already took if the PFA
// runs out partway through. It is the batch convenience vasm.AllocRange
// uses to grab every frame a range needs before mapping any of them.
func (a *Allocator) AllocN(n int) ([]Frame, defs.Err_t) {
	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		f, err := a.Alloc()
		if err != 0 {
			a.FreeN(frames)
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, 0
}

// AllocN allocates from the global allocator. See Allocator.AllocN.
func AllocN(n int) ([]Frame, defs.Err_t) { return Global.AllocN(n) }

// FreeN frees every frame in frames back to the allocator.
func (a *Allocator) FreeN(frames []Frame) {
	for _, f := range frames {
		a.Free(f)
	}
}

// FreeN frees a set of frames back to the global allocator.
func FreeN(frames []Frame) { Global.FreeN(frames) }

// AllocContiguous finds and allocates the lowest-address run of
// consecutive accessible, unallocated frames covering at least size
// bytes, per spec.md ยง4.B.
func (a *Allocator) AllocContiguous(size uintptr) (Frame, defs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()

	nframes := int(util.Roundup(size, uintptr(defs.PageSize)) >> defs.PageShift)
	if nframes == 0 {
		nframes = 1
	}

	runStart := -1
	for i := 0; i < a.accessible.nbits; i++ {
		if a.candidate(i) {
			if runStart < 0 {
				runStart = i
			}
			if i-runStart+1 >= nframes {
				a.allocated.setRange(runStart, nframes)
				a.allocs.Inc()
				return a.frameOf(runStart), 0
			}
		} else {
			runStart = -1
		}
	}
	return invalidFrame, defs.NoContiguousRun
}

// AllocContiguous allocates from the global allocator. See Allocator.AllocContiguous.
func AllocContiguous(size uintptr) (Frame, defs.Err_t) { return Global.AllocContiguous(size) }

// Free clears the allocated bit for f. It panics if f was not
// allocated - a protocol violation per spec.md ยง7.
func (a *Allocator) Free(f Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.indexOf(f)
	if !a.allocated.test(i) {
		panic("pfa: free of non-allocated frame")
	}
	a.allocated.clear(i)
	a.frees.Inc()
}

// Free frees a frame from the global allocator.
func Free(f Frame) { Global.Free(f) }

// Stats reports the number of accessible-but-free and allocated
// frames currently tracked.
func (a *Allocator) Stats() (free, allocated int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < a.accessible.nbits; i++ {
		if a.accessible.test(i) {
			if a.allocated.test(i) {
				allocated++
			} else {
				free++
			}
		}
	}
	return
}

// Stats reports counts from the global allocator.
func Stats() (free, allocated int) { return Global.Stats() }

func (a *Allocator) frameOf(i int) Frame {
	return Frame((i + a.base) << defs.PageShift)
}

func (a *Allocator) indexOf(f Frame) int {
	return int(f>>defs.PageShift) - a.base
}
