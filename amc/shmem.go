package amc

import (
	"github.com/codyd51/axle-sub002/defs"
	"github.com/codyd51/axle-sub002/pfa"
	"github.com/codyd51/axle-sub002/vasm"
)

// ShmemCreate implements shared_memory_create (spec.md ยง4.E): a
// contiguous virtual region in the caller's space, backed by a
// contiguous physical range, additionally mapped into peer's space at
// a free virtual address. Returns the local and remote virtual bases.
func (c *Channel) ShmemCreate(owner, peer string, size uintptr) (local, remote uintptr, err defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ownerSvc, ok := c.lookup(owner)
	if !ok {
		return 0, 0, defs.PeerMissing
	}
	peerSvc, ok := c.lookup(peer)
	if !ok {
		return 0, 0, defs.PeerMissing
	}

	size = roundupPage(size)

	frame, err := pfa.AllocContiguous(size)
	if err != 0 {
		return 0, 0, err
	}

	localVA, err := ownerSvc.Space.FindFreeRegion(size)
	if err != 0 {
		freeContiguous(frame, size)
		return 0, 0, err
	}
	if err := mapContiguous(ownerSvc.Space, localVA, frame, size); err != 0 {
		freeContiguous(frame, size)
		return 0, 0, err
	}

	remoteVA, err := peerSvc.Space.FindFreeRegion(size)
	if err != 0 {
		unmapContiguous(ownerSvc.Space, localVA, size)
		freeContiguous(frame, size)
		return 0, 0, err
	}
	if err := mapContiguous(peerSvc.Space, remoteVA, frame, size); err != 0 {
		unmapContiguous(ownerSvc.Space, localVA, size)
		freeContiguous(frame, size)
		return 0, 0, err
	}

	ownerSvc.mu.Lock()
	id := ownerSvc.nextShmemID
	ownerSvc.nextShmemID++
	ownerSvc.shmem[id] = shmemRegion{peer: peer, vaddr: localVA, size: size}
	ownerSvc.mu.Unlock()

	peerSvc.mu.Lock()
	peerSvc.shmem[id] = shmemRegion{peer: owner, vaddr: remoteVA, size: size}
	peerSvc.mu.Unlock()

	return localVA, remoteVA, 0
}

// ShmemDestroy implements shared_memory_destroy: unmaps both sides and
// frees the backing physical frames. descriptor is the id ShmemCreate
// assigned on the caller's side.
func (c *Channel) ShmemDestroy(owner string, descriptor int) defs.Err_t {
	c.mu.Lock()
	ownerSvc, ok := c.lookup(owner)
	if !ok {
		c.mu.Unlock()
		return defs.BadDescriptor
	}
	ownerSvc.mu.Lock()
	region, ok := ownerSvc.shmem[descriptor]
	if ok {
		delete(ownerSvc.shmem, descriptor)
	}
	ownerSvc.mu.Unlock()
	if !ok {
		c.mu.Unlock()
		return defs.BadDescriptor
	}

	peerSvc, peerOK := c.lookup(region.peer)
	c.mu.Unlock()

	frame, _ := ownerSvc.Space.FrameAt(region.vaddr)

	var peerRegion shmemRegion
	havePeerRegion := false
	if peerOK {
		peerSvc.mu.Lock()
		for id, r := range peerSvc.shmem {
			if pf, _ := peerSvc.Space.FrameAt(r.vaddr); r.peer == owner && r.size == region.size && pf == frame {
				peerRegion = r
				havePeerRegion = true
				delete(peerSvc.shmem, id)
				break
			}
		}
		peerSvc.mu.Unlock()
	}

	ownerSvc.Space.Detach(region.vaddr, region.size)
	if havePeerRegion {
		peerSvc.Space.Detach(peerRegion.vaddr, peerRegion.size)
	}
	freeContiguous(frame, region.size)
	return 0
}

func roundupPage(size uintptr) uintptr {
	return (size + defs.PageSize - 1) &^ (defs.PageSize - 1)
}

func freeContiguous(base pfa.Frame, size uintptr) {
	for off := uintptr(0); off < size; off += defs.PageSize {
		pfa.Free(pfa.Frame(uintptr(base) + off))
	}
}

// mapContiguous maps a frame range of already-allocated frames into
// space starting at vaddr. On partial failure it detaches what it
// mapped so far without freeing the frames - the caller still owns
// them and decides whether to free or retry.
func mapContiguous(space *vasm.AddressSpace, vaddr uintptr, base pfa.Frame, size uintptr) defs.Err_t {
	for off := uintptr(0); off < size; off += defs.PageSize {
		f := pfa.Frame(uintptr(base) + off)
		if err := space.MapVirtToPhys(vaddr+off, f, vasm.Flags{Writable: true, User: true}); err != 0 {
			space.Detach(vaddr, off)
			return err
		}
	}
	return 0
}

func unmapContiguous(space *vasm.AddressSpace, vaddr uintptr, size uintptr) {
	space.Detach(vaddr, size)
}
