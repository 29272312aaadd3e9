package amc

import (
	"github.com/codyd51/axle-sub002/lock"
	"github.com/codyd51/axle-sub002/vasm"
)

// shmemRegion records one side of a symmetric shared-memory mapping,
// so shmem_destroy can unwind both sides.
type shmemRegion struct {
	peer  string
	vaddr uintptr
	size  uintptr
}

// Service is a named AMC endpoint owned by exactly one task (spec.md
// ยง3). Each service carries its own spinlock, held during inbox
// mutation, per ยง4.E's concurrency note; the coarser global table
// lock in amc.go guards cross-service operations like shmem setup.
type Service struct {
	Name   string
	TaskID int
	Space  *vasm.AddressSpace

	mu *lock.Spinlock

	inbox []Message

	// deliveryBase is the virtual address of this service's 32MiB
	// delivery pool within Space, installed by Register.
	deliveryBase uintptr

	shmem       map[int]shmemRegion
	nextShmemID int

	dead bool
}

func newService(name string, taskID int, space *vasm.AddressSpace, deliveryBase uintptr) *Service {
	return &Service{
		Name:         name,
		TaskID:       taskID,
		Space:        space,
		mu:           lock.New("amc-service-" + name),
		deliveryBase: deliveryBase,
		shmem:        make(map[int]shmemRegion),
	}
}
