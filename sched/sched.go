package sched

import (
	"sort"

	"github.com/codyd51/axle-sub002/lock"
)

// ring is a FIFO queue of task ids for one priority class, implemented
// as a plain slice: Push appends to the tail, Pop removes the head.
// axle's own ready-queue is a circular buffer of identical shape; a
// slice is the Go-idiomatic equivalent for a single-CPU scheduler
// where queue length never needs a fixed upper bound.
type ring struct {
	ids []int
}

func (r *ring) push(id int) { r.ids = append(r.ids, id) }

func (r *ring) pop() (int, bool) {
	if len(r.ids) == 0 {
		return 0, false
	}
	id := r.ids[0]
	r.ids = r.ids[1:]
	return id, true
}

func (r *ring) remove(id int) {
	for i, v := range r.ids {
		if v == id {
			r.ids = append(r.ids[:i], r.ids[i+1:]...)
			return
		}
	}
}

// Scheduler owns every task and the ready/blocked/sleeper sets. A
// single package-level instance, Global, mirrors the PFA's singleton
// convention.
type Scheduler struct {
	mu *lock.Spinlock

	tasks  map[int]*Task
	nextID int

	ready [numPriorities]ring

	// sleepers holds the ids of every task blocked with AwaitTimestamp
	// active, ordered by (WakeMs, seq) so Tick can wake them in
	// deadline order with insertion-order tie-break.
	sleepers []int
	seq      uint64
}

// Global is the process-wide scheduler singleton.
var Global = New()

// New constructs an empty scheduler. Tests use this directly instead
// of the shared Global so cases don't interfere with each other.
func New() *Scheduler {
	return &Scheduler{
		mu:    lock.New("sched"),
		tasks: make(map[int]*Task),
	}
}

// Spawn creates a new task in the ready state at the tail of its
// priority class's ring.
func (s *Scheduler) Spawn(name string, priority Priority, entry, stackTop uint64) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t := &Task{
		ID:       s.nextID,
		Name:     name,
		Priority: priority,
		Frame:    NewInitialFrame(entry, stackTop),
	}
	s.tasks[t.ID] = t
	s.ready[priority].push(t.ID)
	return t
}

// Block moves a task out of the ready ring and into the blocked set
// with the given reason mask.
func (s *Scheduler) Block(id int, reason Reason, wakeMs uint64, service string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return
	}
	s.ready[t.Priority].remove(id)
	t.Blocked = true
	t.BlockInfo = BlockInfo{Reason: reason, WakeMs: wakeMs, Service: service}

	if reason&AwaitTimestamp != 0 {
		s.seq++
		t.BlockInfo.seq = s.seq
		s.insertSleeper(id)
	}
}

func (s *Scheduler) insertSleeper(id int) {
	wake := s.tasks[id].BlockInfo.WakeMs
	seqv := s.tasks[id].BlockInfo.seq
	i := sort.Search(len(s.sleepers), func(i int) bool {
		o := s.tasks[s.sleepers[i]].BlockInfo
		if o.WakeMs != wake {
			return o.WakeMs > wake
		}
		return o.seq > seqv
	})
	s.sleepers = append(s.sleepers, 0)
	copy(s.sleepers[i+1:], s.sleepers[i:])
	s.sleepers[i] = id
}

// Unblock clears one reason bit for a task; if every active reason is
// now satisfied (or the task was blocked solely on the
// AwaitMessage|AwaitTimestamp combination and either bit clears), the
// task returns to the TAIL of its priority ring, per spec.md ยง4.D's
// FIFO-fairness guarantee.
func (s *Scheduler) Unblock(id int, satisfied Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unblockLocked(id, satisfied)
}

func (s *Scheduler) unblockLocked(id int, satisfied Reason) {
	t, ok := s.tasks[id]
	if !ok || !t.Blocked {
		return
	}
	info := t.BlockInfo

	wake := false
	if info.Reason == AwaitMessage|AwaitTimestamp {
		wake = satisfied&(AwaitMessage|AwaitTimestamp) != 0
	} else {
		wake = info.Reason&^satisfied == 0
	}
	if !wake {
		t.BlockInfo.Reason &^= satisfied
		return
	}

	if info.Reason&AwaitTimestamp != 0 {
		removeInt(&s.sleepers, id)
	}
	t.Blocked = false
	t.BlockInfo = BlockInfo{}
	s.ready[t.Priority].push(id)
}

func removeInt(sl *[]int, v int) {
	for i, x := range *sl {
		if x == v {
			*sl = append((*sl)[:i], (*sl)[i+1:]...)
			return
		}
	}
}

// Tick runs the timer-IRQ housekeeping spec.md ยง4.D describes: every
// sleeper whose WakeMs has elapsed is unblocked, in deadline order.
// Wakers always run before the next Schedule call, so a just-expired
// sleeper is eligible on the very next pick.
func (s *Scheduler) Tick(nowMs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.sleepers) > 0 {
		id := s.sleepers[0]
		if s.tasks[id].BlockInfo.WakeMs > nowMs {
			break
		}
		s.sleepers = s.sleepers[1:]
		s.unblockLocked(id, AwaitTimestamp)
	}
}

// Schedule picks the next task to run: the highest-priority class
// with any runnable task, taken from the head of its ring (the task
// that has waited longest within the class).
func (s *Scheduler) Schedule() (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p := numPriorities - 1; p >= 0; p-- {
		if id, ok := s.ready[p].pop(); ok {
			return s.tasks[id], true
		}
	}
	return nil, false
}

// Yield returns a runnable task to the tail of its own priority ring
// without blocking it - the cooperative half of the scheduling model.
func (s *Scheduler) Yield(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Blocked {
		return
	}
	s.ready[t.Priority].remove(id)
	s.ready[t.Priority].push(id)
}

// Die tears down a task: removes it from every queue and the task
// table. It does not free the task's address space or kernel stack -
// those are owned by vasm and the caller respectively, per ยง3's
// lifecycle description ("its address space tables, kernel stack, and
// AMC service are torn down" by the caller orchestrating destruction,
// not by sched itself).
func (s *Scheduler) Die(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.dead = true
	s.ready[t.Priority].remove(id)
	removeInt(&s.sleepers, id)
	delete(s.tasks, id)
}

// Lookup returns a task by id.
func (s *Scheduler) Lookup(id int) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// HasService reports whether any live task owns the named AMC
// service, and returns its task id.
func (s *Scheduler) HasService(name string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.Service == name {
			return id, true
		}
	}
	return 0, false
}
