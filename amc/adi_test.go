package amc

import (
	"testing"

	"github.com/codyd51/axle-sub002/irq"
	"github.com/codyd51/axle-sub002/sched"
)

func TestRegisterDriverRejectsUnknownService(t *testing.T) {
	s := sched.New()
	c := New(s)
	if err := c.RegisterDriver("com.axle.nic", irq.Vector(33)); err == 0 {
		t.Fatalf("expected UnknownService for an unregistered service name")
	}
}

func TestEventAwaitAndFireInterruptRoundTrip(t *testing.T) {
	s := sched.New()
	c := New(s)
	task, _ := registerTask(t, c, s, "com.axle.nic")

	vector := irq.Vector(33)
	if err := c.RegisterDriver("com.axle.nic", vector); err != 0 {
		t.Fatalf("RegisterDriver: %v", err)
	}

	if _, ready := c.EventAwait(vector); ready {
		t.Fatalf("expected no pending interrupt before FireInterrupt")
	}

	s.Block(task.ID, sched.AwaitInterrupt, 0, "com.axle.nic")
	c.FireInterrupt(s, vector)

	got, _ := s.Lookup(task.ID)
	if got.Blocked {
		t.Fatalf("expected FireInterrupt to unblock the waiting driver task")
	}

	n, ready := c.EventAwait(vector)
	if !ready || n != 1 {
		t.Fatalf("expected EventAwait to see the fired interrupt, got n=%d ready=%v", n, ready)
	}
}
