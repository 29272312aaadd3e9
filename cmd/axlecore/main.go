// Command axlecore is a host-side harness that wires the boot-info,
// PFA, VASM, scheduler, AMC, and crash singletons together the way the
// real kernel's entry point would (see gopher-os's kmain.Kmain, the
// teacher pack's closest analogue to a single "boot sequence in one
// place" function). It exists so a reader can see the whole startup
// order without a debugger attached, and so the PFA/VASM logic runs
// outside the unit tests as well.
//
// An anonymous mmap sizes the single usable RAM region handed to the
// PFA; only its length is used. Page-table and page contents live in
// vasm's in-process direct map, not in the mmap'd bytes.
package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/codyd51/axle-sub002/amc"
	"github.com/codyd51/axle-sub002/bootinfo"
	"github.com/codyd51/axle-sub002/crash"
	"github.com/codyd51/axle-sub002/defs"
	"github.com/codyd51/axle-sub002/pfa"
	"github.com/codyd51/axle-sub002/sched"
	"github.com/codyd51/axle-sub002/vasm"
)

// simulatedPhysMemBytes is the size of the anonymous mapping whose
// length becomes the usable RAM region.
const simulatedPhysMemBytes = 256 * 1024 * 1024

// ampPoster adapts an amc.Channel to crash.Poster by routing a
// composed report to the well-known crash-reporter service.
type ampPoster struct {
	channel *amc.Channel
	source  string
}

func (p ampPoster) Post(report string) defs.Err_t {
	return p.channel.Send(p.source, "com.axle.crash_reporter", []byte(report))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "axlecore:", err)
		os.Exit(1)
	}
}

func run() error {
	physMem, err := unix.Mmap(-1, 0, simulatedPhysMemBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("mmap simulated physical memory: %w", err)
	}
	defer unix.Munmap(physMem)

	base := uintptr(0)
	info := &bootinfo.Info{
		Framebuffer: bootinfo.Framebuffer{PhysBase: 0, Width: 1, Height: 1, BytesPerPixel: 4},
		Regions: []bootinfo.Region{
			{Type: bootinfo.RegionUsable, Addr: base, Len: uintptr(len(physMem))},
		},
		KernelImage: bootinfo.Range{Start: base, Size: defs.PageSize},
	}
	if err := info.Validate(); err != nil {
		return fmt.Errorf("invalid boot info: %w", err)
	}
	bootinfo.Set(info)
	pfa.Init(info)

	s := sched.New()
	c := amc.New(s)

	driverSpace, verr := vasm.New()
	if verr != 0 {
		return fmt.Errorf("vasm.New: %v", verr)
	}
	driverTask := s.Spawn("com.axle.realtek8139", sched.PriorityDriver, 0, 0)
	if _, err := c.Register(driverTask.ID, "com.axle.realtek8139", driverSpace); err != 0 {
		return fmt.Errorf("register driver service: %v", err)
	}

	reporterSpace, verr := vasm.New()
	if verr != 0 {
		return fmt.Errorf("vasm.New: %v", verr)
	}
	reporterTask := s.Spawn("com.axle.crash_reporter", sched.PriorityKernel, 0, 0)
	if _, err := c.Register(reporterTask.ID, "com.axle.crash_reporter", reporterSpace); err != 0 {
		return fmt.Errorf("register crash reporter: %v", err)
	}

	if err := c.Send("com.axle.realtek8139", "com.axle.crash_reporter", []byte("hello")); err != 0 {
		return fmt.Errorf("send: %v", err)
	}
	if env, ok := c.TryAwait("com.axle.crash_reporter", nil); ok {
		fmt.Printf("crash_reporter received %q from %q\n", env.Body, env.Source)
	}

	regs := sched.RegisterFrame{RIP: 0xdeadbeef}
	report := crash.Compose("simulated general protection fault", regs, nil, nil)
	poster := ampPoster{channel: c, source: "core"}
	if posted := crash.Dispatch("com.axle.realtek8139", true, report, poster); posted {
		if env, ok := c.TryAwait("com.axle.crash_reporter", []string{"core"}); ok {
			fmt.Printf("crash report delivered (%d bytes)\n", len(env.Body))
		}
	}

	return nil
}
