package crash

import (
	"strings"
	"testing"

	"github.com/codyd51/axle-sub002/defs"
	"github.com/codyd51/axle-sub002/sched"
)

func TestSymbolicateStopsAtKernelTrampolineBoundary(t *testing.T) {
	kernel := NewTable([]Symbol{
		{Name: "kernel_entry", Addr: 0x1000},
		{Name: AMCExecTrampoline, Addr: 0x2000},
		{Name: "past_trampoline", Addr: 0x3000},
	})
	task := NewTable(nil)

	addrs := []uintptr{0x1050, 0x2010, 0x3050}
	frames := Symbolicate(addrs, 0x1000, kernel, task)

	if len(frames) != 2 {
		t.Fatalf("expected walk to stop at trampoline, got %d frames: %+v", len(frames), frames)
	}
	if frames[0].Symbol != "kernel_entry" || frames[1].Symbol != AMCExecTrampoline {
		t.Fatalf("unexpected symbols: %+v", frames)
	}
}

func TestSymbolicateStopsAtUserStartBoundary(t *testing.T) {
	kernel := NewTable(nil)
	task := NewTable([]Symbol{
		{Name: "main", Addr: 0x400000},
		{Name: StartSymbol, Addr: 0x400100},
	})

	addrs := []uintptr{0x400050, 0x400110, 0x400200}
	frames := Symbolicate(addrs, 0x800000000000, kernel, task)

	if len(frames) != 2 {
		t.Fatalf("expected walk to stop at _start, got %d frames: %+v", len(frames), frames)
	}
	if frames[1].Symbol != StartSymbol {
		t.Fatalf("expected second frame to resolve to _start, got %+v", frames[1])
	}
}

func TestSymbolicateResolvesUnknownAddrToDash(t *testing.T) {
	kernel := NewTable([]Symbol{{Name: "k", Addr: 0x5000}})
	task := NewTable(nil)

	frames := Symbolicate([]uintptr{0x10}, 0x1000, kernel, task)
	if len(frames) != 1 || frames[0].Symbol != "-" {
		t.Fatalf("expected unresolved frame to read \"-\", got %+v", frames)
	}
}

func TestSymbolicateCapsAtMaxBacktraceFrames(t *testing.T) {
	kernel := NewTable([]Symbol{{Name: "k", Addr: 0}})
	task := NewTable(nil)

	addrs := make([]uintptr, MaxBacktraceFrames+5)
	for i := range addrs {
		addrs[i] = uintptr(i + 1)
	}
	frames := Symbolicate(addrs, 0, kernel, task)
	if len(frames) != MaxBacktraceFrames {
		t.Fatalf("expected cap at %d frames, got %d", MaxBacktraceFrames, len(frames))
	}
}

func TestComposeSectionOrder(t *testing.T) {
	regs := sched.RegisterFrame{RIP: 0x1234, RSP: 0x7fff0000}
	frames := []Frame{{Addr: 0x1234, Symbol: "boom"}}

	report := Compose("double fault", regs, frames, nil)

	causeIdx := strings.Index(report, "Cause of death:")
	regsIdx := strings.Index(report, "Registers:")
	traceIdx := strings.Index(report, "Stack trace:")

	if causeIdx < 0 || regsIdx < 0 || traceIdx < 0 {
		t.Fatalf("missing section in report:\n%s", report)
	}
	if !(causeIdx < regsIdx && regsIdx < traceIdx) {
		t.Fatalf("sections out of order, expected cause < registers < stack trace:\n%s", report)
	}
	if !strings.Contains(report, "double fault") {
		t.Fatalf("report missing cause text:\n%s", report)
	}
	if !strings.Contains(report, "boom") {
		t.Fatalf("report missing backtrace symbol:\n%s", report)
	}
}

func TestDisassembleFaultDecodesKnownInstruction(t *testing.T) {
	// 0x90 is NOP in every x86 mode.
	text, err := DisassembleFault([]byte{0x90}, 0x1000)
	if err != nil {
		t.Fatalf("DisassembleFault: %v", err)
	}
	if !strings.Contains(strings.ToLower(text), "nop") {
		t.Fatalf("expected decoded text to mention nop, got %q", text)
	}
}

func TestDisassembleFaultRejectsGarbage(t *testing.T) {
	if _, err := DisassembleFault(nil, 0); err == nil {
		t.Fatalf("expected an error decoding an empty instruction stream")
	}
}

func TestComposeIncludesDisassembledFaultingInstruction(t *testing.T) {
	regs := sched.RegisterFrame{RIP: 0x1000}
	report := Compose("invalid opcode", regs, nil, []byte{0x90})
	if !strings.Contains(strings.ToLower(report), "nop") {
		t.Fatalf("expected report to include disassembled instruction:\n%s", report)
	}
}

func TestComposeTruncatesAtMaxReportBytes(t *testing.T) {
	regs := sched.RegisterFrame{}
	var frames []Frame
	for i := 0; i < 200; i++ {
		frames = append(frames, Frame{Addr: uintptr(i), Symbol: "a_fairly_long_symbol_name_for_padding"})
	}

	report := Compose("overflow", regs, frames, nil)
	if len(report) > MaxReportBytes {
		t.Fatalf("report exceeded MaxReportBytes: got %d bytes", len(report))
	}
}

type fakePoster struct {
	posted string
	called bool
}

func (f *fakePoster) Post(report string) defs.Err_t {
	f.posted = report
	f.called = true
	return 0
}

func TestDispatchRoutesThroughAMCForOrdinaryService(t *testing.T) {
	p := &fakePoster{}
	ok := Dispatch("com.axle.nic", true, "report text", p)
	if !ok || !p.called {
		t.Fatalf("expected dispatch to post via AMC")
	}
	if p.posted != "report text" {
		t.Fatalf("poster received wrong report: %q", p.posted)
	}
}

func TestDispatchFallsBackForExemptServices(t *testing.T) {
	for name := range ReportExemptServices {
		p := &fakePoster{}
		ok := Dispatch(name, true, "report text", p)
		if ok || p.called {
			t.Fatalf("expected %s to fall back to emergency banner, not post via AMC", name)
		}
	}
}

func TestDispatchFallsBackWhenReporterUnknown(t *testing.T) {
	p := &fakePoster{}
	ok := Dispatch("com.axle.nic", false, "report text", p)
	if ok || p.called {
		t.Fatalf("expected dispatch to fall back when reporter service isn't registered yet")
	}
}
