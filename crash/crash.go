package crash

import (
	"github.com/codyd51/axle-sub002/defs"
	"github.com/codyd51/axle-sub002/sched"
)

// ReportExemptServices are the services whose own crash can never be
// routed through the normal AMC crash-report path, because each is
// itself part of delivering that path to the user - ported verbatim
// from assert.c's _can_send_crash_report checks.
var ReportExemptServices = map[string]bool{
	"com.axle.file_server":    true,
	"com.axle.crash_reporter": true,
	"com.axle.awm":            true,
}

// AMCExecTrampoline and StartSymbol are the named boundary symbols
// Symbolicate stops walking at, matching
// AMC_EXEC_TRAMPOLINE_NAME_STR and "_start" in assert.c.
const (
	AMCExecTrampoline = "AMC_EXEC_TRAMPOLINE"
	StartSymbol       = "_start"
)

// Frame is one resolved stack frame: its return address and the
// symbol name it resolved to.
type Frame struct {
	Addr   uintptr
	Symbol string
}

// Symbolicate resolves each return address in addrs against kernel
// (for addresses at or above kernelBase) or the task's own table
// otherwise, stopping as soon as it resolves a boundary symbol or
// runs out of addresses - mirroring symbolicate_and_append's
// found_program_start early exit.
func Symbolicate(addrs []uintptr, kernelBase uintptr, kernel Table, task Table) []Frame {
	var out []Frame
	for _, addr := range addrs {
		if addr == 0 {
			break
		}
		var name string
		if addr >= kernelBase {
			name = kernel.Lookup(addr)
		} else {
			name = task.Lookup(addr)
		}
		out = append(out, Frame{Addr: addr, Symbol: name})
		if name == AMCExecTrampoline || name == StartSymbol {
			break
		}
		if len(out) >= MaxBacktraceFrames {
			break
		}
	}
	return out
}

// Compose builds the report text in assert.c's exact section order:
// cause of death, then registers, then stack trace. faultBytes, if
// non-nil, is the code at the faulting RIP and is disassembled into
// the cause-of-death section.
func Compose(cause string, regs sched.RegisterFrame, frames []Frame, faultBytes []byte) string {
	r := NewReport()
	r.Writef("Cause of death:\n%s\n", cause)
	if len(faultBytes) > 0 {
		if text, err := DisassembleFault(faultBytes, regs.RIP); err == nil {
			r.Writef("Faulting instruction: %s\n", text)
		}
	}

	r.Writef("\nRegisters:\n")
	r.Writef("rip 0x%x  rsp 0x%x\n", regs.RIP, regs.RSP)
	r.Writef("rax 0x%x  rbx 0x%x  rcx 0x%x  rdx 0x%x\n", regs.RAX, regs.RBX, regs.RCX, regs.RDX)
	r.Writef("rdi 0x%x  rsi 0x%x  rbp 0x%x\n", regs.RDI, regs.RSI, regs.RBP)
	r.Writef("r8  0x%x  r9  0x%x  r10 0x%x  r11 0x%x\n", regs.R8, regs.R9, regs.R10, regs.R11)
	r.Writef("r12 0x%x  r13 0x%x  r14 0x%x  r15 0x%x\n", regs.R12, regs.R13, regs.R14, regs.R15)

	r.Writef("\nStack trace:\n")
	for i, f := range frames {
		r.Writef("[%02d] 0x%x %s\n", i, f.Addr, f.Symbol)
	}

	return r.String()
}

// Poster delivers a composed report to the user-space crash reporter,
// the role amc.Send("com.axle.crash_reporter", ...) plays in the real
// core. It is an interface so tests can supply a fake without pulling
// in the full amc.Channel.
type Poster interface {
	Post(report string) defs.Err_t
}

// Dispatch decides how to deliver a crash report for the named dying
// service, per spec.md ยง4.F: route through AMC unless the dying
// service is itself reporter-exempt, in which case the caller must
// fall back to an in-kernel emergency banner and halt - Dispatch
// reports which path applies but never halts itself, since halting is
// a property of real hardware this module cannot exercise.
func Dispatch(dyingService string, reporterKnown bool, report string, poster Poster) (postedViaAMC bool) {
	if ReportExemptServices[dyingService] || !reporterKnown {
		return false
	}
	poster.Post(report)
	return true
}
