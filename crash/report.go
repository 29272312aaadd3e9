// Package crash implements the Crash/Assert core (spec.md ยง4.F):
// register capture, frame-pointer symbolication, and bounded report
// composition, routed to a user-space crash reporter over AMC unless
// the dying service is one the reporter itself depends on.
//
// The report's exact section order (cause of death, then registers,
// then stack trace) and the exempt-service set are ported from
// kernel/assert.c's task_build_and_send_crash_report_then_exit and
// _can_send_crash_report. Report buffering uses circbuf.Circbuf_t -
// the same bounded-ring discipline the teacher kernel uses for log
// buffering - rather than an unbounded string builder, since a report
// composed while the kernel is in a known-bad state must never
// allocate without limit.
package crash

import (
	"fmt"

	"github.com/codyd51/axle-sub002/circbuf"
)

// MaxReportBytes bounds the composed report text, mirroring the 2048-
// byte stack buffer assert.c builds reports into.
const MaxReportBytes = 2048

// MaxBacktraceFrames bounds how many stack frames Symbolicate walks,
// matching assert.c's _BACKTRACE_SIZE.
const MaxBacktraceFrames = 16

// Report accumulates bounded report text. The zero value is not
// usable; construct with NewReport.
type Report struct {
	buf circbuf.Circbuf_t
}

// NewReport returns an empty report with MaxReportBytes of capacity.
func NewReport() *Report {
	r := &Report{}
	r.buf.Init(MaxReportBytes)
	return r
}

// Writef appends formatted text to the report, silently truncating at
// capacity rather than growing or erroring - the same "best effort,
// never allocate further" contract as assert.c's append().
func (r *Report) Writef(format string, args ...interface{}) {
	r.buf.Write([]byte(fmt.Sprintf(format, args...)))
}

// String returns the report text composed so far.
func (r *Report) String() string {
	return string(r.buf.Bytes())
}
