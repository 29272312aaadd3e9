package stats

import (
	"io"

	"github.com/google/pprof/profile"
)

// WriteProfile emits a pprof-format profile of per-task cycle counts,
// one sample per entry in cycles (task name -> accumulated Cycles_t
// units), gated the same way Dump is: callers only bother building
// and writing this when Timing is enabled. This is the Go-ecosystem
// replacement for the teacher's own ad hoc Stats2String text dumper -
// wired in alongside Dump rather than instead of it, since Dump still
// serves the cheap human-readable case.
func WriteProfile(w io.Writer, cycles map[string]int64) error {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "cycles", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "cycles", Unit: "count"},
		Period:     1,
	}

	for i, name := range sortedKeys(cycles) {
		fn := &profile.Function{ID: uint64(i + 1), Name: name}
		loc := &profile.Location{ID: uint64(i + 1), Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{cycles[name]},
		})
	}

	return p.Write(w)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
