package stats

import (
	"bytes"
	"testing"
)

func TestWriteProfileProducesNonEmptyOutput(t *testing.T) {
	var buf bytes.Buffer
	cycles := map[string]int64{
		"task.idle": 10,
		"task.init": 500,
	}
	if err := WriteProfile(&buf, cycles); err != nil {
		t.Fatalf("WriteProfile: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty profile bytes")
	}
}

func TestWriteProfileHandlesEmptyInput(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteProfile(&buf, nil); err != nil {
		t.Fatalf("WriteProfile: %v", err)
	}
}

func TestSortedKeysIsDeterministic(t *testing.T) {
	m := map[string]int64{"c": 1, "a": 2, "b": 3}
	got := sortedKeys(m)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sortedKeys = %v, want %v", got, want)
		}
	}
}
