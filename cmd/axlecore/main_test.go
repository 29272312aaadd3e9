package main

import "testing"

func TestRunCompletesWithoutError(t *testing.T) {
	if err := run(); err != nil {
		t.Fatalf("run: %v", err)
	}
}
