package stream

import "testing"

func TestAccumulator_flushConcatEqualsTotal(t *testing.T) {
	var a Accumulator
	var flushedR, flushedA string

	a.AddReasoning("think ")
	a.AddAnswer("part one ")
	r, ans := a.Flush()
	flushedR += r
	flushedA += ans

	a.AddReasoning("more")
	a.AddAnswer("part two")
	r, ans = a.Flush()
	flushedR += r
	flushedA += ans

	totalR, totalA := a.Total()
	if flushedR != totalR {
		t.Errorf("flushed reasoning %q != total %q", flushedR, totalR)
	}
	if flushedA != totalA {
		t.Errorf("flushed answer %q != total %q", flushedA, totalA)
	}
	if totalA != "part one part two" {
		t.Errorf("total answer = %q", totalA)
	}
}

func TestAccumulator_flushIdempotent(t *testing.T) {
	var a Accumulator
	a.AddAnswer("x")
	a.Flush()
	r, ans := a.Flush()
	if r != "" || ans != "" {
		t.Fatalf("second flush returned %q/%q, want empty", r, ans)
	}
}

func TestAccumulator_hasPending(t *testing.T) {
	var a Accumulator
	if a.HasPending() {
		t.Fatal("fresh accumulator reports pending")
	}
	a.AddReasoning("r")
	if !a.HasPending() {
		t.Fatal("reasoning alone should count as pending")
	}
	a.Flush()
	if a.HasPending() {
		t.Fatal("pending after flush")
	}
}

func TestAccumulator_reset(t *testing.T) {
	var a Accumulator
	a.AddAnswer("x")
	a.AddReasoning("y")
	a.Reset()
	r, ans := a.Total()
	if r != "" || ans != "" {
		t.Fatalf("reset left totals %q/%q", r, ans)
	}
}
