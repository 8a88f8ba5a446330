package stream

import (
	"strings"
	"testing"
	"time"
)

// fakeClock lets tests step the throttle window manually.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestScheduler(sink Sink) (*Scheduler, *fakeClock) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	s := NewScheduler(sink)
	s.now = clk.now
	// Desynchronize from the zero lastRedraw value.
	clk.advance(time.Hour)
	return s, clk
}

func TestScheduler_throttleCoalesces(t *testing.T) {
	sink := &recordSink{}
	s, clk := newTestScheduler(sink)
	var acc Accumulator

	acc.AddAnswer("a")
	if !s.MaybeRedraw(&acc) {
		t.Fatal("first redraw suppressed")
	}
	acc.AddAnswer("b")
	clk.advance(50 * time.Millisecond)
	if s.MaybeRedraw(&acc) {
		t.Fatal("redraw inside throttle window")
	}
	clk.advance(60 * time.Millisecond)
	if !s.MaybeRedraw(&acc) {
		t.Fatal("redraw suppressed after window elapsed")
	}

	if len(sink.liveCalls) != 2 {
		t.Fatalf("live updates = %d, want 2", len(sink.liveCalls))
	}
	if sink.liveCalls[1].answer != "ab" {
		t.Fatalf("second redraw showed %q", sink.liveCalls[1].answer)
	}
}

func TestScheduler_redrawResetsThrottle(t *testing.T) {
	sink := &recordSink{}
	s, clk := newTestScheduler(sink)
	var acc Accumulator
	acc.AddAnswer("x")

	s.Redraw(&acc)
	clk.advance(10 * time.Millisecond)
	if s.MaybeRedraw(&acc) {
		t.Fatal("forced redraw did not reset the throttle clock")
	}
}

func TestScheduler_spinnerTicksWhileRunning(t *testing.T) {
	sink := &recordSink{}
	s := NewScheduler(sink)
	var l Ledger
	l.Announce(ToolCall{ID: "a", Name: "grep"})

	s.StartSpinner(&l)
	s.StartSpinner(&l) // second start is a no-op
	time.Sleep(350 * time.Millisecond)
	s.StopSpinner()
	s.StopSpinner() // idempotent

	n := sink.toolStatusCount()
	if n == 0 {
		t.Fatal("spinner never updated the tool panel")
	}
	time.Sleep(150 * time.Millisecond)
	if sink.toolStatusCount() != n {
		t.Fatal("spinner still ticking after stop")
	}
}

func TestScheduler_spinnerShowsElapsedClock(t *testing.T) {
	sink := &recordSink{}
	s := NewScheduler(sink)
	base := time.Unix(1000, 0)

	var l Ledger
	l.now = func() time.Time { return base }
	l.Announce(ToolCall{ID: "a", Name: "grep"})
	s.now = func() time.Time { return base.Add(65 * time.Second) }

	s.StartSpinner(&l)
	time.Sleep(150 * time.Millisecond)
	s.StopSpinner()

	status := sink.lastToolStatus()
	if !strings.Contains(status, "grep") {
		t.Fatalf("status = %q, missing tool name", status)
	}
	if !strings.HasSuffix(status, "01:05") {
		t.Fatalf("status = %q, missing elapsed clock", status)
	}
}

func TestScheduler_spinnerClockStopsWhenResolved(t *testing.T) {
	sink := &recordSink{}
	s := NewScheduler(sink)

	var l Ledger
	l.Announce(ToolCall{ID: "a", Name: "grep"})
	l.Resolve("a", "ok")

	s.StartSpinner(&l)
	time.Sleep(150 * time.Millisecond)
	s.StopSpinner()

	if status := sink.lastToolStatus(); strings.Contains(status, ":") {
		t.Fatalf("status = %q, clock shown with nothing running", status)
	}
}
