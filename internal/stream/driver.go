package stream

import (
	"context"
	"fmt"

	"github.com/batalabs/qoze/internal/domain"
)

// Driver consumes one turn's event stream and reconciles it onto a Sink. It
// owns the classifier, ledger, accumulator, and scheduler for the turn; the
// producer (the agent engine) runs on its own goroutine and communicates
// only through the event channel.
type Driver struct {
	sink   Sink
	sched  *Scheduler
	acc    *Accumulator
	ledger *Ledger
}

// NewDriver builds a driver over the given sink.
func NewDriver(sink Sink) *Driver {
	return &Driver{
		sink:   sink,
		sched:  NewScheduler(sink),
		acc:    &Accumulator{},
		ledger: &Ledger{},
	}
}

// Run drains events until the channel closes, the producer reports an error,
// or ctx is cancelled. On normal completion it appends the assistant's
// transcript entry to conv and returns nil; the conversation's llm_calls
// counter increments only when the turn produced answer or reasoning text,
// so tool-only turns leave it untouched. A producer error is rendered as a
// permanent error line and Run still returns nil: the turn completed, just
// badly. Cancellation skips the transcript entry and returns ctx.Err().
func (d *Driver) Run(ctx context.Context, events <-chan Event, conv *domain.Conversation) error {
	defer d.cleanup()
	d.acc.Reset()
	d.ledger.Reset()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				d.finish(conv)
				return nil
			}
			c := Classify(ev)
			if c.Err != nil {
				d.fail(c.Err)
				return nil
			}
			d.apply(c)
		}
	}
}

// apply dispatches one classification. Order matters: reasoning lands before
// announcements, announcements flush before the tool panel appears, answer
// text after an announcement starts a fresh pending buffer, and a tool result
// flushes once more so interleaved text precedes the resolved line.
func (d *Driver) apply(c Classification) {
	if c.Reasoning != "" {
		d.acc.AddReasoning(c.Reasoning)
		d.sink.ShowLive()
		d.sched.MaybeRedraw(d.acc)
	}

	if len(c.Announce) > 0 {
		d.flush()
		d.sink.HideLive()
		for _, call := range c.Announce {
			d.ledger.Announce(call)
			d.sink.WriteLine(AnnounceLine(call), StyleTool)
		}
		d.sink.ShowToolStatus()
		d.sched.RedrawTools(d.ledger)
		d.sched.StartSpinner(d.ledger)
	}

	if c.Text != "" {
		d.acc.AddAnswer(c.Text)
		d.sink.ShowLive()
		d.sched.MaybeRedraw(d.acc)
	}

	if c.ToolResult != nil {
		d.flush()
		if res, ok := d.ledger.Resolve(c.ToolResult.CallID, c.ToolResult.Content); ok {
			d.sink.WriteLine(ResolvedLine(res), StyleTool)
		}
		d.sched.RedrawTools(d.ledger)
		if d.ledger.RunningCount() == 0 {
			d.sched.StopSpinner()
			d.sink.HideToolStatus()
		}
		d.sink.ShowLive()
	}

	if c.EndOfTurn {
		d.flush()
	}
}

// flush moves pending text to permanent lines. The unconditional redraw
// first guarantees the live panel showed the full pending text at least
// once, regardless of where the throttle clock stands.
func (d *Driver) flush() {
	if !d.acc.HasPending() {
		return
	}
	d.sched.Redraw(d.acc)
	reasoning, answer := d.acc.Flush()
	if reasoning != "" {
		d.sink.WriteLine(reasoning, StyleReasoning)
	}
	if answer != "" {
		d.sink.WriteLine(answer, StyleAnswer)
	}
	d.sink.UpdateLive("", "")
}

// finish runs on clean channel close: flush the tail, then record the turn.
func (d *Driver) finish(conv *domain.Conversation) {
	d.flush()
	reasoning, answer := d.acc.Total()
	if conv == nil {
		return
	}
	conv.Append(domain.TranscriptMessage{
		Role:      "assistant",
		Content:   answer,
		Reasoning: reasoning,
	})
	if answer != "" || reasoning != "" {
		conv.LLMCalls++
	}
}

// fail renders a producer error as permanent output. Partial text already
// streamed is flushed first so it is not lost with the turn.
func (d *Driver) fail(err error) {
	d.flush()
	d.sink.WriteLine(fmt.Sprintf("Error: %v", err), StyleError)
	if hint := RateLimitHint(err.Error()); hint != "" {
		d.sink.WriteLine(hint, StyleError)
	}
}

// cleanup tears down transient UI state however the turn ended.
func (d *Driver) cleanup() {
	d.sched.StopSpinner()
	d.sink.HideLive()
	d.sink.HideToolStatus()
	d.sink.ScrollEnd()
}
