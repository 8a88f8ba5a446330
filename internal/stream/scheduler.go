package stream

import (
	"fmt"
	"time"
)

// Style tags a permanent output line so sinks can pick colors or markdown
// treatment without the scheduler knowing how either front end renders.
type Style int

const (
	StylePlain Style = iota
	StyleAnswer
	StyleReasoning
	StyleTool
	StyleError
)

// Sink is the display surface the scheduler drives. The TUI implements it on
// top of a bubbletea program; the plain CLI implements it on a terminal
// writer. Calls arrive from the driver goroutine plus the spinner goroutine,
// so implementations must tolerate concurrent use.
type Sink interface {
	// WriteLine appends a permanent line to the transcript surface.
	WriteLine(text string, style Style)

	// UpdateLive replaces the transient reasoning/answer panel contents.
	UpdateLive(reasoning, answer string)
	ShowLive()
	HideLive()

	// UpdateToolStatus replaces the transient tool panel contents.
	UpdateToolStatus(status string)
	ShowToolStatus()
	HideToolStatus()

	// ScrollEnd keeps the newest output visible after a redraw.
	ScrollEnd()
}

// redrawInterval caps live-panel refreshes; deltas arriving faster than this
// coalesce into one redraw.
const redrawInterval = 100 * time.Millisecond

// spinnerInterval is the tool-panel animation cadence.
const spinnerInterval = 100 * time.Millisecond

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Scheduler throttles live-panel updates and runs the spinner animation for
// the tool panel. One scheduler serves one turn at a time.
type Scheduler struct {
	sink     Sink
	interval time.Duration
	now      func() time.Time

	lastRedraw time.Time

	spinnerStop chan struct{}
	spinnerDone chan struct{}
}

// NewScheduler wraps sink with the standard redraw throttle.
func NewScheduler(sink Sink) *Scheduler {
	return &Scheduler{
		sink:     sink,
		interval: redrawInterval,
		now:      time.Now,
	}
}

// MaybeRedraw pushes the accumulator's pending text to the live panel if at
// least the throttle interval has passed since the last redraw. Returns
// whether a redraw happened.
func (s *Scheduler) MaybeRedraw(acc *Accumulator) bool {
	if s.now().Sub(s.lastRedraw) < s.interval {
		return false
	}
	s.Redraw(acc)
	return true
}

// Redraw pushes pending text to the live panel unconditionally and resets
// the throttle clock. The driver calls this before every flush so no tail
// of buffered text is ever dropped by the throttle.
func (s *Scheduler) Redraw(acc *Accumulator) {
	reasoning, answer := acc.Pending()
	s.sink.UpdateLive(reasoning, answer)
	s.sink.ScrollEnd()
	s.lastRedraw = s.now()
}

// RedrawTools pushes the ledger's status rendering to the tool panel.
func (s *Scheduler) RedrawTools(ledger *Ledger) {
	s.sink.UpdateToolStatus(ledger.StatusLine())
	s.sink.ScrollEnd()
}

// StartSpinner launches the tool-panel animation: every tick it re-renders
// the ledger with the next spinner frame and an elapsed clock counting from
// the oldest running entry. It is a no-op if a spinner is already running.
func (s *Scheduler) StartSpinner(ledger *Ledger) {
	if s.spinnerStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.spinnerStop = stop
	s.spinnerDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()
		frame := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				status := ledger.StatusLine()
				if since, ok := ledger.RunningSince(); ok {
					elapsed := int(s.now().Sub(since).Seconds())
					status += fmt.Sprintf(" %s %02d:%02d",
						spinnerFrames[frame%len(spinnerFrames)], elapsed/60, elapsed%60)
				}
				s.sink.UpdateToolStatus(status)
				frame++
			}
		}
	}()
}

// StopSpinner cancels the animation and waits for the goroutine to exit, so
// no stale frame lands after the panel is hidden. Safe to call when no
// spinner is running, and safe to call repeatedly.
func (s *Scheduler) StopSpinner() {
	if s.spinnerStop == nil {
		return
	}
	close(s.spinnerStop)
	<-s.spinnerDone
	s.spinnerStop = nil
	s.spinnerDone = nil
}
