package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/batalabs/qoze/internal/stream"
)

// Sink message types. The driver and spinner goroutines call the sink; each
// call becomes a bubbletea message so all mutation happens in Update.

// SinkLineMsg appends one permanent line to the transcript scrollback.
type SinkLineMsg struct {
	Text  string
	Style stream.Style
}

// SinkLiveMsg replaces the live streaming panel contents.
type SinkLiveMsg struct {
	Reasoning string
	Answer    string
}

// SinkLiveVisibleMsg toggles the live panel.
type SinkLiveVisibleMsg struct{ Visible bool }

// SinkToolStatusMsg replaces the tool panel contents.
type SinkToolStatusMsg struct{ Status string }

// SinkToolVisibleMsg toggles the tool panel.
type SinkToolVisibleMsg struct{ Visible bool }

// TurnDoneMsg signals that the driver finished one turn.
type TurnDoneMsg struct{ Err error }

// AskUserMsg pauses the turn until the user answers; the tool goroutine
// blocks on Resp.
type AskUserMsg struct {
	Question string
	Resp     chan<- string
}

// Sink implements stream.Sink by posting messages to the bubbletea program.
type Sink struct {
	send func(tea.Msg)
}

// NewSink wraps a message-posting function, normally (*tea.Program).Send.
func NewSink(send func(tea.Msg)) *Sink {
	return &Sink{send: send}
}

func (s *Sink) WriteLine(text string, style stream.Style) {
	s.send(SinkLineMsg{Text: text, Style: style})
}

func (s *Sink) UpdateLive(reasoning, answer string) {
	s.send(SinkLiveMsg{Reasoning: reasoning, Answer: answer})
}

func (s *Sink) ShowLive() { s.send(SinkLiveVisibleMsg{Visible: true}) }
func (s *Sink) HideLive() { s.send(SinkLiveVisibleMsg{Visible: false}) }

func (s *Sink) UpdateToolStatus(status string) {
	s.send(SinkToolStatusMsg{Status: status})
}

func (s *Sink) ShowToolStatus() { s.send(SinkToolVisibleMsg{Visible: true}) }
func (s *Sink) HideToolStatus() { s.send(SinkToolVisibleMsg{Visible: false}) }

// ScrollEnd is a no-op: scrollback lives in the terminal's own buffer via
// tea.Println, which always appends at the bottom.
func (s *Sink) ScrollEnd() {}
