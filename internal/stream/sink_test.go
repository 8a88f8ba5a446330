package stream

import (
	"strings"
	"sync"
)

// recordSink captures every sink call for assertions. The spinner goroutine
// calls into it concurrently with the driver, hence the mutex.
type recordSink struct {
	mu sync.Mutex

	lines     []styledLine
	liveCalls []livePanel
	toolCalls []string

	liveShown bool
	toolShown bool
}

type styledLine struct {
	text  string
	style Style
}

type livePanel struct {
	reasoning string
	answer    string
}

func (s *recordSink) WriteLine(text string, style Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, styledLine{text, style})
}

func (s *recordSink) UpdateLive(reasoning, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveCalls = append(s.liveCalls, livePanel{reasoning, answer})
}

func (s *recordSink) ShowLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveShown = true
}

func (s *recordSink) HideLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveShown = false
}

func (s *recordSink) UpdateToolStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls = append(s.toolCalls, status)
}

func (s *recordSink) ShowToolStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolShown = true
}

func (s *recordSink) HideToolStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolShown = false
}

func (s *recordSink) ScrollEnd() {}

func (s *recordSink) linesWithStyle(style Style) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.lines {
		if l.style == style {
			out = append(out, l.text)
		}
	}
	return out
}

func (s *recordSink) allLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.text
	}
	return out
}

func (s *recordSink) transcript() string {
	return strings.Join(s.allLines(), "\n")
}

func (s *recordSink) toolStatusCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.toolCalls)
}

func (s *recordSink) lastToolStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.toolCalls) == 0 {
		return ""
	}
	return s.toolCalls[len(s.toolCalls)-1]
}
