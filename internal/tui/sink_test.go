package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/batalabs/qoze/internal/stream"
)

func collectSink() (*Sink, *[]tea.Msg) {
	var got []tea.Msg
	s := NewSink(func(msg tea.Msg) { got = append(got, msg) })
	return s, &got
}

func TestSinkForwardsMessages(t *testing.T) {
	s, got := collectSink()

	s.WriteLine("hello", stream.StyleAnswer)
	s.UpdateLive("why", "partial")
	s.ShowLive()
	s.HideLive()
	s.UpdateToolStatus("Running grep...")
	s.ShowToolStatus()
	s.HideToolStatus()
	s.ScrollEnd()

	msgs := *got
	if len(msgs) != 7 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if m, ok := msgs[0].(SinkLineMsg); !ok || m.Text != "hello" || m.Style != stream.StyleAnswer {
		t.Fatalf("msg 0 = %#v", msgs[0])
	}
	if m, ok := msgs[1].(SinkLiveMsg); !ok || m.Reasoning != "why" || m.Answer != "partial" {
		t.Fatalf("msg 1 = %#v", msgs[1])
	}
	if m, ok := msgs[2].(SinkLiveVisibleMsg); !ok || !m.Visible {
		t.Fatalf("msg 2 = %#v", msgs[2])
	}
	if m, ok := msgs[3].(SinkLiveVisibleMsg); !ok || m.Visible {
		t.Fatalf("msg 3 = %#v", msgs[3])
	}
	if m, ok := msgs[4].(SinkToolStatusMsg); !ok || m.Status != "Running grep..." {
		t.Fatalf("msg 4 = %#v", msgs[4])
	}
	if m, ok := msgs[5].(SinkToolVisibleMsg); !ok || !m.Visible {
		t.Fatalf("msg 5 = %#v", msgs[5])
	}
	if m, ok := msgs[6].(SinkToolVisibleMsg); !ok || m.Visible {
		t.Fatalf("msg 6 = %#v", msgs[6])
	}
}
