package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/batalabs/qoze/internal/stream"
)

var (
	reasoningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

// plainSink renders driver output to a plain writer. Transient status (live
// streaming, tool progress) is a single line rewritten in place with \r when
// the writer is a terminal, and suppressed otherwise.
type plainSink struct {
	mu       sync.Mutex
	out      io.Writer
	renderer *glamour.TermRenderer
	width    int
	isTTY    bool

	statusLen int
}

func newPlainSink(out io.Writer, width int, isTTY bool) *plainSink {
	if width < 40 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		r = nil
	}
	return &plainSink{out: out, renderer: r, width: width, isTTY: isTTY}
}

// clearStatus erases the transient status line. Caller holds mu.
func (s *plainSink) clearStatus() {
	if s.statusLen == 0 {
		return
	}
	fmt.Fprintf(s.out, "\r%s\r", strings.Repeat(" ", s.statusLen))
	s.statusLen = 0
}

// setStatus rewrites the transient status line in place. Caller holds mu.
func (s *plainSink) setStatus(text string) {
	if !s.isTTY {
		return
	}
	text = truncateToWidth(text, s.width-1)
	rendered := statusStyle.Render(text)
	pad := s.statusLen - lipgloss.Width(rendered)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(s.out, "\r%s%s", rendered, strings.Repeat(" ", pad))
	s.statusLen = lipgloss.Width(rendered) + pad
}

// truncateToWidth cuts text to maxWidth terminal columns on rune boundaries.
// The status line carries spinner frames and wide glyphs, so byte slicing
// would split runes and misjudge width.
func truncateToWidth(text string, maxWidth int) string {
	if maxWidth < 1 {
		return ""
	}
	if lipgloss.Width(text) <= maxWidth {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 && lipgloss.Width(string(runes)) > maxWidth {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}

func (s *plainSink) WriteLine(text string, style stream.Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearStatus()

	switch style {
	case stream.StyleAnswer:
		if s.renderer != nil {
			if md, err := s.renderer.Render(text); err == nil {
				fmt.Fprint(s.out, strings.TrimRight(md, "\n")+"\n\n")
				return
			}
		}
		fmt.Fprintln(s.out, text)
	case stream.StyleReasoning:
		for _, l := range strings.Split(text, "\n") {
			fmt.Fprintln(s.out, reasoningStyle.Render("  "+l))
		}
	case stream.StyleTool:
		fmt.Fprintln(s.out, toolStyle.Render(text))
	case stream.StyleError:
		fmt.Fprintln(s.out, errorStyle.Render(text))
	default:
		fmt.Fprintln(s.out, text)
	}
}

func (s *plainSink) UpdateLive(reasoning, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(reasoning) + len(answer)
	s.setStatus(fmt.Sprintf("thinking... (%d chars)", n))
}

func (s *plainSink) ShowLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatus("thinking...")
}

func (s *plainSink) HideLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearStatus()
}

func (s *plainSink) UpdateToolStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatus(status)
}

func (s *plainSink) ShowToolStatus() {}

func (s *plainSink) HideToolStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearStatus()
}

func (s *plainSink) ScrollEnd() {}
