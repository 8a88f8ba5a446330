package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/batalabs/qoze/internal/agent"
	"github.com/batalabs/qoze/internal/config"
	"github.com/batalabs/qoze/internal/domain"
	"github.com/batalabs/qoze/internal/provider"
	"github.com/batalabs/qoze/internal/store"
	"github.com/batalabs/qoze/internal/stream"
	"github.com/batalabs/qoze/internal/tools"
)

// historyBatchMsg carries rendered lines for a resumed session.
type historyBatchMsg struct{ lines []string }

// Options configures the initial model.
type Options struct {
	Version  string
	ModelID  string
	Engine   *agent.Engine
	Store    *store.Store
	Session  *domain.Session
	Resuming bool
	Skills   tools.SkillManager
	Prefs    config.Preferences

	// NewEngine rebuilds the engine when /new starts a fresh session.
	NewEngine func(sess *domain.Session, history []domain.TranscriptMessage) *agent.Engine
}

// Model is the bubbletea model for the interactive chat surface. The
// permanent transcript goes to the terminal's native scrollback via
// tea.Println; the View renders only the transient parts: live streaming
// panel, tool status, input, footer.
type Model struct {
	width  int
	height int

	opts    Options
	engine  *agent.Engine
	session *domain.Session
	conv    *domain.Conversation

	input       string
	inputCursor int

	history      []string
	historyIdx   int
	historyDraft string

	thinking bool
	cancel   context.CancelFunc

	liveShown     bool
	liveReasoning string
	liveAnswer    string

	toolShown  bool
	toolStatus string

	pendingAsk  bool
	askQuestion string
	askResp     chan<- string

	inputTokens  int
	outputTokens int

	spinner spinner.Model
}

// NewModel creates the initial bubbletea model.
func NewModel(opts Options) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	m := Model{
		opts:       opts,
		engine:     opts.Engine,
		session:    opts.Session,
		conv:       &domain.Conversation{},
		historyIdx: -1,
		spinner:    sp,
	}
	if opts.Session != nil {
		m.inputTokens = opts.Session.InputTokens
		m.outputTokens = opts.Session.OutputTokens
	}
	return m
}

// Init starts the spinner and, when resuming, replays persisted history.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if !m.opts.Resuming {
		cmds = append(cmds, PrintToScrollback(WelcomeStyle.Render("Welcome to qoze. Ask away.")))
	} else if m.opts.Store != nil && m.session != nil {
		cmds = append(cmds, m.loadSessionHistory())
	}
	return tea.Batch(cmds...)
}

// loadSessionHistory replays persisted messages into the scrollback.
func (m Model) loadSessionHistory() tea.Cmd {
	st := m.opts.Store
	sessionID := m.session.ID
	return func() tea.Msg {
		msgs, err := st.GetMessages(sessionID)
		if err != nil || len(msgs) == 0 {
			return historyBatchMsg{lines: []string{WelcomeStyle.Render("Welcome to qoze. Ask away.")}}
		}
		lines := []string{WelcomeStyle.Render(fmt.Sprintf("Resumed: %s  (%d messages)", st.SessionTitle(sessionID), len(msgs)))}
		for _, msg := range msgs {
			if msg.Role == "system" {
				continue
			}
			lines = append(lines, FormatBlockMessage(msg, 80))
		}
		return historyBatchMsg{lines: lines}
	}
}

// Update handles bubbletea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.thinking {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case historyBatchMsg:
		var cmds []tea.Cmd
		for _, l := range msg.lines {
			cmds = append(cmds, PrintToScrollback(l))
		}
		return m, tea.Sequence(cmds...)

	case SinkLineMsg:
		return m, PrintToScrollback(m.renderSinkLine(msg))

	case SinkLiveMsg:
		m.liveReasoning = msg.Reasoning
		m.liveAnswer = msg.Answer
		return m, nil

	case SinkLiveVisibleMsg:
		m.liveShown = msg.Visible
		if !msg.Visible {
			m.liveReasoning = ""
			m.liveAnswer = ""
		}
		return m, nil

	case SinkToolStatusMsg:
		m.toolStatus = msg.Status
		return m, nil

	case SinkToolVisibleMsg:
		m.toolShown = msg.Visible
		if !msg.Visible {
			m.toolStatus = ""
		}
		return m, nil

	case AskUserMsg:
		m.pendingAsk = true
		m.askQuestion = msg.Question
		m.askResp = msg.Resp
		return m, PrintToScrollback(ThinkingStyle.Render("? " + msg.Question))

	case TurnDoneMsg:
		m.thinking = false
		m.cancel = nil
		m.pendingAsk = false
		if m.engine != nil {
			m.inputTokens, m.outputTokens = m.engine.Tokens()
		}
		return m, nil

	default:
		return m, nil
	}
}

// renderSinkLine converts one driver line into styled scrollback text.
func (m Model) renderSinkLine(msg SinkLineMsg) string {
	width := m.width
	if width < 20 {
		width = 80
	}
	switch msg.Style {
	case stream.StyleAnswer:
		return FormatMessage(domain.TranscriptMessage{Role: "assistant", Content: msg.Text}, width)
	case stream.StyleReasoning:
		var b strings.Builder
		for i, l := range WrapWords(msg.Text, width-4) {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(ReasoningDim.Render("  " + l))
		}
		return b.String()
	case stream.StyleTool:
		return ToolInputStyle.Render(msg.Text)
	case stream.StyleError:
		return m.renderError(msg.Text)
	default:
		return msg.Text
	}
}

// View renders the transient surface below the scrollback.
func (m Model) View() string {
	var b strings.Builder

	availWidth := m.width - 2
	if availWidth < 10 {
		availWidth = 10
	}

	if m.pendingAsk {
		b.WriteString(ThinkingStyle.Render("Waiting for your answer: "+m.askQuestion) + "\n\n")
	}

	if m.liveShown && (m.liveReasoning != "" || m.liveAnswer != "") {
		if m.liveReasoning != "" {
			for _, l := range WrapWords(m.liveReasoning, availWidth-2) {
				b.WriteString(ReasoningDim.Render("  "+l) + "\n")
			}
		}
		if m.liveAnswer != "" {
			for _, l := range RenderAssistantLines(m.liveAnswer, availWidth-2) {
				b.WriteString("  " + l + "\n")
			}
		}
		b.WriteString("\n")
	}

	if m.thinking {
		status := "Thinking..."
		if m.toolShown && m.toolStatus != "" {
			status = m.toolStatus
		}
		b.WriteString(ThinkingStyle.Render(m.spinner.View()+" ") + status + "\n\n")
	}

	// Multi-line input with inline cursor and hard wrapping.
	first := true
	for _, line := range strings.Split(withInlineCursor(m.input, m.inputCursor), "\n") {
		for _, wl := range hardWrapLine(line, availWidth) {
			if first {
				b.WriteString(PromptStyle.Render("❯ ") + InputStyle.Render(wl))
				first = false
			} else {
				b.WriteString("\n" + PromptStyle.Render("  ") + InputStyle.Render(wl))
			}
		}
	}
	b.WriteString("\n\n")

	footerParts := []string{fmt.Sprintf("qoze %s", m.opts.Version)}
	if m.opts.ModelID != "" {
		footerParts = append(footerParts, m.opts.ModelID)
	}
	b.WriteString(FooterHead.Render(strings.Join(footerParts, " · ")))
	if m.opts.Prefs.FooterTokens {
		total := m.inputTokens + m.outputTokens
		b.WriteString("\n" + FooterTokens.Render(fmt.Sprintf("   session tokens: %.1fk", float64(total)/1000.0)))
	}
	if m.opts.Prefs.FooterSession && m.session != nil {
		label := m.session.ID[:8]
		if m.session.Title != "" && m.session.Title != "New Session" {
			label = m.session.Title
		}
		b.WriteString("\n" + FooterMeta.Render("   session: "+label))
	}
	b.WriteString("\n")
	return b.String()
}

// ---------------------------------------------------------------------------
// Key handling
// ---------------------------------------------------------------------------

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case tea.KeyEscape:
		if m.cancel != nil {
			m.cancel()
			return m, PrintToScrollback(FooterMeta.Render("Turn cancelled."))
		}
		return m, nil

	case tea.KeyEnter:
		trimmed := strings.TrimSpace(m.input)
		if trimmed == "" {
			return m, nil
		}
		if m.pendingAsk {
			return m.answerAsk(trimmed)
		}
		if m.thinking {
			return m, nil
		}
		m.pushHistory(m.input)
		m.setInput("")
		if strings.HasPrefix(trimmed, "/") {
			return m.handleSlashCommand(trimmed)
		}
		return m.startTurn(trimmed)

	case tea.KeyCtrlJ:
		m.insertInputAtCursor("\n")
		return m, nil

	case tea.KeyBackspace:
		m.deleteInputBeforeCursor()
		return m, nil

	case tea.KeyDelete:
		m.deleteInputAtCursor()
		return m, nil

	case tea.KeyLeft:
		m.moveInputCursor(-1)
		return m, nil

	case tea.KeyRight:
		m.moveInputCursor(1)
		return m, nil

	case tea.KeyHome, tea.KeyCtrlA:
		m.inputCursor = 0
		return m, nil

	case tea.KeyEnd, tea.KeyCtrlE:
		m.inputCursor = len([]rune(m.input))
		return m, nil

	case tea.KeyUp:
		m.browseHistoryBack()
		return m, nil

	case tea.KeyDown:
		m.browseHistoryForward()
		return m, nil

	case tea.KeySpace:
		m.insertInputAtCursor(" ")
		return m, nil

	case tea.KeyRunes:
		m.insertInputAtCursor(string(msg.Runes))
		return m, nil
	}
	return m, nil
}

// answerAsk delivers the user's reply to the blocked ask_user tool.
func (m Model) answerAsk(text string) (tea.Model, tea.Cmd) {
	resp := m.askResp
	m.pendingAsk = false
	m.askQuestion = ""
	m.askResp = nil
	m.setInput("")
	if resp != nil {
		resp <- text
	}
	return m, PrintToScrollback(FormatMessage(domain.TranscriptMessage{Role: "user", Content: text}, max(m.width, 40)))
}

// startTurn echoes the user message and launches the engine/driver pair.
func (m Model) startTurn(text string) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.thinking = true

	eng := m.engine
	conv := m.conv
	echo := PrintToScrollback(FormatMessage(domain.TranscriptMessage{Role: "user", Content: text}, max(m.width, 40)))

	run := func() tea.Msg {
		events := eng.Submit(ctx, text)
		driver := stream.NewDriver(NewSink(programSend))
		err := driver.Run(ctx, events, conv)
		return TurnDoneMsg{Err: err}
	}
	return m, tea.Batch(echo, run)
}

// ---------------------------------------------------------------------------
// Slash commands
// ---------------------------------------------------------------------------

func (m Model) handleSlashCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return m, tea.Quit

	case "/help":
		return m, PrintToScrollback(FooterMeta.Render(helpText()))

	case "/new":
		return m.handleNewSession()

	case "/model":
		return m.handleModelCommand(args)

	case "/skills":
		return m, PrintToScrollback(m.renderSkills())

	default:
		return m, PrintToScrollback(m.renderError(fmt.Sprintf("Unknown command %s. Try /help.", cmd)))
	}
}

func helpText() string {
	return strings.Join([]string{
		"Commands:",
		"  /model <provider/model>  switch model",
		"  /skills                  list available skills",
		"  /new                     start a fresh session",
		"  /help                    show this help",
		"  /quit                    exit",
		"Keys: enter submits, ctrl+j inserts a newline, esc cancels a running turn, up/down browse input history.",
	}, "\n")
}

func (m Model) handleNewSession() (tea.Model, tea.Cmd) {
	if m.thinking {
		return m, PrintToScrollback(m.renderError("Cannot start a new session while a turn is running."))
	}
	if m.opts.Store == nil || m.opts.NewEngine == nil {
		return m, PrintToScrollback(m.renderError("Session persistence is not available."))
	}
	sess, err := m.opts.Store.CreateSession(MustGetwd(), m.opts.ModelID)
	if err != nil {
		return m, PrintToScrollback(m.renderError("Failed to create session: " + err.Error()))
	}
	m.session = sess
	m.engine = m.opts.NewEngine(sess, nil)
	m.conv = &domain.Conversation{}
	m.inputTokens = 0
	m.outputTokens = 0
	return m, PrintToScrollback(WelcomeStyle.Render("Started a new session."))
}

func (m Model) handleModelCommand(args []string) (tea.Model, tea.Cmd) {
	if len(args) == 0 {
		return m, PrintToScrollback(FooterMeta.Render("Current model: " + m.opts.ModelID))
	}
	provName, modelID := provider.ResolveProviderAndModel(args[0], m.opts.Prefs.Provider)
	prov, err := provider.GetProvider(provName)
	if err != nil {
		return m, PrintToScrollback(m.renderError(err.Error()))
	}
	apiKey, err := config.LoadProviderAPIKey(m.opts.Prefs, provName)
	if err != nil {
		return m, PrintToScrollback(m.renderError(err.Error()))
	}
	m.engine.SetProvider(prov, apiKey, modelID)
	m.opts.ModelID = modelID
	return m, PrintToScrollback(WelcomeStyle.Render(fmt.Sprintf("Switched to %s/%s.", provName, modelID)))
}

func (m Model) renderSkills() string {
	if m.opts.Skills == nil {
		return FooterMeta.Render("No skills are available.")
	}
	briefs := m.opts.Skills.Describe()
	if len(briefs) == 0 {
		return FooterMeta.Render("No skills are available.")
	}
	var b strings.Builder
	b.WriteString(HeadingStyle.Render("Skills"))
	for _, s := range briefs {
		marker := "  "
		if s.Active {
			marker = "* "
		}
		b.WriteString("\n" + marker + ToolNameStyle.Render(s.Name) + " " + FooterMeta.Render(s.Description))
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Input editing
// ---------------------------------------------------------------------------

func (m *Model) setInput(s string) {
	m.input = s
	m.inputCursor = len([]rune(s))
}

func (m *Model) moveInputCursor(delta int) {
	limit := len([]rune(m.input))
	m.inputCursor += delta
	if m.inputCursor < 0 {
		m.inputCursor = 0
	}
	if m.inputCursor > limit {
		m.inputCursor = limit
	}
}

func (m *Model) insertInputAtCursor(s string) {
	if s == "" {
		return
	}
	r := []rune(m.input)
	if m.inputCursor < 0 {
		m.inputCursor = 0
	}
	if m.inputCursor > len(r) {
		m.inputCursor = len(r)
	}
	ins := []rune(s)
	out := make([]rune, 0, len(r)+len(ins))
	out = append(out, r[:m.inputCursor]...)
	out = append(out, ins...)
	out = append(out, r[m.inputCursor:]...)
	m.input = string(out)
	m.inputCursor += len(ins)
}

func (m *Model) deleteInputBeforeCursor() bool {
	r := []rune(m.input)
	if len(r) == 0 || m.inputCursor <= 0 {
		return false
	}
	if m.inputCursor > len(r) {
		m.inputCursor = len(r)
	}
	out := make([]rune, 0, len(r)-1)
	out = append(out, r[:m.inputCursor-1]...)
	out = append(out, r[m.inputCursor:]...)
	m.input = string(out)
	m.inputCursor--
	return true
}

func (m *Model) deleteInputAtCursor() bool {
	r := []rune(m.input)
	if len(r) == 0 || m.inputCursor < 0 || m.inputCursor >= len(r) {
		return false
	}
	out := make([]rune, 0, len(r)-1)
	out = append(out, r[:m.inputCursor]...)
	out = append(out, r[m.inputCursor+1:]...)
	m.input = string(out)
	return true
}

// ---------------------------------------------------------------------------
// Input history
// ---------------------------------------------------------------------------

func (m *Model) pushHistory(s string) {
	if strings.TrimSpace(s) == "" {
		return
	}
	m.history = append(m.history, s)
	m.historyIdx = -1
	m.historyDraft = ""
}

func (m *Model) browseHistoryBack() {
	if len(m.history) == 0 {
		return
	}
	if m.historyIdx == -1 {
		m.historyDraft = m.input
		m.historyIdx = len(m.history) - 1
	} else if m.historyIdx > 0 {
		m.historyIdx--
	}
	m.setInput(m.history[m.historyIdx])
}

func (m *Model) browseHistoryForward() {
	if m.historyIdx == -1 {
		return
	}
	if m.historyIdx < len(m.history)-1 {
		m.historyIdx++
		m.setInput(m.history[m.historyIdx])
		return
	}
	m.historyIdx = -1
	m.setInput(m.historyDraft)
	m.historyDraft = ""
}

// ---------------------------------------------------------------------------
// Rendering helpers
// ---------------------------------------------------------------------------

func withInlineCursor(input string, cursor int) string {
	r := []rune(input)
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(r) {
		cursor = len(r)
	}
	with := make([]rune, 0, len(r)+1)
	with = append(with, r[:cursor]...)
	with = append(with, '█')
	with = append(with, r[cursor:]...)
	return string(with)
}

func hardWrapLine(line string, width int) []string {
	if width < 1 {
		width = 1
	}
	runes := []rune(line)
	if len(runes) <= width {
		return []string{line}
	}
	var lines []string
	for len(runes) > width {
		lines = append(lines, string(runes[:width]))
		runes = runes[width:]
	}
	lines = append(lines, string(runes))
	return lines
}

// renderError wraps an error message to the terminal width and styles it.
func (m Model) renderError(msg string) string {
	w := m.width
	if w < 20 {
		w = 80
	}
	var styled []string
	for _, l := range WrapWords(msg, w-2) {
		styled = append(styled, ErrorLineStyle.Render(l))
	}
	return strings.Join(styled, "\n")
}

// PrintToScrollback prints rendered text above the active bubbletea view,
// preserving native terminal scrollback.
func PrintToScrollback(text string) tea.Cmd {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return tea.Println(strings.TrimRight(text, "\n") + "\n")
}
