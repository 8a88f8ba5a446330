// Package agent runs the conversation loop: it streams one provider call,
// executes the tool invocations the model requested, feeds the results back,
// and repeats until the model stops asking for tools. Progress is reported as
// stream events on a channel; the stream driver owns rendering.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/batalabs/qoze/internal/domain"
	"github.com/batalabs/qoze/internal/provider"
	"github.com/batalabs/qoze/internal/stream"
	"github.com/batalabs/qoze/internal/tools"
)

// LoopLimit is the maximum number of provider calls per submitted turn.
// Generous enough for long tool-heavy refactors; a model stuck re-invoking
// the same tool hits it instead of burning tokens forever.
const LoopLimit = 60

// Store is the slice of persistence the engine needs. Nil store means an
// ephemeral session: the loop runs identically, nothing is written.
type Store interface {
	AppendMessage(sessionID string, m domain.TranscriptMessage, tokens int) error
	UpdateSessionTokens(sessionID string, inputTokens, outputTokens int) error
}

// SkillSource extends the tool-facing skill manager with the system-prompt
// payload of the currently activated skills.
type SkillSource interface {
	tools.SkillManager
	ActiveContent() string
}

// MCPSource extends the tool-facing MCP caller with spec discovery, so
// connected server tools can be offered to the model.
type MCPSource interface {
	tools.MCPManager
	ToolSpecs() []provider.ToolSpec
}

// Config carries everything the engine depends on. All collaborators are
// injected; the zero value of each optional field disables that concern.
type Config struct {
	APIKey   string
	ModelID  string
	Provider provider.Provider

	Store   Store
	Session *domain.Session
	History []domain.TranscriptMessage

	Cwd            string
	Disabled       map[string]bool
	CommandTimeout int
	TavilyAPIKey   string

	Skills  SkillSource
	MCP     MCPSource
	AskUser func(question string) (string, error)

	Log *logrus.Logger
}

// Engine drives the agent loop for one session. One turn runs at a time;
// Submit rejects overlapping calls.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	messages []domain.TranscriptMessage

	inputTokens  int
	outputTokens int

	running bool
	log     *logrus.Logger
}

// NewEngine builds an engine over the given collaborators. Prior history (for
// resumed sessions) is taken from cfg.History; token counters seed from the
// session record so resumed sessions keep counting where they left off.
func NewEngine(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}
	e := &Engine{
		cfg:      cfg,
		messages: append([]domain.TranscriptMessage(nil), cfg.History...),
		log:      log,
	}
	if cfg.Session != nil {
		e.inputTokens = cfg.Session.InputTokens
		e.outputTokens = cfg.Session.OutputTokens
	}
	return e
}

// Messages returns a snapshot of the transcript.
func (e *Engine) Messages() []domain.TranscriptMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.TranscriptMessage, len(e.messages))
	copy(out, e.messages)
	return out
}

// Tokens returns the cumulative input and output token counts.
func (e *Engine) Tokens() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputTokens, e.outputTokens
}

// SetModel switches the model used for subsequent turns.
func (e *Engine) SetModel(modelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.ModelID = modelID
}

// SetProvider switches the backend and model used for subsequent turns.
func (e *Engine) SetProvider(p provider.Provider, apiKey, modelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Provider = p
	e.cfg.APIKey = apiKey
	e.cfg.ModelID = modelID
}

// Submit runs one full turn for the given user message. It returns
// immediately with the event channel the loop will emit on; the channel
// closes when the turn completes, errors out, or ctx is cancelled. The
// caller hands the channel to stream.Driver.Run.
func (e *Engine) Submit(ctx context.Context, userText string) <-chan stream.Event {
	events := make(chan stream.Event, 64)
	go func() {
		defer close(events)
		e.run(ctx, userText, events)
	}()
	return events
}

// emit delivers one event unless the turn is cancelled. Reports whether the
// loop should keep going.
func (e *Engine) emit(ctx context.Context, events chan<- stream.Event, ev stream.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) run(ctx context.Context, userText string, events chan<- stream.Event) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.emit(ctx, events, stream.Event{Kind: stream.KindError, Err: fmt.Errorf("a turn is already running")})
		return
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	userMsg := domain.TranscriptMessage{Role: "user", Content: userText}
	e.mu.Lock()
	e.messages = append(e.messages, userMsg)
	e.mu.Unlock()
	e.persist(userMsg, 0)

	cwd := e.cfg.Cwd
	if cwd == "" {
		cwd, _ = tools.Getwd()
	}

	for loopCount := 1; ; loopCount++ {
		if ctx.Err() != nil {
			return
		}
		if loopCount > LoopLimit {
			e.emit(ctx, events, stream.Event{
				Kind: stream.KindError,
				Err:  fmt.Errorf("agent loop limit exceeded (%d iterations)", LoopLimit),
			})
			return
		}

		e.mu.Lock()
		if repaired, changed := repairDanglingToolUse(e.messages); changed {
			e.messages = repaired
		}
		messages := make([]domain.TranscriptMessage, len(e.messages))
		copy(messages, e.messages)
		e.mu.Unlock()

		toolSpecs := tools.EnabledToolSpecs(e.cfg.Disabled)
		var mcpToolNames []string
		if e.cfg.MCP != nil {
			for _, spec := range e.cfg.MCP.ToolSpecs() {
				if e.cfg.Disabled[spec.Name] {
					continue
				}
				toolSpecs = append(toolSpecs, spec)
				mcpToolNames = append(mcpToolNames, spec.Name)
			}
		}

		activeSkills := ""
		if e.cfg.Skills != nil {
			activeSkills = e.cfg.Skills.ActiveContent()
		}
		system := buildSystemPrompt(cwd, mcpToolNames, activeSkills)

		cb := provider.StreamCallbacks{
			OnDelta: func(text string) {
				e.emit(ctx, events, stream.Event{Kind: stream.KindAssistantDelta, Text: text})
			},
			OnReasoning: func(text string) {
				e.emit(ctx, events, stream.Event{
					Kind:  stream.KindAssistantDelta,
					Extra: map[string]string{"reasoning_content": text},
				})
			},
		}

		blocks, stopReason, usage, err := e.callProviderWithRetry(ctx, messages, toolSpecs, system, cb)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.emit(ctx, events, stream.Event{Kind: stream.KindError, Err: err})
			errMsg := domain.TranscriptMessage{Role: "assistant", Content: "Error: " + err.Error()}
			e.mu.Lock()
			e.messages = append(e.messages, errMsg)
			e.mu.Unlock()
			e.persist(errMsg, 0)
			return
		}

		var asstMsg domain.TranscriptMessage
		if len(blocks) > 0 {
			asstMsg = domain.TranscriptMessage{Role: "assistant", Blocks: blocks}
			asstMsg.Content = asstMsg.TextContent()
		} else {
			asstMsg = domain.TranscriptMessage{Role: "assistant", Content: "I could not generate a text response."}
		}

		e.mu.Lock()
		e.inputTokens += usage.InputTokens
		e.outputTokens += usage.OutputTokens
		e.messages = append(e.messages, asstMsg)
		inTok, outTok := e.inputTokens, e.outputTokens
		e.mu.Unlock()

		e.persist(asstMsg, usage.OutputTokens)
		if e.cfg.Store != nil && e.cfg.Session != nil {
			if err := e.cfg.Store.UpdateSessionTokens(e.cfg.Session.ID, inTok, outTok); err != nil {
				e.log.WithError(err).Warn("update session tokens")
			}
		}

		toolUses := collectToolUses(blocks)
		if len(toolUses) > 0 {
			if !e.emit(ctx, events, stream.Event{
				Kind:      stream.KindAssistantDelta,
				ToolCalls: announceCalls(toolUses),
			}) {
				return
			}
		}
		if !e.emit(ctx, events, stream.Event{Kind: stream.KindAssistantDelta, FinishReason: stopReason}) {
			return
		}

		if stopReason != "tool_use" {
			return
		}

		results, ok := e.executeTools(ctx, events, toolUses, cwd)
		if !ok {
			return
		}

		toolMsg := domain.TranscriptMessage{Role: "user", Blocks: results}
		e.mu.Lock()
		e.messages = append(e.messages, toolMsg)
		e.mu.Unlock()
		e.persist(toolMsg, 0)
	}
}

// persist writes one transcript message if a store and session are wired.
// Persistence failures are logged and swallowed: the in-memory turn is the
// source of truth while the loop runs.
func (e *Engine) persist(m domain.TranscriptMessage, tokens int) {
	if e.cfg.Store == nil || e.cfg.Session == nil {
		return
	}
	if err := e.cfg.Store.AppendMessage(e.cfg.Session.ID, m, tokens); err != nil {
		e.log.WithError(err).Warn("persist message")
	}
}

// executeTools runs the requested tool calls and emits one result event per
// call. Calls run in parallel unless one of them needs the terminal (ask_user
// blocks on user input, so interleaving prompts would garble the exchange).
// Returns the tool_result blocks in request order and false if cancelled.
func (e *Engine) executeTools(ctx context.Context, events chan<- stream.Event, toolUses []domain.ContentBlock, cwd string) ([]domain.ContentBlock, bool) {
	tctx := &tools.ToolContext{
		Cwd:            cwd,
		Disabled:       e.cfg.Disabled,
		CommandTimeout: e.cfg.CommandTimeout,
		TavilyAPIKey:   e.cfg.TavilyAPIKey,
		Skills:         e.cfg.Skills,
		AskUser:        e.cfg.AskUser,
		MCP:            e.cfg.MCP,
	}

	sequential := false
	for _, b := range toolUses {
		if b.ToolName == "ask_user" {
			sequential = true
			break
		}
	}

	results := make([]domain.ContentBlock, len(toolUses))

	if sequential {
		for i, b := range toolUses {
			if ctx.Err() != nil {
				return nil, false
			}
			results[i] = e.runOneTool(ctx, events, b, tctx)
		}
		return results, true
	}

	var wg sync.WaitGroup
	for i, b := range toolUses {
		wg.Add(1)
		go func(idx int, block domain.ContentBlock) {
			defer wg.Done()
			results[idx] = e.runOneTool(ctx, events, block, tctx)
		}(i, b)
	}
	wg.Wait()
	return results, ctx.Err() == nil
}

// runOneTool executes a single call and emits its result event. Failures are
// returned in-band: the model sees the error text in the tool_result block,
// and the event copy carries the marker the display ledger keys on.
func (e *Engine) runOneTool(ctx context.Context, events chan<- stream.Event, block domain.ContentBlock, tctx *tools.ToolContext) domain.ContentBlock {
	result, err := tools.ExecuteToolCall(ctx, block.ToolName, block.ToolInput, tctx)
	isError := err != nil
	if isError {
		result = err.Error()
	}

	eventText := result
	if isError {
		eventText = "❌ " + result
	}
	e.emit(ctx, events, stream.Event{
		Kind:       stream.KindToolResult,
		ToolCallID: block.ToolUseID,
		ToolName:   block.ToolName,
		Text:       eventText,
	})

	return domain.ContentBlock{
		Type:       "tool_result",
		ToolUseID:  block.ToolUseID,
		ToolName:   block.ToolName,
		ToolResult: result,
		IsError:    isError,
	}
}

func collectToolUses(blocks []domain.ContentBlock) []domain.ContentBlock {
	var out []domain.ContentBlock
	for _, b := range blocks {
		if b.Type == "tool_use" {
			out = append(out, b)
		}
	}
	return out
}

func announceCalls(toolUses []domain.ContentBlock) []stream.ToolCall {
	calls := make([]stream.ToolCall, len(toolUses))
	for i, b := range toolUses {
		calls[i] = stream.ToolCall{ID: b.ToolUseID, Name: b.ToolName, Args: b.ToolInput}
	}
	return calls
}
