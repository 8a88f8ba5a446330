package stream

import "strings"

// Accumulator collects reasoning and answer fragments for one turn. Each
// channel keeps two views: the pending buffer, holding text since the last
// flush boundary, and the total, holding everything since the turn began.
// Live panels render from pending; the transcript records totals.
type Accumulator struct {
	pendingReasoning strings.Builder
	pendingAnswer    strings.Builder
	totalReasoning   strings.Builder
	totalAnswer      strings.Builder
}

// AddReasoning appends a reasoning fragment.
func (a *Accumulator) AddReasoning(s string) {
	a.pendingReasoning.WriteString(s)
	a.totalReasoning.WriteString(s)
}

// AddAnswer appends an answer fragment.
func (a *Accumulator) AddAnswer(s string) {
	a.pendingAnswer.WriteString(s)
	a.totalAnswer.WriteString(s)
}

// Pending returns the unflushed reasoning and answer text.
func (a *Accumulator) Pending() (reasoning, answer string) {
	return a.pendingReasoning.String(), a.pendingAnswer.String()
}

// Total returns everything accumulated this turn, flushed or not.
func (a *Accumulator) Total() (reasoning, answer string) {
	return a.totalReasoning.String(), a.totalAnswer.String()
}

// HasPending reports whether either pending buffer is non-empty.
func (a *Accumulator) HasPending() bool {
	return a.pendingAnswer.Len() > 0 || a.pendingReasoning.Len() > 0
}

// Flush returns the pending buffers and clears them. Totals are unaffected,
// so the concatenation of successive flushes equals the total. Flushing with
// nothing pending returns two empty strings.
func (a *Accumulator) Flush() (reasoning, answer string) {
	reasoning = a.pendingReasoning.String()
	answer = a.pendingAnswer.String()
	a.pendingReasoning.Reset()
	a.pendingAnswer.Reset()
	return reasoning, answer
}

// Reset clears all four buffers for the next turn.
func (a *Accumulator) Reset() {
	a.pendingReasoning.Reset()
	a.pendingAnswer.Reset()
	a.totalReasoning.Reset()
	a.totalAnswer.Reset()
}
