package tui

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"

	"github.com/batalabs/qoze/internal/domain"
)

var (
	openFenceRe    = regexp.MustCompile("([^\\n])```([A-Za-z0-9_-]*)")
	numberedListRe = regexp.MustCompile(`^(\s*)(\d+)\.\s+(.+)`)
	inlineCodeRe   = regexp.MustCompile("`([^`]+)`")
	boldRe         = regexp.MustCompile(`\*\*(.+?)\*\*`)
	strikeRe       = regexp.MustCompile(`~~(.+?)~~`)
	linkRe         = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	hrRe           = regexp.MustCompile(`^[-*_]{3,}\s*$`)
	tableRowRe     = regexp.MustCompile(`^\s*\|(.+)\|\s*$`)
	tableSepRe     = regexp.MustCompile(`^\s*\|?\s*:?-+:?\s*(\|\s*:?-+:?\s*)+\|?\s*$`)
)

// WrapWords splits s into lines that fit within width, breaking at word
// boundaries. Words longer than width are hard-broken.
func WrapWords(s string, width int) []string {
	if width < 10 {
		width = 10
	}
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return []string{""}
	}
	lines := make([]string, 0, 8)
	cur := ""
	for _, word := range parts {
		next := word
		if cur != "" {
			next = cur + " " + word
		}
		if len(next) <= width {
			cur = next
			continue
		}
		if cur != "" {
			lines = append(lines, cur)
		}
		for len(word) > width {
			lines = append(lines, word[:width])
			word = word[width:]
		}
		cur = word
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// RenderAssistantLines converts markdown-ish assistant text into styled,
// word-wrapped terminal lines. Fenced code blocks are syntax-highlighted,
// tables get box drawing, everything else flows through inline formatting.
func RenderAssistantLines(content string, width int) []string {
	if width < 20 {
		width = 20
	}
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	normalized = openFenceRe.ReplaceAllString(normalized, "$1\n```$2")
	rawLines := strings.Split(normalized, "\n")
	out := make([]string, 0, len(rawLines)+8)

	inCode := false
	codeLang := ""
	var codeBuf []string

	inTable := false
	var tableHeaders []string
	var tableRows [][]string

	flushTable := func() {
		if len(tableHeaders) > 0 && len(tableRows) > 0 {
			out = append(out, RenderTable(tableHeaders, tableRows, width)...)
		}
		inTable = false
		tableHeaders = nil
		tableRows = nil
	}

	for i, raw := range rawLines {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inTable {
				flushTable()
			}
			if !inCode {
				inCode = true
				codeLang = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
				codeBuf = codeBuf[:0]
			} else {
				out = append(out, renderCodeBlock(codeLang, strings.Join(codeBuf, "\n"), width)...)
				inCode = false
				codeLang = ""
				codeBuf = codeBuf[:0]
			}
			continue
		}
		if inCode {
			codeBuf = append(codeBuf, line)
			continue
		}

		isTableRow := tableRowRe.MatchString(trimmed)

		if inTable {
			if tableSepRe.MatchString(trimmed) {
				continue
			}
			if isTableRow {
				cells := ParseTableRow(trimmed)
				for len(cells) < len(tableHeaders) {
					cells = append(cells, "")
				}
				if len(cells) > len(tableHeaders) {
					cells = cells[:len(tableHeaders)]
				}
				tableRows = append(tableRows, cells)
				continue
			}
			flushTable()
		}

		if !inTable && isTableRow {
			if i+1 < len(rawLines) && tableSepRe.MatchString(strings.TrimSpace(rawLines[i+1])) {
				inTable = true
				tableHeaders = ParseTableRow(trimmed)
				tableRows = nil
				continue
			}
		}

		if trimmed == "" {
			out = append(out, "")
			continue
		}

		if hrRe.MatchString(trimmed) {
			out = append(out, HrStyle.Render(strings.Repeat("─", min(width, 40))))
			continue
		}

		if strings.HasPrefix(trimmed, "> ") || trimmed == ">" {
			quoteText := strings.TrimPrefix(strings.TrimPrefix(trimmed, "> "), ">")
			for _, wl := range WrapWords(quoteText, width-4) {
				out = append(out, BlockquoteStyle.Render("│ ")+ApplyInlineFormatting(wl))
			}
			continue
		}

		if strings.HasPrefix(trimmed, "### ") || strings.HasPrefix(trimmed, "## ") || strings.HasPrefix(trimmed, "# ") {
			headingText := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			for _, wl := range WrapWords(headingText, width) {
				out = append(out, HeadingStyle.Render(ApplyInlineFormatting(wl)))
			}
			continue
		}

		if indent, item, ok := ParseBulletLine(line); ok {
			indentStr := strings.Repeat(" ", indent)
			wrapped := WrapWords(item, width-2-indent)
			if len(wrapped) > 0 {
				out = append(out, indentStr+BulletStyle.Render("• ")+ApplyInlineFormatting(wrapped[0]))
				for j := 1; j < len(wrapped); j++ {
					out = append(out, indentStr+"  "+ApplyInlineFormatting(wrapped[j]))
				}
			}
			continue
		}

		if match := numberedListRe.FindStringSubmatch(line); match != nil {
			indentStr := strings.Repeat(" ", len(match[1]))
			prefix := match[2] + ". "
			wrapped := WrapWords(match[3], width-len(prefix)-len(match[1]))
			if len(wrapped) > 0 {
				out = append(out, indentStr+BulletStyle.Render(prefix)+ApplyInlineFormatting(wrapped[0]))
				cont := indentStr + strings.Repeat(" ", len(prefix))
				for j := 1; j < len(wrapped); j++ {
					out = append(out, cont+ApplyInlineFormatting(wrapped[j]))
				}
			}
			continue
		}

		for _, wl := range WrapWords(line, width) {
			out = append(out, ApplyInlineFormatting(wl))
		}
	}

	if inCode {
		out = append(out, renderCodeBlock(codeLang, strings.Join(codeBuf, "\n"), width)...)
	}
	if inTable {
		flushTable()
	}
	return out
}

// ParseBulletLine detects a bullet list line (-, +, or *) with optional
// leading whitespace for nesting.
func ParseBulletLine(line string) (indent int, item string, ok bool) {
	for _, ch := range line {
		if ch == ' ' {
			indent++
		} else if ch == '\t' {
			indent += 2
		} else {
			break
		}
	}
	rest := line[indent:]
	if strings.HasPrefix(rest, "- ") || strings.HasPrefix(rest, "+ ") {
		return indent, strings.TrimSpace(rest[2:]), true
	}
	if strings.HasPrefix(rest, "* ") && !hrRe.MatchString(strings.TrimSpace(rest)) {
		return indent, strings.TrimSpace(rest[2:]), true
	}
	return 0, "", false
}

// ParseTableRow splits a pipe-delimited table row into trimmed cell strings.
func ParseTableRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

// RenderTable renders a markdown table with box-drawing characters.
func RenderTable(headers []string, rows [][]string, width int) []string {
	numCols := len(headers)
	if numCols == 0 {
		return nil
	}
	const cellPad = 2

	colWidths := make([]int, numCols)
	for i, h := range headers {
		if w := strippedWidth(h); w > colWidths[i] {
			colWidths[i] = w
		}
	}
	for _, row := range rows {
		for i := 0; i < numCols && i < len(row); i++ {
			if w := strippedWidth(row[i]); w > colWidths[i] {
				colWidths[i] = w
			}
		}
	}

	fixedOverhead := numCols + 1 + numCols*cellPad
	available := width - fixedOverhead
	if available < numCols {
		available = numCols
	}
	totalContent := 0
	for _, w := range colWidths {
		totalContent += w
	}
	if totalContent > available {
		for i := range colWidths {
			colWidths[i] = max(1, colWidths[i]*available/totalContent)
		}
	}

	out := make([]string, 0, len(rows)+4)
	out = append(out, TableBorderStyle.Render(tableBorder("┌", "┬", "┐", colWidths, cellPad)))
	out = append(out, renderTableRow(headers, colWidths, cellPad, true))
	out = append(out, TableBorderStyle.Render(tableBorder("├", "┼", "┤", colWidths, cellPad)))
	for _, row := range rows {
		padded := make([]string, numCols)
		copy(padded, row)
		out = append(out, renderTableRow(padded, colWidths, cellPad, false))
	}
	out = append(out, TableBorderStyle.Render(tableBorder("└", "┴", "┘", colWidths, cellPad)))
	return out
}

// strippedWidth returns the visual width of text after removing inline
// markdown markers.
func strippedWidth(s string) int {
	s = inlineCodeRe.ReplaceAllString(s, "$1")
	s = boldRe.ReplaceAllString(s, "$1")
	s = strikeRe.ReplaceAllString(s, "$1")
	s = linkRe.ReplaceAllString(s, "$1 ($2)")
	return lipgloss.Width(s)
}

func tableBorder(left, mid, right string, colWidths []int, cellPad int) string {
	var b strings.Builder
	b.WriteString(left)
	for i, w := range colWidths {
		b.WriteString(strings.Repeat("─", w+cellPad))
		if i < len(colWidths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right)
	return b.String()
}

func renderTableRow(cells []string, colWidths []int, cellPad int, isHeader bool) string {
	var b strings.Builder
	b.WriteString(TableBorderStyle.Render("│"))
	for i, w := range colWidths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		var styled string
		if isHeader {
			styled = TableHeaderStyle.Render(boldRe.ReplaceAllString(cell, "$1"))
		} else {
			styled = ApplyInlineFormatting(cell)
		}
		if lipgloss.Width(styled) > w {
			raw := boldRe.ReplaceAllString(cell, "$1")
			raw = inlineCodeRe.ReplaceAllString(raw, "$1")
			raw = strikeRe.ReplaceAllString(raw, "$1")
			raw = linkRe.ReplaceAllString(raw, "$1 ($2)")
			raw = TruncateToWidth(raw, w)
			if isHeader {
				styled = TableHeaderStyle.Render(raw)
			} else {
				styled = raw
			}
		}
		padRight := w - lipgloss.Width(styled)
		if padRight < 0 {
			padRight = 0
		}
		b.WriteString(" " + styled + strings.Repeat(" ", padRight) + " ")
		if i < len(colWidths)-1 {
			b.WriteString(TableBorderStyle.Render("│"))
		}
	}
	b.WriteString(TableBorderStyle.Render("│"))
	return b.String()
}

// TruncateToWidth truncates s to fit within maxWidth visible columns,
// handling multi-byte characters safely.
func TruncateToWidth(s string, maxWidth int) string {
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	runes := []rune(s)
	for i := len(runes); i > 0; i-- {
		candidate := string(runes[:i])
		if lipgloss.Width(candidate) <= maxWidth {
			return candidate
		}
	}
	return ""
}

// renderCodeBlock syntax-highlights a fenced code block with chroma and
// prepends line numbers with a gutter.
func renderCodeBlock(lang, code string, width int) []string {
	if width < 20 {
		width = 20
	}
	if lang == "" || lang == "text" {
		lang = "plaintext"
	}

	var highlighted bytes.Buffer
	if err := quick.Highlight(&highlighted, code, lang, "terminal256", "dracula"); err != nil {
		highlighted.Reset()
		//nolint:errcheck // plaintext highlight cannot fail on valid input
		quick.Highlight(&highlighted, code, "plaintext", "terminal256", "dracula")
	}
	hlLines := strings.Split(strings.TrimSuffix(highlighted.String(), "\n"), "\n")
	if len(hlLines) == 0 {
		hlLines = []string{""}
	}

	out := make([]string, 0, len(hlLines))
	for i, line := range hlLines {
		lineNo := CodeGutterStyle.Render(fmt.Sprintf("%3d", i+1))
		out = append(out, lineNo+CodeGutterStyle.Render(" │ ")+line)
	}
	return out
}

// ApplyInlineFormatting handles inline markdown: `code`, [text](url),
// **bold**, *italic*, and ~~strikethrough~~. Not for code block lines.
func ApplyInlineFormatting(s string) string {
	s = inlineCodeRe.ReplaceAllStringFunc(s, func(match string) string {
		return InlineCodeStyle.Render(inlineCodeRe.FindStringSubmatch(match)[1])
	})
	s = linkRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		return LinkTextStyle.Render(parts[1]) + LinkURLStyle.Render(" ("+parts[2]+")")
	})
	s = strikeRe.ReplaceAllStringFunc(s, func(match string) string {
		return StrikethroughStyle.Render(strikeRe.FindStringSubmatch(match)[1])
	})
	s = boldRe.ReplaceAllStringFunc(s, func(match string) string {
		return BoldInlineStyle.Render(boldRe.FindStringSubmatch(match)[1])
	})
	return applyItalic(s)
}

// applyItalic handles single-* italics left over after bold processing,
// skipping ANSI escapes from already-styled content.
func applyItalic(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '\x1b' {
			j := i + 1
			for j < len(s) && s[j] != 'm' {
				j++
			}
			if j < len(s) {
				j++
			}
			b.WriteString(s[i:j])
			i = j
			continue
		}
		if s[i] != '*' {
			b.WriteByte(s[i])
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '*' {
			b.WriteByte(s[i])
			i++
			continue
		}
		end := strings.Index(s[i+1:], "*")
		if end < 0 {
			b.WriteByte(s[i])
			i++
			continue
		}
		end += i + 1
		if end+1 < len(s) && s[end+1] == '*' {
			b.WriteByte(s[i])
			i++
			continue
		}
		inner := s[i+1 : end]
		if inner == "" {
			b.WriteByte(s[i])
			i++
			continue
		}
		b.WriteString(ItalicInlineStyle.Render(inner))
		i = end + 1
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Transcript formatting
// ---------------------------------------------------------------------------

// primaryToolParam maps each tool to the parameter shown first.
var primaryToolParam = map[string]string{
	"file_read":       "path",
	"file_write":      "path",
	"file_edit":       "path",
	"execute_command": "command",
	"grep":            "pattern",
	"list_files":      "path",
	"web_search":      "query",
	"fetch_url":       "url",
	"browser_open":    "url",
	"browser_extract": "url",
	"activate_skill":  "name",
}

// SortedToolParams returns parameter keys in a deterministic order, placing
// the tool's primary param first.
func SortedToolParams(toolName string, input map[string]any) []string {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if pk, ok := primaryToolParam[toolName]; ok {
		for i, k := range keys {
			if k == pk {
				keys = append([]string{k}, append(keys[:i], keys[i+1:]...)...)
				break
			}
		}
	}
	return keys
}

// TruncateParam returns a truncated string representation of a tool param.
func TruncateParam(key string, val any) string {
	valStr := fmt.Sprintf("%v", val)
	limit := 50
	switch key {
	case "command":
		limit = 80
	case "path", "url", "old_string", "new_string", "content":
		limit = 200
	}
	if len(valStr) > limit {
		valStr = valStr[:limit] + "..."
	}
	return valStr
}

// FormatToolUse renders a tool_use block as a styled header with sorted params.
func FormatToolUse(block domain.ContentBlock, width int) string {
	keys := SortedToolParams(block.ToolName, block.ToolInput)
	params := make([]string, 0, len(keys))
	for _, k := range keys {
		params = append(params, k+"="+TruncateParam(k, block.ToolInput[k]))
	}
	header := ToolNameStyle.Render("[tool] " + block.ToolName)
	if len(params) > 0 {
		header += ToolInputStyle.Render("(" + strings.Join(params, ", ") + ")")
	}
	return header
}

// ToolResultHeader returns a brief, tool-specific summary header.
func ToolResultHeader(toolName, result string) string {
	switch toolName {
	case "file_read":
		return fmt.Sprintf("[read] %d lines", strings.Count(result, "\n"))
	case "file_write":
		return "[write] " + firstLine(result)
	case "file_edit":
		return "[edit] " + firstLine(result)
	case "execute_command":
		return fmt.Sprintf("[run] %d lines of output", strings.Count(result, "\n"))
	case "grep":
		if result == "No matches found." {
			return "[grep] 0 matches"
		}
		n := 0
		for _, line := range strings.Split(result, "\n") {
			if line != "--" && !strings.HasPrefix(line, "...") {
				n++
			}
		}
		return fmt.Sprintf("[grep] %d matches", n)
	case "list_files":
		if result == "No entries found." {
			return "[files] 0 entries"
		}
		return fmt.Sprintf("[files] %d entries", strings.Count(result, "\n")+1)
	case "web_search":
		return "[search] results"
	case "fetch_url", "browser_open", "browser_extract":
		return fmt.Sprintf("[web] %d lines", strings.Count(result, "\n")+1)
	case "activate_skill", "deactivate_skill", "list_skills":
		return "[skill] " + firstLine(result)
	default:
		return "[result] " + toolName
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// FormatToolResult renders a tool result or error for the transcript.
func FormatToolResult(toolName, result string, isError bool, width int) string {
	style := ToolResultStyle
	var label string
	if isError {
		label = "[error] " + toolName
		style = ErrorLineStyle
	} else {
		label = ToolResultHeader(toolName, result)
	}

	lines := strings.Split(result, "\n")
	if len(lines) > 20 {
		lines = append(lines[:20], fmt.Sprintf("... (%d more lines)", len(lines)-20))
	}
	truncated := strings.Join(lines, "\n")
	if len(truncated) > 2000 {
		truncated = truncated[:2000] + "\n... (truncated)"
	}

	header := style.Render(label)
	if strings.TrimSpace(truncated) == "" {
		return header
	}
	return header + "\n" + ToolInputStyle.Render(truncated)
}

// FormatBlockMessage renders a transcript message that may contain structured
// content blocks. Falls back to FormatMessage for plain messages.
func FormatBlockMessage(msg domain.TranscriptMessage, width int) string {
	if !msg.HasBlocks() {
		return FormatMessage(msg, width)
	}
	contentWidth := max(20, width-4)
	var b strings.Builder

	switch msg.Role {
	case "assistant":
		first := true
		for _, block := range msg.Blocks {
			switch block.Type {
			case "text":
				if strings.TrimSpace(block.Text) == "" {
					continue
				}
				if !first {
					b.WriteString("\n")
				}
				b.WriteString(FormatMessage(domain.TranscriptMessage{Role: "assistant", Content: block.Text}, width))
				first = false
			case "tool_use":
				if !first {
					b.WriteString("\n")
				}
				b.WriteString(FormatToolUse(block, contentWidth))
				first = false
			}
		}
		if first {
			return AsstIconStyle.Render("● ") + "(no text)"
		}

	case "user":
		first := true
		for _, block := range msg.Blocks {
			if block.Type == "tool_result" {
				if !first {
					b.WriteString("\n")
				}
				b.WriteString(FormatToolResult(block.ToolName, block.ToolResult, block.IsError, contentWidth))
				first = false
			}
		}

	default:
		return FormatMessage(msg, width)
	}
	return b.String()
}

// FormatMessage renders a single transcript message into a styled string
// ready for the terminal scrollback.
func FormatMessage(msg domain.TranscriptMessage, width int) string {
	contentWidth := max(20, width-4)

	switch msg.Role {
	case "user":
		wrapped := WrapWords(msg.Content, contentWidth-2)
		if len(wrapped) == 0 {
			return UserIconStyle.Render("● ")
		}
		var b strings.Builder
		b.WriteString(UserIconStyle.Render("● ") + wrapped[0])
		for i := 1; i < len(wrapped); i++ {
			b.WriteString("\n  " + wrapped[i])
		}
		return b.String()

	case "assistant":
		lines := RenderAssistantLines(msg.Content, contentWidth-2)
		if len(lines) == 0 {
			return AsstIconStyle.Render("● ")
		}
		var b strings.Builder
		for i, line := range lines {
			if strings.HasPrefix(line, "Error:") {
				line = ErrorLineStyle.Render(line)
			}
			if i == 0 {
				b.WriteString(AsstIconStyle.Render("● ") + line)
			} else {
				b.WriteString("\n  " + line)
			}
		}
		return b.String()

	default:
		wrapped := WrapWords(msg.Content, contentWidth)
		var b strings.Builder
		for i, line := range wrapped {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(WelcomeStyle.Render(line))
		}
		return b.String()
	}
}
