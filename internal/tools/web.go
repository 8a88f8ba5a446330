package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/batalabs/qoze/internal/provider"
)

// ---------------------------------------------------------------------------
// web_search — Tavily Search API
// ---------------------------------------------------------------------------

func webSearchTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "web_search",
			Description: "Search the web using the Tavily Search API. Returns a short answer plus a list of results with title, URL, and snippet. Requires the TAVILY_API_KEY environment variable. Use this to find current information, documentation, or answers to questions.",
			Properties: map[string]provider.ToolProp{
				"query": {Type: "string", Description: "Search query"},
				"count": {Type: "integer", Description: "Number of results to return (default: 5, max: 20)"},
			},
			Required: []string{"query"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			query, ok := input["query"].(string)
			if !ok || query == "" {
				return "", fmt.Errorf("query is required")
			}

			count := 5
			if v, ok := input["count"].(float64); ok && v > 0 {
				count = int(v)
				if count > 20 {
					count = 20
				}
			}

			var ctxKey string
			if ctx != nil {
				ctxKey = ctx.TavilyAPIKey
			}
			return tavilySearch(query, count, ctxKey)
		},
	}
}

// searchHTTPClient is overridable in tests.
var searchHTTPClient = &http.Client{Timeout: 15 * time.Second}

// tavilySearchURL is the Tavily Search API endpoint. Override in tests.
var tavilySearchURL = "https://api.tavily.com/search"

// searchLimiter throttles outbound search calls so a tool-happy model
// cannot hammer the API.
var searchLimiter = rate.NewLimiter(rate.Every(time.Second), 2)

// getEnvFunc allows overriding os.Getenv in tests.
var getEnvFunc = os.Getenv

// tavilySearch calls the Tavily Search API and returns formatted results.
// It checks the env var first, then falls back to the provided config key.
func tavilySearch(query string, count int, configKey string) (string, error) {
	apiKey := getEnvFunc("TAVILY_API_KEY")
	if apiKey == "" {
		apiKey = configKey
	}
	if apiKey == "" {
		return "", fmt.Errorf("TAVILY_API_KEY not set. Use /config set tavily.api_key <key> or set the TAVILY_API_KEY environment variable.")
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := searchLimiter.Wait(waitCtx); err != nil {
		return "", fmt.Errorf("search rate limit: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"api_key":        apiKey,
		"query":          query,
		"max_results":    count,
		"include_answer": true,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, tavilySearchURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := searchHTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("Tavily API error (HTTP %d): %s", resp.StatusCode, truncate(string(body), 500))
	}

	return formatTavilyResults(body), nil
}

func formatTavilyResults(body []byte) string {
	var b strings.Builder

	if answer := gjson.GetBytes(body, "answer").String(); answer != "" {
		b.WriteString(answer)
		b.WriteString("\n\n")
	}

	results := gjson.GetBytes(body, "results")
	if !results.Exists() || len(results.Array()) == 0 {
		if b.Len() == 0 {
			return "No results found."
		}
		return strings.TrimRight(b.String(), "\n")
	}

	i := 0
	results.ForEach(func(_, r gjson.Result) bool {
		i++
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i, r.Get("title").String(), r.Get("url").String())
		if content := r.Get("content").String(); content != "" {
			fmt.Fprintf(&b, "   %s\n", truncate(content, 400))
		}
		b.WriteString("\n")
		return true
	})
	return strings.TrimRight(b.String(), "\n")
}

// ---------------------------------------------------------------------------
// fetch_url — HTTP GET with HTML-to-text extraction
// ---------------------------------------------------------------------------

func fetchURLTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "fetch_url",
			Description: "Fetch a URL and return the text content. HTML is stripped to plain text. Output is truncated at 50KB. Use this to read documentation pages, API responses, or any web content.",
			Properties: map[string]provider.ToolProp{
				"url": {Type: "string", Description: "URL to fetch"},
			},
			Required: []string{"url"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			rawURL, ok := input["url"].(string)
			if !ok || rawURL == "" {
				return "", fmt.Errorf("url is required")
			}
			return fetchAndExtractText(rawURL)
		},
	}
}

// fetchHTTPClient is overridable in tests.
var fetchHTTPClient = &http.Client{Timeout: 30 * time.Second}

func fetchURL(rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "qoze/1.0 (coding assistant)")

	resp, err := fetchHTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, rawURL)
	}

	const maxRead = 1024 * 1024
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRead))
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp, data, nil
}

// fetchAndExtractText fetches a URL and returns the text content.
func fetchAndExtractText(rawURL string) (string, error) {
	resp, data, err := fetchURL(rawURL)
	if err != nil {
		return "", err
	}

	content := string(data)

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "html") || strings.HasPrefix(strings.TrimSpace(content), "<") {
		content = htmlToText(content)
	}

	const maxOutput = 50 * 1024
	if len(content) > maxOutput {
		content = content[:maxOutput] + "\n... (truncated at 50KB)"
	}
	return content, nil
}

// blockTags are HTML elements that force a line break in text output.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "blockquote": true, "pre": true,
	"ul": true, "ol": true, "table": true,
}

// skipTags are HTML elements whose text content is never useful.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true,
	"svg": true, "iframe": true,
}

// htmlToText parses HTML and extracts readable plain text.
func htmlToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	result := b.String()
	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}
	// Trim the space htmlToText inserts after newlines.
	lines := strings.Split(result, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
