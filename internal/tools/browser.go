package tools

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/batalabs/qoze/internal/provider"
)

// ---------------------------------------------------------------------------
// browser_open — readable-content extraction
// ---------------------------------------------------------------------------

func browserOpenTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "browser_open",
			Description: "Open a web page and return its main readable content, with navigation, ads, and boilerplate stripped. Better than fetch_url for articles and documentation. Output is truncated at 50KB.",
			Properties: map[string]provider.ToolProp{
				"url": {Type: "string", Description: "URL to open"},
			},
			Required: []string{"url"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			rawURL, ok := input["url"].(string)
			if !ok || rawURL == "" {
				return "", fmt.Errorf("url is required")
			}

			article, err := readArticle(rawURL)
			if err != nil {
				return "", err
			}

			var b strings.Builder
			if article.Title != "" {
				fmt.Fprintf(&b, "# %s\n\n", article.Title)
			}
			if article.Byline != "" {
				fmt.Fprintf(&b, "By %s\n\n", article.Byline)
			}
			b.WriteString(strings.TrimSpace(article.TextContent))

			result := b.String()
			const maxOutput = 50 * 1024
			if len(result) > maxOutput {
				result = result[:maxOutput] + "\n... (truncated at 50KB)"
			}
			if strings.TrimSpace(result) == "" {
				return "No readable content found.", nil
			}
			return result, nil
		},
	}
}

// ---------------------------------------------------------------------------
// browser_extract — page metadata and links
// ---------------------------------------------------------------------------

func browserExtractTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "browser_extract",
			Description: "Extract structured information from a web page: title, summary, and the links it contains. Use to discover where to navigate next without reading the full page.",
			Properties: map[string]provider.ToolProp{
				"url": {Type: "string", Description: "URL to extract from"},
			},
			Required: []string{"url"},
		},
		Execute: func(input map[string]any, ctx *ToolContext) (string, error) {
			rawURL, ok := input["url"].(string)
			if !ok || rawURL == "" {
				return "", fmt.Errorf("url is required")
			}

			_, data, err := fetchURL(rawURL)
			if err != nil {
				return "", err
			}

			base, err := url.Parse(rawURL)
			if err != nil {
				return "", fmt.Errorf("invalid url: %w", err)
			}

			article, raErr := readability.FromReader(bytes.NewReader(data), base)

			var b strings.Builder
			if raErr == nil {
				if article.Title != "" {
					fmt.Fprintf(&b, "Title: %s\n", article.Title)
				}
				if article.SiteName != "" {
					fmt.Fprintf(&b, "Site: %s\n", article.SiteName)
				}
				if article.Excerpt != "" {
					fmt.Fprintf(&b, "Summary: %s\n", truncate(article.Excerpt, 500))
				}
			}

			links := extractLinks(data, base)
			if len(links) > 0 {
				b.WriteString("\nLinks:\n")
				for _, l := range links {
					fmt.Fprintf(&b, "- %s\n", l)
				}
			}

			result := strings.TrimRight(b.String(), "\n")
			if result == "" {
				return "No extractable content found.", nil
			}
			return result, nil
		},
	}
}

// readArticle fetches a URL and runs readability extraction on it.
func readArticle(rawURL string) (readability.Article, error) {
	_, data, err := fetchURL(rawURL)
	if err != nil {
		return readability.Article{}, err
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return readability.Article{}, fmt.Errorf("invalid url: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(data), base)
	if err != nil {
		return readability.Article{}, fmt.Errorf("extracting content from %s: %w", rawURL, err)
	}
	return article, nil
}

// extractLinks returns up to 50 absolute "text -> url" link entries from
// an HTML document, deduplicated by target.
func extractLinks(data []byte, base *url.URL) []string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	const maxLinks = 50
	seen := make(map[string]bool)
	var links []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(links) >= maxLinks {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			var href string
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					href = attr.Val
					break
				}
			}
			if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:") {
				if u, err := base.Parse(href); err == nil {
					abs := u.String()
					if !seen[abs] {
						seen[abs] = true
						text := strings.Join(strings.Fields(nodeText(n)), " ")
						if text == "" {
							links = append(links, abs)
						} else {
							links = append(links, fmt.Sprintf("%s -> %s", truncate(text, 80), abs))
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return b.String()
}
