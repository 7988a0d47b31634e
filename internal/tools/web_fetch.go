package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/xonecas/symb/internal/retry"
	"github.com/xonecas/symb/internal/store"
)

// webFetchArgs are the arguments to the web_fetch tool.
type webFetchArgs struct {
	URL      string `json:"url"`
	MaxChars int    `json:"max_chars,omitempty"`
}

const webFetchDefaultMaxChars = 10000

// WebFetchDefinition describes the web_fetch tool: an HTTP GET with a size
// cap, HTML stripped to visible text, results cached.
func WebFetchDefinition() Definition {
	return Definition{
		Name:        "web_fetch",
		Description: "Fetch a URL over HTTP GET and return its content as cleaned text, capped at max_chars. Results are cached.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url":       {"type": "string", "description": "The URL to fetch"},
				"max_chars": {"type": "integer", "description": "Maximum characters to return. Default: 10000"}
			},
			"required": ["url"]
		}`),
	}
}

// MakeWebFetchHandler builds the web_fetch tool handler, caching results in
// cache (may be nil to disable caching).
func MakeWebFetchHandler(cache *store.Cache) Handler {
	client := &http.Client{Timeout: 15 * time.Second}

	return func(ctx context.Context, _ *ToolContext, input json.RawMessage) (string, error) {
		var args webFetchArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if args.URL == "" {
			return "", fmt.Errorf("url is required")
		}
		if args.MaxChars <= 0 {
			args.MaxChars = webFetchDefaultMaxChars
		}

		if cached, ok := cache.GetFetch(args.URL); ok {
			return truncateChars(cached, args.MaxChars), nil
		}

		// A 5xx response is treated as transient and retried through
		// internal/retry; a 4xx is a client-side mistake (bad URL, auth) and
		// is returned to the caller on the first attempt instead of wasting
		// the retry budget on a request that will never succeed.
		type fetchResult struct {
			body        []byte
			contentType string
		}
		result, err := retry.Do(ctx, func() (fetchResult, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
			if err != nil {
				return fetchResult{}, fmt.Errorf("bad url: %w", err)
			}
			req.Header.Set("User-Agent", "symb/0.1")
			req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

			resp, err := client.Do(req)
			if err != nil {
				return fetchResult{}, fmt.Errorf("fetch failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return fetchResult{}, fmt.Errorf("http %d: %s", resp.StatusCode, resp.Status)
			}
			if resp.StatusCode >= 400 {
				return fetchResult{}, retry.Stop(fmt.Errorf("http %d: %s", resp.StatusCode, resp.Status))
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fetchResult{}, fmt.Errorf("read failed: %w", err)
			}
			return fetchResult{body: body, contentType: resp.Header.Get("Content-Type")}, nil
		})
		if err != nil {
			return "", err
		}

		var text string
		if strings.Contains(result.contentType, "text/html") {
			text = extractVisibleText(result.body)
		} else {
			text = string(result.body)
		}

		cache.SetFetch(args.URL, text)
		return truncateChars(text, args.MaxChars), nil
	}
}

// extractVisibleText parses HTML and returns visible text, stripping
// script, style, and noscript elements.
func extractVisibleText(data []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skip := 0

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return collapseBlankLines(b.String())
		}
		tn, _ := tokenizer.TagName()
		tag := string(tn)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			if isSkipTag(tag) {
				skip++
			}
			if isBlockTag(tag) && b.Len() > 0 {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			if isSkipTag(tag) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func isSkipTag(tag string) bool {
	return tag == "script" || tag == "style" || tag == "noscript"
}

func isBlockTag(tag string) bool {
	switch tag {
	case "p", "div", "br", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "tr", "td", "th", "blockquote", "pre", "hr",
		"header", "footer", "section", "article", "nav", "main":
		return true
	}
	return false
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blanks := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blanks++
			if blanks <= 1 {
				out = append(out, "")
			}
			continue
		}
		blanks = 0
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "\n\n[truncated]"
}
