package mcpservice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gomcp/corekit/sessions"
	"golang.org/x/net/html"
)

// webFetchArgs is the typed input for NewWebFetchTool.
type webFetchArgs struct {
	URL string `json:"url" jsonschema:"minLength=1,description=URL to fetch"`
}

const webFetchMaxBody = 5 * 1024 * 1024 // 5MB

// NewWebFetchTool builds a tool that fetches a URL over HTTP and returns its
// text content with HTML markup stripped. http upgrades to https for any
// non-localhost target, since a tool call arriving over plaintext HTTP from
// an agent has no way to verify the page it asked for wasn't tampered with
// in transit.
func NewWebFetchTool(opts ...ToolOption) StaticTool {
	client := &http.Client{Timeout: 30 * time.Second}
	allOpts := append([]ToolOption{WithToolDescription("Fetch a URL over HTTP(S) and return its visible text content with HTML markup stripped.")}, opts...)
	return NewTool("web_fetch", func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[webFetchArgs]) error {
		target := r.Args().URL
		if target == "" {
			w.SetError(true)
			return w.AppendText("url is required")
		}
		if strings.HasPrefix(target, "http://") && !strings.Contains(target, "localhost") && !strings.Contains(target, "127.0.0.1") {
			target = "https://" + strings.TrimPrefix(target, "http://")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			w.SetError(true)
			return w.AppendText(fmt.Sprintf("building request: %v", err))
		}
		req.Header.Set("User-Agent", "corekit-mcp/1.0")

		resp, err := client.Do(req)
		if err != nil {
			w.SetError(true)
			return w.AppendText(fmt.Sprintf("fetching %s: %v", target, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			w.SetError(true)
			return w.AppendText(fmt.Sprintf("HTTP %d from %s", resp.StatusCode, target))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBody))
		if err != nil {
			w.SetError(true)
			return w.AppendText(fmt.Sprintf("reading response: %v", err))
		}

		return w.AppendText(htmlToText(string(body)))
	}, allOpts...)
}

// htmlToText extracts the visible text of raw, dropping script/style
// contents and collapsing whitespace between block elements. Returns raw
// unchanged if it doesn't parse as HTML, so a plain-text or JSON response
// still comes through unmangled.
func htmlToText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
				sb.WriteString("\n")
			}
		}
	}
	walk(doc)

	lines := strings.Split(sb.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
