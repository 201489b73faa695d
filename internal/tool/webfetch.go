package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/bladecode/blade/pkg/types"
)

const webfetchDescription = `Fetches content from a URL and returns it in the requested format.

Usage notes:
- The URL must be a fully-formed valid URL starting with http:// or https://
- Redirects are followed; the final URL is reported
- Results may be truncated if the content is very large (>5MB limit)
- Use format "markdown" for readable content, "text" for plain text, "html" for raw HTML`

const (
	fetchMaxResponseSize = 5 * 1024 * 1024
	fetchDefaultTimeout  = 30 * time.Second
	fetchMaxTimeout      = 120 * time.Second
)

// WebFetchTool implements web content fetching.
type WebFetchTool struct {
	client *http.Client
}

// WebFetchInput represents the input for the webfetch tool.
type WebFetchInput struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Format  string            `json:"format,omitempty"`
	Timeout int               `json:"timeout,omitempty"` // seconds
	// IncludeHeaders adds response headers to the output.
	IncludeHeaders bool `json:"include_headers,omitempty"`
}

// NewWebFetchTool creates a new webfetch tool.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{Timeout: fetchDefaultTimeout},
	}
}

func (t *WebFetchTool) ID() string            { return "webfetch" }
func (t *WebFetchTool) DisplayName() string   { return "WebFetch" }
func (t *WebFetchTool) Kind() types.ToolKind  { return types.KindNetwork }
func (t *WebFetchTool) Description() string   { return webfetchDescription }
func (t *WebFetchTool) ConcurrencySafe() bool { return true }

func (t *WebFetchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch content from"},
			"method": {"type": "string", "description": "HTTP method (default GET)"},
			"headers": {"type": "object", "description": "Extra request headers", "additionalProperties": {"type": "string"}},
			"body": {"type": "string", "description": "Request body for POST/PUT"},
			"format": {"type": "string", "enum": ["text", "markdown", "html"], "description": "The format to return the content in (default markdown)"},
			"timeout": {"type": "integer", "description": "Optional timeout in seconds (max 120)"},
			"include_headers": {"type": "boolean", "description": "Include response headers in the output"}
		},
		"required": ["url"]
	}`)
}

// ExtractSignature returns the URL for rule matching.
func (t *WebFetchTool) ExtractSignature(input json.RawMessage) []string {
	var params WebFetchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	return []string{params.URL}
}

func (t *WebFetchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WebFetchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}

	if !strings.HasPrefix(params.URL, "http://") && !strings.HasPrefix(params.URL, "https://") {
		return Errorf(ErrValidation, "URL must start with http:// or https://"), nil
	}
	switch params.Format {
	case "", "markdown", "text", "html":
	default:
		return Errorf(ErrValidation, "format must be 'text', 'markdown', or 'html'"), nil
	}
	if params.Format == "" {
		params.Format = "markdown"
	}
	method := strings.ToUpper(params.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := fetchDefaultTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Second
		if timeout > fetchMaxTimeout {
			timeout = fetchMaxTimeout
		}
	}

	reqCtx, cancelReq := context.WithTimeout(ctx, timeout)
	defer cancelReq()

	var bodyReader io.Reader
	if params.Body != "" {
		bodyReader = strings.NewReader(params.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, params.URL, bodyReader)
	if err != nil {
		return Errorf(ErrValidation, "failed to create request: %v", err), nil
	}

	req.Header.Set("User-Agent", "blade/1.0 (+https://github.com/bladecode/blade)")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	switch params.Format {
	case "markdown":
		req.Header.Set("Accept", "text/markdown;q=1.0, text/plain;q=0.8, text/html;q=0.7, */*;q=0.1")
	case "text":
		req.Header.Set("Accept", "text/plain;q=1.0, text/html;q=0.8, */*;q=0.1")
	case "html":
		req.Header.Set("Accept", "text/html;q=1.0, application/xhtml+xml;q=0.9, */*;q=0.1")
	}
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Errorf(ErrAborted, "fetch aborted"), nil
		}
		return Errorf(ErrExecution, "request failed: %v", err), nil
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	limited := io.LimitReader(resp.Body, fetchMaxResponseSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		if ctx.Err() != nil {
			return Errorf(ErrAborted, "fetch aborted"), nil
		}
		return Errorf(ErrExecution, "failed to read response: %v", err), nil
	}
	truncatedBody := false
	if len(body) > fetchMaxResponseSize {
		body = body[:fetchMaxResponseSize]
		truncatedBody = true
	}

	finalURL := resp.Request.URL.String()
	content := convertBody(string(body), resp.Header.Get("Content-Type"), params.Format)

	// Error statuses still carry the body so the model can see the payload.
	if resp.StatusCode >= 400 {
		result := Errorf(ErrExecution, "request to %s failed with status %d", params.URL, resp.StatusCode)
		result.Output = fmt.Sprintf("HTTP %d\n\n%s", resp.StatusCode, content)
		return result.
			Meta("status", resp.StatusCode).
			Meta("url", finalURL).
			Meta("responseTimeMs", elapsed.Milliseconds()), nil
	}

	var sb strings.Builder
	if params.IncludeHeaders {
		for k, vs := range resp.Header {
			sb.WriteString(fmt.Sprintf("%s: %s\n", k, strings.Join(vs, ", ")))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(content)
	if truncatedBody {
		sb.WriteString("\n\n(Response truncated at 5MB)")
	}

	result := &Result{
		Title:  fmt.Sprintf("Fetched %s", params.URL),
		Output: sb.String(),
	}
	return result.
		Meta("status", resp.StatusCode).
		Meta("url", finalURL).
		Meta("redirected", finalURL != params.URL).
		Meta("responseTimeMs", elapsed.Milliseconds()).
		Meta("bytes", len(body)), nil
}

// convertBody renders the payload in the requested format. HTML is reduced
// to readable text or markdown; other content types pass through.
func convertBody(body, contentType, format string) string {
	isHTML := strings.Contains(contentType, "text/html") ||
		strings.HasPrefix(strings.TrimSpace(body), "<!DOCTYPE") ||
		strings.HasPrefix(strings.TrimSpace(body), "<html")

	if !isHTML || format == "html" {
		return body
	}

	switch format {
	case "markdown":
		converter := md.NewConverter("", true, nil)
		if out, err := converter.ConvertString(body); err == nil {
			return out
		}
		return body

	case "text":
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return body
		}
		doc.Find("script, style, noscript").Remove()
		text := doc.Text()
		// Collapse blank-line runs left by removed markup.
		lines := strings.Split(text, "\n")
		var out []string
		blank := false
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				if !blank {
					out = append(out, "")
				}
				blank = true
				continue
			}
			blank = false
			out = append(out, trimmed)
		}
		return strings.Join(out, "\n")
	}
	return body
}
