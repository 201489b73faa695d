package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/bladecode/blade/pkg/types"
)

const websearchDescription = `Searches the web and returns a short list of results.

Usage:
- query is required
- allowed_domains / blocked_domains filter the merged results
- Returns at most 8 results with title, URL, and snippet`

const searchMaxResults = 8

// searxInstances are tried in order after DuckDuckGo.
var searxInstances = []string{
	"https://searx.be",
	"https://search.sapti.me",
	"https://searx.tiekoetter.com",
}

// WebSearchTool implements web search over public providers.
type WebSearchTool struct {
	client *http.Client
}

// WebSearchInput represents the input for the websearch tool.
type WebSearchInput struct {
	Query          string   `json:"query"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	BlockedDomains []string `json:"blocked_domains,omitempty"`
}

// SearchResult is one entry returned by a provider.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// NewWebSearchTool creates a new websearch tool.
func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WebSearchTool) ID() string            { return "websearch" }
func (t *WebSearchTool) DisplayName() string   { return "WebSearch" }
func (t *WebSearchTool) Kind() types.ToolKind  { return types.KindNetwork }
func (t *WebSearchTool) Description() string   { return websearchDescription }
func (t *WebSearchTool) ConcurrencySafe() bool { return true }

func (t *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query"},
			"allowed_domains": {"type": "array", "items": {"type": "string"}, "description": "Only include results from these domains"},
			"blocked_domains": {"type": "array", "items": {"type": "string"}, "description": "Exclude results from these domains"}
		},
		"required": ["query"]
	}`)
}

// ExtractSignature returns the lowercased query for rule matching.
func (t *WebSearchTool) ExtractSignature(input json.RawMessage) []string {
	var params WebSearchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	return []string{"search:" + strings.ToLower(params.Query)}
}

func (t *WebSearchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WebSearchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf(ErrValidation, "invalid input: %v", err), nil
	}
	if strings.TrimSpace(params.Query) == "" {
		return Errorf(ErrValidation, "query must not be empty"), nil
	}

	var results []SearchResult
	provider := ""

	if r, err := t.searchDuckDuckGo(ctx, params.Query); err == nil && len(r) > 0 {
		results = r
		provider = "duckduckgo"
	} else {
		for _, instance := range searxInstances {
			if ctx.Err() != nil {
				return Errorf(ErrAborted, "search aborted"), nil
			}
			if r, err := t.searchSearx(ctx, instance, params.Query); err == nil && len(r) > 0 {
				results = r
				provider = instance
				break
			}
		}
	}

	if ctx.Err() != nil {
		return Errorf(ErrAborted, "search aborted"), nil
	}
	if len(results) == 0 {
		return Errorf(ErrExecution, "no search provider returned results"), nil
	}

	// Domain filtering applies after the provider merge.
	results = filterDomains(results, params.AllowedDomains, params.BlockedDomains)
	if len(results) > searchMaxResults {
		results = results[:searchMaxResults]
	}

	if len(results) == 0 {
		result := &Result{Title: "Web search", Output: "No results after domain filtering"}
		return result.Meta("query", params.Query).Meta("provider", provider).Meta("count", 0), nil
	}

	var sb strings.Builder
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s\n", i+1, r.Title, r.URL))
		if r.Snippet != "" {
			sb.WriteString("   " + r.Snippet + "\n")
		}
	}

	result := &Result{
		Title:  fmt.Sprintf("Found %d results", len(results)),
		Output: sb.String(),
	}
	return result.Meta("query", params.Query).Meta("provider", provider).Meta("count", len(results)), nil
}

// searchDuckDuckGo scrapes the DuckDuckGo HTML endpoint.
func (t *WebSearchTool) searchDuckDuckGo(ctx context.Context, query string) ([]SearchResult, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "blade/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	doc.Find(".result").EachWithBreak(func(i int, s *goquery.Selection) bool {
		link := s.Find(".result__a")
		href := link.AttrOr("href", "")
		title := strings.TrimSpace(link.Text())
		snippet := strings.TrimSpace(s.Find(".result__snippet").Text())
		if href == "" || title == "" {
			return true
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     resolveDuckDuckGoURL(href),
			Snippet: snippet,
		})
		return len(results) < searchMaxResults*2
	})
	return results, nil
}

// resolveDuckDuckGoURL unwraps the uddg redirect parameter.
func resolveDuckDuckGoURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	if u.Scheme == "" {
		return "https:" + href
	}
	return href
}

// searchSearx queries a SearXNG instance's JSON API.
func (t *WebSearchTool) searchSearx(ctx context.Context, instance, query string) ([]SearchResult, error) {
	endpoint := fmt.Sprintf("%s/search?format=json&q=%s", instance, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "blade/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searx %s returned %d", instance, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, r := range payload.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) >= searchMaxResults*2 {
			break
		}
	}
	return results, nil
}

func filterDomains(results []SearchResult, allowed, blocked []string) []SearchResult {
	matches := func(host string, domains []string) bool {
		for _, d := range domains {
			d = strings.ToLower(strings.TrimSpace(d))
			if d == "" {
				continue
			}
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}
		return false
	}

	var out []SearchResult
	for _, r := range results {
		u, err := url.Parse(r.URL)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if len(allowed) > 0 && !matches(host, allowed) {
			continue
		}
		if matches(host, blocked) {
			continue
		}
		out = append(out, r)
	}
	return out
}
