package tool

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	retryx "github.com/tanpawarit/agentic-research-assistant/pkg/retry"
)

const (
	ToolWebSearch = "web.search"
	ToolWebFetch  = "web.fetch"

	DefaultSearchEndpoint = "https://lite.duckduckgo.com/lite/"

	defaultUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultMaxResults  = 5
	defaultFetchBytes  = 32 * 1024
	defaultSearchEvery = time.Second
)

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type WebConfig struct {
	SearchEndpoint string        `split_words:"true" default:"https://lite.duckduckgo.com/lite/"`
	Timeout        time.Duration `split_words:"true" default:"15s"`
	MaxResults     int           `split_words:"true" default:"5"`
	MaxFetchBytes  int           `split_words:"true" default:"32768"`
	// MinSearchInterval spaces out search queries from one process.
	MinSearchInterval time.Duration `split_words:"true" default:"1s"`
}

// SearchTool scrapes the DuckDuckGo lite HTML results page.
type SearchTool struct {
	client     *http.Client
	endpoint   string
	maxResults int
	interval   time.Duration
	backoff    retryx.Policy

	mu   sync.Mutex
	last time.Time
}

func NewSearchTool(cfg WebConfig) *SearchTool {
	t := &SearchTool{
		client:     &http.Client{Timeout: cfg.Timeout},
		endpoint:   strings.TrimSpace(cfg.SearchEndpoint),
		maxResults: cfg.MaxResults,
		interval:   cfg.MinSearchInterval,
		// 429 responses back off by doubling up to 30s.
		backoff: retryx.Policy{
			MaxAttempts: 4,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			ShouldRetry: func(err error) bool { return errors.Is(err, errTooManyRequests) },
		},
	}
	if t.endpoint == "" {
		t.endpoint = DefaultSearchEndpoint
	}
	if t.maxResults <= 0 {
		t.maxResults = defaultMaxResults
	}
	if t.interval < 0 {
		t.interval = defaultSearchEvery
	}
	return t
}

func (t *SearchTool) Name() string { return ToolWebSearch }

func (t *SearchTool) Description() string {
	return "Search the web and return titles, urls and snippets of the top results."
}

func (t *SearchTool) Params() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"query": {Type: schema.String, Desc: "Search query", Required: true},
	}
}

var errTooManyRequests = errors.New("search endpoint returned 429")

func (t *SearchTool) Invoke(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", contractx.ErrInvalidParams)
	}
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	var body string
	_, err := retryx.Do(ctx, t.backoff, func(ctx context.Context, _ int) error {
		out, err := t.post(ctx, query)
		if err != nil {
			return err
		}
		body = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := parseSearchResults(body, t.maxResults)
	if len(results) == 0 {
		return nil, fmt.Errorf("no results for query %q", query)
	}
	return results, nil
}

func (t *SearchTool) wait(ctx context.Context) error {
	t.mu.Lock()
	wait := time.Until(t.last.Add(t.interval))
	if wait <= 0 {
		t.last = time.Now()
		t.mu.Unlock()
		return nil
	}
	t.last = t.last.Add(t.interval)
	t.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *SearchTool) post(ctx context.Context, query string) (string, error) {
	form := url.Values{}
	form.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", errTooManyRequests
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("search http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}
	return string(raw), nil
}

var (
	resultLinkPattern    = regexp.MustCompile(`(?is)<a\s[^>]*class=['"]result-link['"][^>]*>.*?</a>`)
	hrefPattern          = regexp.MustCompile(`(?i)href=['"]([^'"]+)['"]`)
	resultSnippetPattern = regexp.MustCompile(`(?is)<td[^>]*class=['"]result-snippet['"][^>]*>(.*?)</td>`)
)

func parseSearchResults(page string, limit int) []SearchResult {
	links := resultLinkPattern.FindAllString(page, -1)
	snippets := resultSnippetPattern.FindAllStringSubmatch(page, -1)

	results := make([]SearchResult, 0, limit)
	for i, anchor := range links {
		href := hrefPattern.FindStringSubmatch(anchor)
		if len(href) < 2 {
			continue
		}
		res := SearchResult{
			Title: collapseText(reTags.ReplaceAllString(anchor, " ")),
			URL:   resolveResultURL(html.UnescapeString(strings.TrimSpace(href[1]))),
		}
		if i < len(snippets) {
			res.Snippet = collapseText(reTags.ReplaceAllString(snippets[i][1], " "))
		}
		if res.URL == "" || res.Title == "" {
			continue
		}
		results = append(results, res)
		if len(results) >= limit {
			break
		}
	}
	return results
}

// resolveResultURL unwraps DuckDuckGo redirect links (//duckduckgo.com/l/?uddg=...).
func resolveResultURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

// FetchTool downloads a page and reduces it to plain text.
type FetchTool struct {
	client   *http.Client
	maxBytes int
}

func NewFetchTool(cfg WebConfig) *FetchTool {
	maxBytes := cfg.MaxFetchBytes
	if maxBytes <= 0 {
		maxBytes = defaultFetchBytes
	}
	return &FetchTool{client: &http.Client{Timeout: cfg.Timeout}, maxBytes: maxBytes}
}

func (t *FetchTool) Name() string { return ToolWebFetch }

func (t *FetchTool) Description() string {
	return "Fetch a web page by url and return its readable text, truncated."
}

func (t *FetchTool) Params() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"url": {Type: schema.String, Desc: "Absolute http(s) url", Required: true},
	}
}

type FetchOutput struct {
	URL       string `json:"url"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (t *FetchTool) Invoke(ctx context.Context, params map[string]any) (any, error) {
	raw, _ := params["url"].(string)
	target, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) url, got %q", contractx.ErrInvalidParams, raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch http %d", resp.StatusCode)
	}

	// Read a little more than the limit so truncation is detectable.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBytes)*4))
	if err != nil {
		return nil, err
	}

	out := FetchOutput{URL: target.String(), Text: stripHTML(string(body))}
	if r := []rune(out.Text); len(r) > t.maxBytes {
		out.Text = string(r[:t.maxBytes])
		out.Truncated = true
	}
	return out, nil
}

var (
	reDropBlocks = regexp.MustCompile(`(?is)<(script|style|nav|header|footer|noscript)[^>]*>.*?</(script|style|nav|header|footer|noscript)>`)
	reTags       = regexp.MustCompile(`<[^>]+>`)
	reSpaces     = regexp.MustCompile(`[ \t\r\f\v]+`)
)

func stripHTML(page string) string {
	s := reDropBlocks.ReplaceAllString(page, " ")
	s = reTags.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if trimmed := strings.TrimSpace(reSpaces.ReplaceAllString(line, " ")); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

func collapseText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}
