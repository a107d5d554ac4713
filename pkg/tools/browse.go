package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"

	"github.com/seekerhq/seeker/pkg/llm"
)

const (
	browseToolName = "browse_with_query"

	// maxPageBytes caps how much of a fetched page is read.
	maxPageBytes = 1 << 20

	// maxExtractChars caps how much extracted text is sent to the LLM.
	maxExtractChars = 24_000
)

var browseSchema = []byte(`{
	"type": "object",
	"properties": {
		"url": {"type": "string", "description": "Absolute URL of the page to read."},
		"query": {"type": "string", "description": "What to look for on the page."}
	},
	"required": ["url", "query"],
	"additionalProperties": false
}`)

type browseParams struct {
	URL   string `json:"url"`
	Query string `json:"query"`
}

// HTMLFetcher renders a page through a real browser. Used when plain
// HTTP yields nothing useful (JS-heavy pages).
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

// BrowseToolConfig configures the browse_with_query tool.
type BrowseToolConfig struct {
	LLM    *llm.Client
	Models []llm.VendorModel

	// Fetcher is the headless-browser fallback. Optional.
	Fetcher HTMLFetcher

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// BrowseTool fetches a page, extracts its readable text, and answers
// the query with an LLM summary. Costs one credit.
type BrowseTool struct {
	llm     *llm.Client
	models  []llm.VendorModel
	fetcher HTMLFetcher
	client  *http.Client
	log     zerolog.Logger
}

func NewBrowseTool(cfg BrowseToolConfig) (*BrowseTool, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("tools: browse: LLM client is required")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("tools: browse: at least one model is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &BrowseTool{
		llm:     cfg.LLM,
		models:  cfg.Models,
		fetcher: cfg.Fetcher,
		client:  client,
		log:     cfg.Logger.With().Str("component", "tool_browse").Logger(),
	}, nil
}

func (t *BrowseTool) Name() string { return browseToolName }

func (t *BrowseTool) Description() string {
	return "Fetch a web page, extract its readable text, and answer a query about it."
}

func (t *BrowseTool) Schema() []byte { return browseSchema }

func (t *BrowseTool) Credits(json.RawMessage) int64 { return 1 }

func (t *BrowseTool) Invoke(ctx context.Context, params json.RawMessage, _ ExecutionContext) (*FullToolResponse, *UserToolResponse, error) {
	var p browseParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("tools: browse: bad parameters %s: %w", params, err)
	}

	pageURL, err := url.Parse(p.URL)
	if err != nil || pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return nil, nil, fmt.Errorf("tools: browse: invalid url %q", p.URL)
	}

	text, title, err := t.extract(ctx, pageURL)
	if err != nil {
		return nil, nil, err
	}
	if len(text) > maxExtractChars {
		text = text[:maxExtractChars]
	}

	answer, err := t.summarize(ctx, p.Query, pageURL.String(), title, text)
	if err != nil {
		return nil, nil, err
	}

	full, err := fullResponse(browseToolName, map[string]any{
		"url":    p.URL,
		"query":  p.Query,
		"title":  title,
		"answer": answer,
	})
	if err != nil {
		return nil, nil, err
	}
	user := &UserToolResponse{
		ToolName: browseToolName,
		Summary:  fmt.Sprintf("Read %s", p.URL),
		Icon:     "globe",
	}
	return full, user, nil
}

// extract fetches the page over HTTP and runs readability. When the
// plain fetch fails or yields no text, the headless fetcher takes over.
func (t *BrowseTool) extract(ctx context.Context, pageURL *url.URL) (text, title string, err error) {
	html, httpErr := t.fetchHTTP(ctx, pageURL.String())
	if httpErr == nil {
		if text, title, err = readable(html, pageURL); err == nil && strings.TrimSpace(text) != "" {
			return text, title, nil
		}
	}

	if t.fetcher == nil {
		if httpErr != nil {
			return "", "", fmt.Errorf("tools: browse: fetch failed: %w", httpErr)
		}
		return "", "", fmt.Errorf("tools: browse: no readable content at %s", pageURL)
	}

	t.log.Debug().Str("url", pageURL.String()).Msg("falling back to headless fetch")
	html, err = t.fetcher.FetchHTML(ctx, pageURL.String())
	if err != nil {
		return "", "", fmt.Errorf("tools: browse: headless fetch failed: %w", err)
	}
	text, title, err = readable(html, pageURL)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("tools: browse: no readable content at %s", pageURL)
	}
	return text, title, nil
}

func (t *BrowseTool) fetchHTTP(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; seeker-agent/1.0)")
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func readable(html string, pageURL *url.URL) (text, title string, err error) {
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return "", "", fmt.Errorf("tools: browse: extraction failed: %w", err)
	}
	return article.TextContent, article.Title, nil
}

func (t *BrowseTool) summarize(ctx context.Context, query, pageURL, title, text string) (string, error) {
	prompt := fmt.Sprintf("Page URL: %s\nPage title: %s\n\nPage content:\n%s\n\nQuery: %s", pageURL, title, text, query)
	req := llm.Request{
		System:    "You answer questions about a web page using only the provided page content. Be concise and factual. If the content does not answer the query, say so.",
		Prompt:    prompt,
		MaxTokens: 1024,
	}

	var errs []error
	for _, vm := range t.models {
		provider, err := t.llm.Provider(vm.Vendor)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		req.Model = vm.Model
		resp, err := provider.Complete(ctx, req)
		if err != nil {
			t.log.Warn().Err(err).Str("model", vm.String()).Msg("summarize attempt failed")
			errs = append(errs, fmt.Errorf("%s: %w", vm, err))
			continue
		}
		return resp.Text, nil
	}
	return "", fmt.Errorf("tools: browse: summarize failed: %w", &llm.ExhaustedError{Errs: errs})
}
