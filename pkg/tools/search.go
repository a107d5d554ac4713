package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/seekerhq/seeker/pkg/llm"
)

const searchToolName = "google_search_browse"

var searchSchema = []byte(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Search query."}
	},
	"required": ["query"],
	"additionalProperties": false
}`)

type searchParams struct {
	Query string `json:"query"`
}

// SearchToolConfig configures the grounded-search tool.
type SearchToolConfig struct {
	LLM    *llm.Client
	Model  string
	Logger zerolog.Logger
}

// SearchTool answers a query with Gemini's grounded Google search.
// Costs one credit.
type SearchTool struct {
	llm   *llm.Client
	model string
	log   zerolog.Logger
}

func NewSearchTool(cfg SearchToolConfig) (*SearchTool, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("tools: search: LLM client is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("tools: search: model is required")
	}
	return &SearchTool{
		llm:   cfg.LLM,
		model: cfg.Model,
		log:   cfg.Logger.With().Str("component", "tool_search").Logger(),
	}, nil
}

func (t *SearchTool) Name() string { return searchToolName }

func (t *SearchTool) Description() string {
	return "Search the web and synthesize an answer from current results."
}

func (t *SearchTool) Schema() []byte { return searchSchema }

func (t *SearchTool) Credits(json.RawMessage) int64 { return 1 }

func (t *SearchTool) Invoke(ctx context.Context, params json.RawMessage, _ ExecutionContext) (*FullToolResponse, *UserToolResponse, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("tools: search: bad parameters %s: %w", params, err)
	}

	provider, err := t.llm.Provider(llm.VendorGemini)
	if err != nil {
		return nil, nil, fmt.Errorf("tools: search: %w", err)
	}
	resp, err := provider.Complete(ctx, llm.Request{
		Model:          t.model,
		Prompt:         p.Query,
		MaxTokens:      2048,
		GroundedSearch: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("tools: search: %w", err)
	}

	full, err := fullResponse(searchToolName, map[string]any{
		"query":  p.Query,
		"answer": resp.Text,
	})
	if err != nil {
		return nil, nil, err
	}
	user := &UserToolResponse{
		ToolName: searchToolName,
		Summary:  fmt.Sprintf("Searched for %q", p.Query),
		Icon:     "search",
	}
	return full, user, nil
}
