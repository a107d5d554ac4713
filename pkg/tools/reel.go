package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/seekerhq/seeker/pkg/workflow"
)

const reelToolName = "generate_reel"

var reelSchema = []byte(`{
	"type": "object",
	"properties": {
		"prompt": {"type": "string", "description": "What the reel should show."},
		"style": {"type": "string", "description": "Optional visual style."}
	},
	"required": ["prompt"],
	"additionalProperties": false
}`)

type reelParams struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
}

// ReelToolConfig configures the reel-generation tool.
type ReelToolConfig struct {
	Workflows *workflow.Client

	// WorkflowName selects the remote workflow. Empty means
	// "generate_reel".
	WorkflowName string

	Logger zerolog.Logger
}

// ReelTool delegates short-video generation to the external workflow
// service. Costs one credit.
type ReelTool struct {
	workflows *workflow.Client
	workflow  string
	log       zerolog.Logger
}

func NewReelTool(cfg ReelToolConfig) (*ReelTool, error) {
	if cfg.Workflows == nil {
		return nil, fmt.Errorf("tools: reel: workflow client is required")
	}
	name := cfg.WorkflowName
	if name == "" {
		name = "generate_reel"
	}
	return &ReelTool{
		workflows: cfg.Workflows,
		workflow:  name,
		log:       cfg.Logger.With().Str("component", "tool_reel").Logger(),
	}, nil
}

func (t *ReelTool) Name() string { return reelToolName }

func (t *ReelTool) Description() string {
	return "Generate a short video reel from a text prompt."
}

func (t *ReelTool) Schema() []byte { return reelSchema }

func (t *ReelTool) Credits(json.RawMessage) int64 { return 1 }

func (t *ReelTool) Invoke(ctx context.Context, params json.RawMessage, ec ExecutionContext) (*FullToolResponse, *UserToolResponse, error) {
	var p reelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("tools: reel: bad parameters %s: %w", params, err)
	}

	input := map[string]any{
		"prompt":  p.Prompt,
		"user_id": ec.UserID.String(),
	}
	if p.Style != "" {
		input["style"] = p.Style
	}
	result, err := t.workflows.Submit(ctx, workflow.Job{Workflow: t.workflow, Input: input})
	if err != nil {
		return nil, nil, fmt.Errorf("tools: reel: %w", err)
	}

	full := &FullToolResponse{ToolName: reelToolName, Response: result.Output}
	user := &UserToolResponse{
		ToolName: reelToolName,
		Summary:  "Generated a reel",
		Data:     result.Output,
		Icon:     "film",
	}
	return full, user, nil
}
