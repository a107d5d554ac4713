package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seekerhq/seeker/pkg/blob"
	"github.com/seekerhq/seeker/pkg/workflow"
)

const (
	retouchToolName = "retouch_images"

	// maxRetouchBytes caps one downloaded retouch result.
	maxRetouchBytes = 32 << 20
)

var retouchSchema = []byte(`{
	"type": "object",
	"properties": {
		"image_urls": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 1,
			"description": "Source images to retouch."
		},
		"instructions": {"type": "string", "description": "What to change."}
	},
	"required": ["image_urls", "instructions"],
	"additionalProperties": false
}`)

type retouchParams struct {
	ImageURLs    []string `json:"image_urls"`
	Instructions string   `json:"instructions"`
}

type retouchOutput struct {
	URL string `json:"url"`
}

// RetouchToolConfig configures the image-retouch tool.
type RetouchToolConfig struct {
	Workflows *workflow.Client
	Blobs     blob.Store

	// WorkflowName selects the remote workflow. Empty means
	// "retouch_image".
	WorkflowName string

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// RetouchTool retouches images through the workflow service and stores
// the results in the blob store. Costs one credit per image.
type RetouchTool struct {
	workflows *workflow.Client
	blobs     blob.Store
	workflow  string
	client    *http.Client
	log       zerolog.Logger
}

func NewRetouchTool(cfg RetouchToolConfig) (*RetouchTool, error) {
	if cfg.Workflows == nil {
		return nil, fmt.Errorf("tools: retouch: workflow client is required")
	}
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("tools: retouch: blob store is required")
	}
	name := cfg.WorkflowName
	if name == "" {
		name = "retouch_image"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &RetouchTool{
		workflows: cfg.Workflows,
		blobs:     cfg.Blobs,
		workflow:  name,
		client:    client,
		log:       cfg.Logger.With().Str("component", "tool_retouch").Logger(),
	}, nil
}

func (t *RetouchTool) Name() string { return retouchToolName }

func (t *RetouchTool) Description() string {
	return "Retouch one or more images according to instructions. Costs one credit per image."
}

func (t *RetouchTool) Schema() []byte { return retouchSchema }

// Credits charges one credit per source image.
func (t *RetouchTool) Credits(params json.RawMessage) int64 {
	var p retouchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return 1
	}
	if len(p.ImageURLs) == 0 {
		return 1
	}
	return int64(len(p.ImageURLs))
}

func (t *RetouchTool) Invoke(ctx context.Context, params json.RawMessage, ec ExecutionContext) (*FullToolResponse, *UserToolResponse, error) {
	var p retouchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("tools: retouch: bad parameters %s: %w", params, err)
	}

	stored := make([]string, 0, len(p.ImageURLs))
	for _, src := range p.ImageURLs {
		result, err := t.workflows.Submit(ctx, workflow.Job{
			Workflow: t.workflow,
			Input: map[string]any{
				"image_url":    src,
				"instructions": p.Instructions,
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("tools: retouch: %s: %w", src, err)
		}

		var out retouchOutput
		if err := json.Unmarshal(result.Output, &out); err != nil || out.URL == "" {
			return nil, nil, fmt.Errorf("tools: retouch: workflow returned no result url for %s", src)
		}

		url, err := t.persist(ctx, ec.UserID, out.URL)
		if err != nil {
			return nil, nil, err
		}
		stored = append(stored, url)
	}

	full, err := fullResponse(retouchToolName, map[string]any{
		"instructions": p.Instructions,
		"image_urls":   stored,
	})
	if err != nil {
		return nil, nil, err
	}
	user := &UserToolResponse{
		ToolName: retouchToolName,
		Summary:  fmt.Sprintf("Retouched %d image(s)", len(stored)),
		Data:     full.Response,
		Icon:     "image",
	}
	return full, user, nil
}

// persist downloads the workflow's result and re-uploads it to the
// blob store under the requesting user's prefix.
func (t *RetouchTool) persist(ctx context.Context, userID uuid.UUID, resultURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return "", fmt.Errorf("tools: retouch: bad result url: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tools: retouch: failed to download result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tools: retouch: result download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRetouchBytes))
	if err != nil {
		return "", fmt.Errorf("tools: retouch: failed to read result: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	object := blob.UserAssetObject(userID, uuid.New(), extensionFor(contentType))
	url, err := t.blobs.Put(ctx, object, contentType, data)
	if err != nil {
		return "", fmt.Errorf("tools: retouch: failed to store result: %w", err)
	}
	return url, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
