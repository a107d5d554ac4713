package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const saveContextToolName = "save_context"

var saveContextSchema = []byte(`{
	"type": "object",
	"properties": {
		"content": {"type": "string", "description": "Note to remember for the rest of the run."}
	},
	"required": ["content"],
	"additionalProperties": false
}`)

type saveContextParams struct {
	Content string `json:"content"`
}

// SaveContextTool appends a free-form note to the session context. Free.
type SaveContextTool struct{}

func NewSaveContextTool() *SaveContextTool { return &SaveContextTool{} }

func (t *SaveContextTool) Name() string { return saveContextToolName }

func (t *SaveContextTool) Description() string {
	return "Save a note into the research context for later iterations."
}

func (t *SaveContextTool) Schema() []byte { return saveContextSchema }

func (t *SaveContextTool) Credits(json.RawMessage) int64 { return 0 }

func (t *SaveContextTool) Invoke(ctx context.Context, params json.RawMessage, ec ExecutionContext) (*FullToolResponse, *UserToolResponse, error) {
	var p saveContextParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("tools: save_context: bad parameters %s: %w", params, err)
	}
	if ec.AppendContext == nil {
		return nil, nil, fmt.Errorf("tools: save_context: no session context available")
	}
	if err := ec.AppendContext(ctx, "note", p.Content); err != nil {
		return nil, nil, fmt.Errorf("tools: save_context: %w", err)
	}

	full, err := fullResponse(saveContextToolName, map[string]any{"saved": true})
	if err != nil {
		return nil, nil, err
	}
	user := &UserToolResponse{
		ToolName: saveContextToolName,
		Summary:  "Saved a note",
		Icon:     "bookmark",
	}
	return full, user, nil
}

const documentCountToolName = "document_count"

var documentCountSchema = []byte(`{
	"type": "object",
	"properties": {},
	"additionalProperties": false
}`)

// DocumentCounter reports how many documents the scope can see.
type DocumentCounter interface {
	CountDocuments(ctx context.Context, userID uuid.UUID, organizationID *uuid.UUID) (int64, error)
}

// DocumentCountTool reports the caller's document count. Read-only, free.
type DocumentCountTool struct {
	counter DocumentCounter
}

func NewDocumentCountTool(counter DocumentCounter) (*DocumentCountTool, error) {
	if counter == nil {
		return nil, fmt.Errorf("tools: document_count: counter is required")
	}
	return &DocumentCountTool{counter: counter}, nil
}

func (t *DocumentCountTool) Name() string { return documentCountToolName }

func (t *DocumentCountTool) Description() string {
	return "Count the documents visible to the current user."
}

func (t *DocumentCountTool) Schema() []byte { return documentCountSchema }

func (t *DocumentCountTool) Credits(json.RawMessage) int64 { return 0 }

func (t *DocumentCountTool) Invoke(ctx context.Context, _ json.RawMessage, ec ExecutionContext) (*FullToolResponse, *UserToolResponse, error) {
	count, err := t.counter.CountDocuments(ctx, ec.UserID, ec.OrganizationID)
	if err != nil {
		return nil, nil, fmt.Errorf("tools: document_count: %w", err)
	}

	full, err := fullResponse(documentCountToolName, map[string]any{"count": count})
	if err != nil {
		return nil, nil, err
	}
	user := &UserToolResponse{
		ToolName: documentCountToolName,
		Summary:  fmt.Sprintf("You have %d document(s)", count),
		Icon:     "file",
	}
	return full, user, nil
}
