// Package tools implements the agent's tool registry and the built-in
// tool handlers. A tool declares a JSON schema for its parameters and
// a credit cost; the registry validates, enforces credit availability,
// invokes, and debits with an idempotent entity ID.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ToolChoice is the agent's decision to invoke one tool.
type ToolChoice struct {
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters"`
}

// FullToolResponse is the machine record of a tool invocation, joined
// to the session context verbatim.
type FullToolResponse struct {
	ToolName string          `json:"tool_name"`
	Response json.RawMessage `json:"response"`
}

// UserToolResponse is the user-facing rendering of a tool result.
type UserToolResponse struct {
	ToolName string          `json:"tool_name"`
	Summary  string          `json:"summary"`
	Data     json.RawMessage `json:"data,omitempty"`
	Icon     string          `json:"icon,omitempty"`
}

// ExecutionContext carries the per-call identity and session hooks a
// tool may need. Heavyweight dependencies (LLM client, blob store,
// workflow client) are bound at tool construction instead.
type ExecutionContext struct {
	UserID         uuid.UUID
	OrganizationID *uuid.UUID
	SessionID      uuid.UUID
	Iteration      int

	// AppendContext adds an entry to the session context. Nil when the
	// tool runs outside a session.
	AppendContext func(ctx context.Context, kind, content string) error
}

// Tool is one registered handler.
type Tool interface {
	Name() string
	Description() string

	// Schema returns the JSON schema the parameters must satisfy.
	Schema() []byte

	// Credits returns the cost of invoking with these parameters.
	// Zero marks the tool free.
	Credits(params json.RawMessage) int64

	Invoke(ctx context.Context, params json.RawMessage, ec ExecutionContext) (*FullToolResponse, *UserToolResponse, error)
}

// EntityID derives the idempotency key for one tool debit. The same
// (session, iteration, tool) always maps to the same ID, so a retried
// invocation cannot double-charge.
func EntityID(sessionID uuid.UUID, iteration int, toolName string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s:%d:%s", sessionID, iteration, toolName))
}

func fullResponse(name string, payload any) (*FullToolResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tools: failed to encode %s response: %w", name, err)
	}
	return &FullToolResponse{ToolName: name, Response: raw}, nil
}
