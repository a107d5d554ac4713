package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seekerhq/seeker/pkg/credits"
)

type fakeTool struct {
	name    string
	cost    int64
	invoked int
	fail    error
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake" }
func (f *fakeTool) Schema() []byte {
	return []byte(`{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"],"additionalProperties":false}`)
}
func (f *fakeTool) Credits(json.RawMessage) int64 { return f.cost }
func (f *fakeTool) Invoke(_ context.Context, _ json.RawMessage, _ ExecutionContext) (*FullToolResponse, *UserToolResponse, error) {
	f.invoked++
	if f.fail != nil {
		return nil, nil, f.fail
	}
	return &FullToolResponse{ToolName: f.name, Response: json.RawMessage(`{"ok":true}`)},
		&UserToolResponse{ToolName: f.name, Summary: "ok"}, nil
}

func newTestLedger(t *testing.T, balance int64) (*credits.Ledger, *credits.MemoryStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	store := credits.NewMemoryStore()
	userID := uuid.New()
	orgID := uuid.New()
	store.SeedUser(userID, orgID, credits.DefaultConfig().OldUserCutoffDate.AddDate(0, 0, 1))
	store.SeedAllocation(orgID, decimal.NewFromInt(balance))
	ledger := credits.NewLedger(store, credits.DefaultConfig(), zerolog.Nop())
	return ledger, store, userID, orgID
}

func TestDispatchUnknownTool(t *testing.T) {
	ledger, _, userID, _ := newTestLedger(t, 10)
	r := NewRegistry(ledger, zerolog.Nop())

	_, err := r.Dispatch(context.Background(), ExecutionContext{UserID: userID, SessionID: uuid.New()},
		ToolChoice{ToolName: "nope", Parameters: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown tool "nope"`)
}

func TestDispatchRejectsInvalidParams(t *testing.T) {
	ledger, _, userID, _ := newTestLedger(t, 10)
	r := NewRegistry(ledger, zerolog.Nop())
	ft := &fakeTool{name: "fake", cost: 1}
	require.NoError(t, r.Register(ft))

	_, err := r.Dispatch(context.Background(), ExecutionContext{UserID: userID, SessionID: uuid.New()},
		ToolChoice{ToolName: "fake", Parameters: json.RawMessage(`{"n":"not a number"}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"n":"not a number"`, "raw parameters echoed for diagnosis")
	assert.Zero(t, ft.invoked)
}

func TestDispatchDebitsWithStableEntityID(t *testing.T) {
	ledger, store, userID, _ := newTestLedger(t, 10)
	r := NewRegistry(ledger, zerolog.Nop())
	require.NoError(t, r.Register(&fakeTool{name: "fake", cost: 2}))

	sessionID := uuid.New()
	ec := ExecutionContext{UserID: userID, SessionID: sessionID, Iteration: 3}
	outcome, err := r.Dispatch(context.Background(), ec,
		ToolChoice{ToolName: "fake", Parameters: json.RawMessage(`{"n":1}`)})
	require.NoError(t, err)
	require.NotNil(t, outcome.Transaction)

	txs := store.Transactions()
	require.Len(t, txs, 1)
	assert.True(t, txs[0].CreditsChanged.Equal(decimal.NewFromInt(-2)))
	assert.Equal(t, "tool:fake", txs[0].ActionType)
	require.NotNil(t, txs[0].EntityID)
	assert.Equal(t, EntityID(sessionID, 3, "fake"), *txs[0].EntityID)
	assert.Equal(t, EntityID(sessionID, 3, "fake"), EntityID(sessionID, 3, "fake"), "deterministic")
	assert.NotEqual(t, EntityID(sessionID, 3, "fake"), EntityID(sessionID, 4, "fake"))
}

func TestDispatchInsufficientCreditsSkipsInvoke(t *testing.T) {
	ledger, store, userID, _ := newTestLedger(t, 0)
	r := NewRegistry(ledger, zerolog.Nop())
	ft := &fakeTool{name: "fake", cost: 1}
	require.NoError(t, r.Register(ft))

	_, err := r.Dispatch(context.Background(), ExecutionContext{UserID: userID, SessionID: uuid.New()},
		ToolChoice{ToolName: "fake", Parameters: json.RawMessage(`{"n":1}`)})
	require.ErrorIs(t, err, credits.ErrInsufficientCredits)
	assert.Zero(t, ft.invoked, "handler must not run without credits")
	assert.Empty(t, store.Transactions())
}

func TestDispatchToolFailureNoDebit(t *testing.T) {
	ledger, store, userID, _ := newTestLedger(t, 10)
	r := NewRegistry(ledger, zerolog.Nop())
	require.NoError(t, r.Register(&fakeTool{name: "fake", cost: 1, fail: fmt.Errorf("boom")}))

	_, err := r.Dispatch(context.Background(), ExecutionContext{UserID: userID, SessionID: uuid.New()},
		ToolChoice{ToolName: "fake", Parameters: json.RawMessage(`{"n":1}`)})
	require.Error(t, err)
	assert.Empty(t, store.Transactions(), "failed invocations are not charged")
}

func TestDispatchFreeTool(t *testing.T) {
	ledger, store, userID, _ := newTestLedger(t, 10)
	r := NewRegistry(ledger, zerolog.Nop())
	require.NoError(t, r.Register(NewSaveContextTool()))

	var savedKind, savedContent string
	ec := ExecutionContext{
		UserID:    userID,
		SessionID: uuid.New(),
		AppendContext: func(_ context.Context, kind, content string) error {
			savedKind, savedContent = kind, content
			return nil
		},
	}
	outcome, err := r.Dispatch(context.Background(), ec,
		ToolChoice{ToolName: "save_context", Parameters: json.RawMessage(`{"content":"remember this"}`)})
	require.NoError(t, err)
	assert.Nil(t, outcome.Transaction)
	assert.Equal(t, "note", savedKind)
	assert.Equal(t, "remember this", savedContent)
	assert.Empty(t, store.Transactions())
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	ledger, _, _, _ := newTestLedger(t, 0)
	r := NewRegistry(ledger, zerolog.Nop())
	require.NoError(t, r.Register(&fakeTool{name: "fake"}))
	require.Error(t, r.Register(&fakeTool{name: "fake"}))
}

func TestCatalogListsTools(t *testing.T) {
	ledger, _, _, _ := newTestLedger(t, 0)
	r := NewRegistry(ledger, zerolog.Nop())
	require.NoError(t, r.Register(&fakeTool{name: "alpha"}))
	require.NoError(t, r.Register(NewSaveContextTool()))

	catalog := r.Catalog()
	assert.Contains(t, catalog, "## alpha")
	assert.Contains(t, catalog, "## save_context")
	assert.Contains(t, catalog, `"content"`)
}

func TestRetouchCreditsPerImage(t *testing.T) {
	tool := &RetouchTool{}
	assert.Equal(t, int64(3), tool.Credits(json.RawMessage(`{"image_urls":["a","b","c"],"instructions":"x"}`)))
	assert.Equal(t, int64(1), tool.Credits(json.RawMessage(`{"image_urls":["a"],"instructions":"x"}`)))
}
