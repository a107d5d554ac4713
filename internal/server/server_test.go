package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seekerhq/seeker/pkg/access"
	"github.com/seekerhq/seeker/pkg/agent"
	"github.com/seekerhq/seeker/pkg/credits"
	"github.com/seekerhq/seeker/pkg/research"
	"github.com/seekerhq/seeker/pkg/session"
)

// completingRunner drives any session straight to a canned final
// answer, standing in for the full agent loop.
type completingRunner struct {
	sessions *session.Manager
	runs     chan uuid.UUID
}

func (r *completingRunner) Run(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	if err := r.sessions.UpdateStatus(ctx, id, session.StatusRunning); err != nil {
		return nil, err
	}
	if err := r.sessions.Complete(ctx, id, session.FinalAnswerResponse{
		Title:            "Research Results",
		MarkdownResponse: "done",
	}); err != nil {
		return nil, err
	}
	r.runs <- id
	return r.sessions.Get(ctx, id)
}

type fixture struct {
	srv        *httptest.Server
	sessions   *session.Manager
	creditMem  *credits.MemoryStore
	accessMem  *access.MemoryStore
	runs       chan uuid.UUID
	userID     uuid.UUID
	personalID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()

	sessions := session.NewManager(session.NewMemoryStore(), log)
	runs := make(chan uuid.UUID, 8)
	runner := &completingRunner{sessions: sessions, runs: runs}

	creditMem := credits.NewMemoryStore()
	userID := uuid.New()
	personalID := uuid.New()
	creditMem.SeedUser(userID, personalID, credits.DefaultConfig().OldUserCutoffDate.Add(24*time.Hour))
	creditMem.SeedAllocation(personalID, decimal.NewFromInt(10))
	ledger := credits.NewLedger(creditMem, credits.DefaultConfig(), log)

	accessMem := access.NewMemoryStore()

	srv, err := New(Config{
		Addr:          "127.0.0.1:0",
		Sessions:      sessions,
		Runner:        runner,
		Ledger:        ledger,
		Access:        access.NewResolver(accessMem, log),
		WebhookSecret: "hook-secret",
		Logger:        log,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{
		srv:        ts,
		sessions:   sessions,
		creditMem:  creditMem,
		accessMem:  accessMem,
		runs:       runs,
		userID:     userID,
		personalID: personalID,
	}
}

func (f *fixture) post(t *testing.T, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) awaitRun(t *testing.T) uuid.UUID {
	t.Helper()
	select {
	case id := <-f.runs:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("background run never started")
		return uuid.Nil
	}
}

func TestCreateSessionRunsToCompletion(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/sessions", map[string]any{
		"user_id":     f.userID,
		"instruction": "research sea otters",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[sessionResponse](t, resp)
	require.NotEqual(t, uuid.Nil, created.ID)
	require.Len(t, created.History, 1)
	assert.Equal(t, "research sea otters", created.History[0].Text)

	id := f.awaitRun(t)
	assert.Equal(t, created.ID, id)

	got := decode[sessionResponse](t, f.get(t, "/api/sessions/"+id.String()))
	assert.Equal(t, session.StatusCompleted, got.Status)

	answer := decode[session.FinalAnswerResponse](t, f.get(t, "/api/sessions/"+id.String()+"/final-answer"))
	assert.Equal(t, "Research Results", answer.Title)
	assert.Equal(t, "done", answer.MarkdownResponse)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/sessions", map[string]any{"instruction": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/api/sessions", map[string]any{"user_id": f.userID}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/api/sessions", map[string]any{
		"user_id":     f.userID,
		"instruction": "x",
		"time_limit":  "not-a-duration",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSessionNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/api/sessions/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.get(t, "/api/sessions/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInterruptThenSubmitConflicts(t *testing.T) {
	f := newFixture(t)
	sess, err := f.sessions.CreateSession(context.Background(), session.CreateParams{UserID: f.userID})
	require.NoError(t, err)

	resp := f.post(t, "/api/sessions/"+sess.ID.String()+"/interrupt", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.post(t, "/api/sessions/"+sess.ID.String()+"/submit", map[string]string{"text": "more"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "interrupted sessions accept no input")
}

func TestFinalAnswerBeforeCompletion(t *testing.T) {
	f := newFixture(t)
	sess, err := f.sessions.CreateSession(context.Background(), session.CreateParams{UserID: f.userID})
	require.NoError(t, err)

	resp := f.get(t, "/api/sessions/"+sess.ID.String()+"/final-answer")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCheckAccess(t *testing.T) {
	f := newFixture(t)
	obj := access.Object{ID: uuid.New(), Type: access.TypeDocument}
	f.accessMem.SetOwner(obj, f.userID)

	path := fmt.Sprintf("/api/access/check?user_id=%s&object_id=%s&object_type=document&action=write", f.userID, obj.ID)
	resp := f.get(t, path)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]bool](t, resp)
	assert.True(t, body["allowed"])

	other := uuid.New()
	path = fmt.Sprintf("/api/access/check?user_id=%s&object_id=%s&object_type=document&action=write", other, obj.ID)
	body = decode[map[string]bool](t, f.get(t, path))
	assert.False(t, body["allowed"])
}

func TestBillingWebhook(t *testing.T) {
	f := newFixture(t)

	record := credits.BillingTransactionRecord{
		ID:              uuid.NewString(),
		UserID:          f.userID.String(),
		EntityID:        f.personalID.String(),
		TransactionType: "debit",
		AmountCents:     30,
	}
	body := map[string]any{"transactions": []credits.BillingTransactionRecord{record}}

	resp := f.post(t, "/api/internal/billing/transactions", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "secret required")

	resp = f.post(t, "/api/internal/billing/transactions", body, map[string]string{WebhookSecretHeader: "hook-secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[credits.BulkDeductResult](t, resp)
	assert.Equal(t, 1, result.TotalProcessed)
	assert.Equal(t, []string{record.ID}, result.SucceededTransactionIDs)

	// Redelivery settles nothing twice.
	resp = f.post(t, "/api/internal/billing/transactions", body, map[string]string{WebhookSecretHeader: "hook-secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, f.creditMem.Transactions(), 1)
}

type nopJobRunner struct{}

func (nopJobRunner) RunAndLog(context.Context, agent.ResearchRequest) (*agent.ResearchResult, error) {
	return &agent.ResearchResult{}, nil
}

func TestResearchRoutesMounted(t *testing.T) {
	log := zerolog.Nop()
	sessions := session.NewManager(session.NewMemoryStore(), log)
	ledger := credits.NewLedger(credits.NewMemoryStore(), credits.DefaultConfig(), log)

	ex, err := research.NewExecutor(research.NewMemoryStore(), nopJobRunner{}, session.Config{}, log)
	require.NoError(t, err)

	srv, err := New(Config{
		Addr:     "127.0.0.1:0",
		Sessions: sessions,
		Runner:   &completingRunner{sessions: sessions},
		Ledger:   ledger,
		Access:   access.NewResolver(access.NewMemoryStore(), log),
		Research: research.NewHandler(ex, []byte("route-test-secret"), log),
		Logger:   log,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// The queue runtime is configured against these exact paths: a
	// tokenless request must reach the handler (401), not fall
	// through to the router (404).
	for _, path := range []string{
		"/api/internal/run-one-time-research/" + uuid.NewString(),
		"/api/internal/run-infinite-research/" + uuid.NewString(),
	} {
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}
