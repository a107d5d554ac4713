package research

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seekerhq/seeker/pkg/agent"
	"github.com/seekerhq/seeker/pkg/session"
)

var testSecret = []byte("test-signing-secret")

func TestTaskTokenRoundtrip(t *testing.T) {
	userID := uuid.New()
	taskID := uuid.New()

	token, err := MintTaskToken(testSecret, TaskClaims{UserID: userID, OneTimeResearchID: &taskID}, time.Minute)
	require.NoError(t, err)

	claims, err := VerifyTaskToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	require.NotNil(t, claims.OneTimeResearchID)
	assert.Equal(t, taskID, *claims.OneTimeResearchID)
	assert.Nil(t, claims.InfiniteResearchID)
}

func TestTaskTokenRejectsWrongSecret(t *testing.T) {
	taskID := uuid.New()
	token, err := MintTaskToken(testSecret, TaskClaims{UserID: uuid.New(), OneTimeResearchID: &taskID}, time.Minute)
	require.NoError(t, err)

	_, err = VerifyTaskToken([]byte("other-secret"), token)
	require.Error(t, err)
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "every:10m", want: "@every 10m0s"},
		{in: "every:1h30m", want: "@every 1h30m0s"},
		{in: "0 9 * * 1", want: "0 9 * * 1"},
		{in: "every:-5m", wantErr: true},
		{in: "every:banana", wantErr: true},
		{in: "not a cron spec", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

// stubRunner returns a fixed result for every research request.
type stubRunner struct {
	result  *agent.ResearchResult
	err     error
	calls   int
	lastOrg *uuid.UUID
}

func (s *stubRunner) RunAndLog(_ context.Context, req agent.ResearchRequest) (*agent.ResearchResult, error) {
	s.calls++
	s.lastOrg = req.OrganizationID
	return s.result, s.err
}

func seedOneTime(t *testing.T, store *MemoryStore, status Status) *OneTimeResearch {
	t.Helper()
	task := &OneTimeResearch{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Prompt:    "weekly otter census",
		Status:    status,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateOneTime(context.Background(), task))
	return task
}

func TestExecuteOneTimeSuccess(t *testing.T) {
	store := NewMemoryStore()
	task := seedOneTime(t, store, StatusScheduled)
	runner := &stubRunner{result: &agent.ResearchResult{OutputLog: "mem://research-logs/x.json", Status: session.StatusCompleted}}

	ex, err := NewExecutor(store, runner, session.Config{}, zerolog.Nop())
	require.NoError(t, err)

	executed, err := ex.ExecuteOneTime(context.Background(), task.ID, nil)
	require.NoError(t, err)
	assert.True(t, executed)

	got, err := store.OneTime(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "mem://research-logs/x.json", got.OutputLog)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
}

func TestExecuteOneTimeFailureRecorded(t *testing.T) {
	store := NewMemoryStore()
	task := seedOneTime(t, store, StatusScheduled)
	runner := &stubRunner{err: fmt.Errorf("research ended with status error: insufficient_credits")}

	ex, err := NewExecutor(store, runner, session.Config{}, zerolog.Nop())
	require.NoError(t, err)

	executed, err := ex.ExecuteOneTime(context.Background(), task.ID, nil)
	require.NoError(t, err, "run failure is recorded, not surfaced")
	assert.True(t, executed)

	got, _ := store.OneTime(context.Background(), task.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "insufficient_credits")
}

func TestExecuteOneTimeSkipsFinished(t *testing.T) {
	store := NewMemoryStore()
	task := seedOneTime(t, store, StatusCompleted)
	runner := &stubRunner{result: &agent.ResearchResult{}}

	ex, err := NewExecutor(store, runner, session.Config{}, zerolog.Nop())
	require.NoError(t, err)

	executed, err := ex.ExecuteOneTime(context.Background(), task.ID, nil)
	require.NoError(t, err)
	assert.False(t, executed, "redelivery of a finished task is a no-op")
	assert.Zero(t, runner.calls)
}

func TestExecuteRecurring(t *testing.T) {
	store := NewMemoryStore()
	parent := &InfiniteResearch{ID: uuid.New(), UserID: uuid.New(), Prompt: "daily digest", Schedule: "every:24h", IsEnabled: true}
	require.NoError(t, store.CreateInfinite(context.Background(), parent))
	runner := &stubRunner{result: &agent.ResearchResult{OutputLog: "mem://log"}}

	ex, err := NewExecutor(store, runner, session.Config{}, zerolog.Nop())
	require.NoError(t, err)

	executed, err := ex.ExecuteRecurring(context.Background(), parent.ID, nil)
	require.NoError(t, err)
	assert.True(t, executed)

	execs := store.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, parent.ID, execs[0].ParentID)
	assert.Equal(t, StatusCompleted, execs[0].Status)
	assert.Equal(t, "mem://log", execs[0].OutputLog)
}

func TestExecuteRecurringSkipsDisabled(t *testing.T) {
	store := NewMemoryStore()
	parent := &InfiniteResearch{ID: uuid.New(), UserID: uuid.New(), Prompt: "off", Schedule: "every:24h", IsEnabled: false}
	require.NoError(t, store.CreateInfinite(context.Background(), parent))
	runner := &stubRunner{}

	ex, err := NewExecutor(store, runner, session.Config{}, zerolog.Nop())
	require.NoError(t, err)

	executed, err := ex.ExecuteRecurring(context.Background(), parent.ID, nil)
	require.NoError(t, err)
	assert.False(t, executed)
	assert.Zero(t, runner.calls)
	assert.Empty(t, store.Executions())
}

// failingFinishStore fails the final state update to exercise the
// queue-retry path.
type failingFinishStore struct {
	*MemoryStore
}

func (f *failingFinishStore) FinishOneTime(context.Context, uuid.UUID, Status, string, string, time.Time) error {
	return fmt.Errorf("db unavailable")
}

func newTestServer(t *testing.T, store Store, runner JobRunner) *httptest.Server {
	t.Helper()
	ex, err := NewExecutor(store, runner, session.Config{}, zerolog.Nop())
	require.NoError(t, err)
	h := NewHandler(ex, testSecret, zerolog.Nop())
	r := chi.NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postRun(t *testing.T, srv *httptest.Server, path, token string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandlerRunsTask(t *testing.T) {
	store := NewMemoryStore()
	task := seedOneTime(t, store, StatusScheduled)
	runner := &stubRunner{result: &agent.ResearchResult{OutputLog: "mem://log"}}
	srv := newTestServer(t, store, runner)

	token, err := MintTaskToken(testSecret, TaskClaims{UserID: task.UserID, OneTimeResearchID: &task.ID}, time.Minute)
	require.NoError(t, err)

	orgID := uuid.New()
	resp := postRun(t, srv, "/run-one-time-research/"+task.ID.String(), token, map[string]string{OrganizationHeader: orgID.String()})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, _ := store.OneTime(context.Background(), task.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, runner.lastOrg, "billing scope header forwarded")
	assert.Equal(t, orgID, *runner.lastOrg)
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	store := NewMemoryStore()
	task := seedOneTime(t, store, StatusScheduled)
	srv := newTestServer(t, store, &stubRunner{})

	resp := postRun(t, srv, "/run-one-time-research/"+task.ID.String(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerRejectsMismatchedClaim(t *testing.T) {
	store := NewMemoryStore()
	task := seedOneTime(t, store, StatusScheduled)
	runner := &stubRunner{}
	srv := newTestServer(t, store, runner)

	otherID := uuid.New()
	token, err := MintTaskToken(testSecret, TaskClaims{UserID: task.UserID, OneTimeResearchID: &otherID}, time.Minute)
	require.NoError(t, err)

	resp := postRun(t, srv, "/run-one-time-research/"+task.ID.String(), token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, runner.calls)

	got, _ := store.OneTime(context.Background(), task.ID)
	assert.Equal(t, StatusScheduled, got.Status, "task untouched")
}

func TestHandlerAcksFinishedTask(t *testing.T) {
	store := NewMemoryStore()
	task := seedOneTime(t, store, StatusFailed)
	runner := &stubRunner{}
	srv := newTestServer(t, store, runner)

	token, err := MintTaskToken(testSecret, TaskClaims{UserID: task.UserID, OneTimeResearchID: &task.ID}, time.Minute)
	require.NoError(t, err)

	resp := postRun(t, srv, "/run-one-time-research/"+task.ID.String(), token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "finished tasks ack to stop queue retries")
	assert.Zero(t, runner.calls)
}

func TestHandlerReturns500WhenFinalUpdateFails(t *testing.T) {
	inner := NewMemoryStore()
	task := seedOneTime(t, inner, StatusScheduled)
	store := &failingFinishStore{MemoryStore: inner}
	runner := &stubRunner{result: &agent.ResearchResult{}}
	srv := newTestServer(t, store, runner)

	token, err := MintTaskToken(testSecret, TaskClaims{UserID: task.UserID, OneTimeResearchID: &task.ID}, time.Minute)
	require.NoError(t, err)

	resp := postRun(t, srv, "/run-one-time-research/"+task.ID.String(), token, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "queue must retry")
}

func TestQueueClientHitsRegisteredRoutes(t *testing.T) {
	store := NewMemoryStore()
	runner := &stubRunner{result: &agent.ResearchResult{}}
	srv := newTestServer(t, store, runner)

	qc, err := NewQueueClient(QueueClientConfig{BaseURL: srv.URL, Secret: testSecret, TokenTTL: time.Minute, Logger: zerolog.Nop()})
	require.NoError(t, err)

	task := seedOneTime(t, store, StatusScheduled)
	require.NoError(t, qc.EnqueueOneTime(context.Background(), task, nil))
	assert.Equal(t, 1, runner.calls)

	parent := &InfiniteResearch{ID: uuid.New(), UserID: uuid.New(), Prompt: "tick", Schedule: "every:1h", IsEnabled: true}
	require.NoError(t, store.CreateInfinite(context.Background(), parent))
	require.NoError(t, qc.EnqueueInfinite(context.Background(), parent, nil))
	assert.Equal(t, 2, runner.calls)
}

func TestSchedulerFiresIntervalTask(t *testing.T) {
	store := NewMemoryStore()
	parent := &InfiniteResearch{ID: uuid.New(), UserID: uuid.New(), Prompt: "tick", Schedule: "every:10ms", IsEnabled: true}
	require.NoError(t, store.CreateInfinite(context.Background(), parent))

	fired := make(chan uuid.UUID, 8)
	sched, err := NewScheduler(store, func(_ context.Context, task *InfiniteResearch) error {
		fired <- task.ID
		return nil
	}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	select {
	case id := <-fired:
		assert.Equal(t, parent.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never fired")
	}
}
