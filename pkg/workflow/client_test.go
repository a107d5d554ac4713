package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitSuccess(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var job Job
		require.NoError(t, json.NewDecoder(r.Body).Decode(&job))
		assert.Equal(t, "generate_reel", job.Workflow)
		_, _ = w.Write([]byte(`{"output": {"url": "https://cdn.example.com/reel.mp4"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:  server.URL,
		Username: "seeker",
		Password: "hunter2",
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	result, err := client.Submit(context.Background(), Job{
		Workflow: "generate_reel",
		Input:    map[string]any{"prompt": "a tour"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, gotAuth, "basic auth header must be set")
	assert.JSONEq(t, `{"url": "https://cdn.example.com/reel.mp4"}`, string(result.Output))
}

func TestSubmitRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"output": "ok"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	result, err := client.Submit(context.Background(), Job{Workflow: "generate_reel"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.JSONEq(t, `"ok"`, string(result.Output))
}

func TestSubmitExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), Job{Workflow: "generate_reel"})
	require.Error(t, err)
	assert.Equal(t, int32(DefaultRetries), calls.Load())
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
