package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seekerhq/seeker/pkg/llm"
)

type stubProvider struct {
	vendor   llm.Vendor
	text     string
	requests []llm.Request
}

func (s *stubProvider) Name() llm.Vendor { return s.vendor }

func (s *stubProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	return &llm.Response{Text: s.text}, nil
}

const testPage = `<!DOCTYPE html>
<html><head><title>Otters</title></head><body>
<article>
<h1>Sea Otters</h1>
<p>Sea otters are a keystone species of kelp forest ecosystems. They eat
sea urchins, which would otherwise graze kelp down to barrens. A single
otter can eat a quarter of its body weight in food every day.</p>
<p>Unlike most marine mammals, sea otters have no blubber and rely on
the densest fur in the animal kingdom to stay warm.</p>
</article>
</body></html>`

func TestBrowseToolAnswersQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testPage))
	}))
	defer srv.Close()

	provider := &stubProvider{vendor: llm.VendorAnthropic, text: "Otters keep urchins in check."}
	client := llm.NewClient(llm.ClientConfig{Logger: zerolog.Nop()})
	client.Register(provider)

	tool, err := NewBrowseTool(BrowseToolConfig{
		LLM:    client,
		Models: []llm.VendorModel{{Vendor: llm.VendorAnthropic, Model: "claude-sonnet-4-20250514"}},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	params, _ := json.Marshal(browseParams{URL: srv.URL, Query: "why do otters matter"})
	full, user, err := tool.Invoke(context.Background(), params, ExecutionContext{})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(full.Response, &payload))
	assert.Equal(t, "Otters keep urchins in check.", payload["answer"])

	require.Len(t, provider.requests, 1)
	assert.Contains(t, provider.requests[0].Prompt, "keystone species", "extracted text reaches the model")
	assert.Contains(t, provider.requests[0].Prompt, "why do otters matter")
	assert.Contains(t, user.Summary, srv.URL)
}

func TestBrowseToolRejectsBadURL(t *testing.T) {
	client := llm.NewClient(llm.ClientConfig{Logger: zerolog.Nop()})
	client.Register(&stubProvider{vendor: llm.VendorAnthropic})

	tool, err := NewBrowseTool(BrowseToolConfig{
		LLM:    client,
		Models: []llm.VendorModel{{Vendor: llm.VendorAnthropic, Model: "m"}},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	_, _, err = tool.Invoke(context.Background(), json.RawMessage(`{"url":"ftp://x","query":"q"}`), ExecutionContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid url")
}

func TestSearchToolUsesGroundedSearch(t *testing.T) {
	provider := &stubProvider{vendor: llm.VendorGemini, text: "Fresh answer."}
	client := llm.NewClient(llm.ClientConfig{Logger: zerolog.Nop()})
	client.Register(provider)

	tool, err := NewSearchTool(SearchToolConfig{LLM: client, Model: "gemini-2.5-flash", Logger: zerolog.Nop()})
	require.NoError(t, err)

	full, _, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"latest otter census"}`), ExecutionContext{})
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	assert.True(t, provider.requests[0].GroundedSearch)
	assert.Equal(t, "gemini-2.5-flash", provider.requests[0].Model)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(full.Response, &payload))
	assert.Equal(t, "Fresh answer.", payload["answer"])
}
