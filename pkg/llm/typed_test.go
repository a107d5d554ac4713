package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportCard struct {
	Grade string `json:"grade"`
	Score int    `json:"score"`
}

func (reportCard) Schema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"grade": {"type": "string"},
			"score": {"type": "integer"}
		},
		"required": ["grade", "score"]
	}`)
}

// stubProvider replays scripted responses and counts calls.
type stubProvider struct {
	vendor    Vendor
	responses []string
	errs      []error
	calls     int
}

func (s *stubProvider) Name() Vendor { return s.vendor }

func (s *stubProvider) Complete(_ context.Context, _ Request) (*Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	text := s.responses[len(s.responses)-1]
	if i < len(s.responses) {
		text = s.responses[i]
	}
	return &Response{Text: text, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func newTestClient(providers ...Provider) *Client {
	c := NewClient(ClientConfig{Logger: zerolog.Nop()})
	for _, p := range providers {
		c.Register(p)
	}
	return c
}

func TestTypedRoundtripAllFormats(t *testing.T) {
	tests := []struct {
		name     string
		format   OutputFormat
		response string
	}{
		{"json", FormatJSON, `{"grade": "A", "score": 91}`},
		{"yaml", FormatYAML, "grade: A\nscore: 91"},
		{"toml", FormatTOML, "grade = \"A\"\nscore = 91"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubProvider{vendor: VendorAnthropic, responses: []string{tt.response}}
			c := newTestClient(stub)

			got, err := Typed[reportCard](context.Background(), c, "grade this", CallOptions{
				Models: []VendorModel{{Vendor: VendorAnthropic, Model: "claude-test"}},
				Format: tt.format,
			})
			require.NoError(t, err)
			assert.Equal(t, reportCard{Grade: "A", Score: 91}, got)
		})
	}
}

func TestTypedRetriesSameModelThenSucceeds(t *testing.T) {
	stub := &stubProvider{
		vendor:    VendorAnthropic,
		responses: []string{"not json", `{"grade": "B", "score": 70}`},
	}
	c := newTestClient(stub)

	got, err := Typed[reportCard](context.Background(), c, "grade this", CallOptions{
		Models:  []VendorModel{{Vendor: VendorAnthropic, Model: "claude-test"}},
		Retries: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
	assert.Equal(t, reportCard{Grade: "B", Score: 70}, got)
}

func TestTypedFallsBackToNextModel(t *testing.T) {
	broken := &stubProvider{
		vendor: VendorAnthropic,
		errs:   []error{errors.New("vendor down"), errors.New("vendor down")},
	}
	healthy := &stubProvider{
		vendor:    VendorOpenAI,
		responses: []string{`{"grade": "C", "score": 55}`},
	}
	c := newTestClient(broken, healthy)

	got, err := Typed[reportCard](context.Background(), c, "grade this", CallOptions{
		Models: []VendorModel{
			{Vendor: VendorAnthropic, Model: "claude-test"},
			{Vendor: VendorOpenAI, Model: "gpt-test"},
		},
		Retries: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, broken.calls)
	assert.Equal(t, 1, healthy.calls)
	assert.Equal(t, reportCard{Grade: "C", Score: 55}, got)
}

func TestTypedSchemaValidationFailureExhausts(t *testing.T) {
	stub := &stubProvider{
		vendor:    VendorAnthropic,
		responses: []string{`{"grade": "A"}`},
	}
	c := newTestClient(stub)

	_, err := Typed[reportCard](context.Background(), c, "grade this", CallOptions{
		Models:  []VendorModel{{Vendor: VendorAnthropic, Model: "claude-test"}},
		Retries: 2,
	})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, stub.calls)
	assert.Contains(t, err.Error(), "score")
}

func TestTypedNoModels(t *testing.T) {
	c := newTestClient()
	_, err := Typed[reportCard](context.Background(), c, "grade this", CallOptions{})
	assert.ErrorIs(t, err, ErrNoModels)
}

func TestLogFileName(t *testing.T) {
	name := logFileName("llm_typed", "2026-01-02T03:04:05.678+00:00", "req/1:a")
	assert.Equal(t, "llm_typed_2026-01-02T03-04-05-678ZPLUS00-00_req_1_a.yaml", name)
}
