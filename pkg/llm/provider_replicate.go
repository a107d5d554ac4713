package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var replicateBaseURL = "https://api.replicate.com/v1"

// ReplicateProvider implements Provider for Replicate-hosted models.
// It uses the synchronous prediction mode (Prefer: wait).
type ReplicateProvider struct {
	apiKey     string
	httpClient *http.Client
}

// NewReplicateProvider creates a new Replicate provider.
func NewReplicateProvider(apiKey string) *ReplicateProvider {
	return &ReplicateProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the vendor identifier.
func (p *ReplicateProvider) Name() Vendor { return VendorReplicate }

type replicatePrediction struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  *string         `json:"error"`
}

// Complete runs a synchronous prediction against a Replicate model.
// Model identifiers use the "owner/name" form.
func (p *ReplicateProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	input := map[string]any{
		"prompt": req.Prompt,
	}
	if req.System != "" {
		input["system_prompt"] = req.System
	}
	if req.MaxTokens > 0 {
		input["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		input["temperature"] = req.Temperature
	}

	payload, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", replicateBaseURL, req.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Prefer", "wait")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replicate request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("replicate API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var prediction replicatePrediction
	if err := json.Unmarshal(respBody, &prediction); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if prediction.Error != nil {
		return nil, fmt.Errorf("replicate prediction failed: %s", *prediction.Error)
	}

	text, err := replicateOutputText(prediction.Output)
	if err != nil {
		return nil, err
	}

	// Replicate does not report token usage for waited predictions;
	// approximate with the usual 4-chars-per-token heuristic.
	return &Response{
		Text: text,
		Usage: Usage{
			InputTokens:  ApproxTokens(req.System + req.Prompt),
			OutputTokens: ApproxTokens(text),
		},
	}, nil
}

// replicateOutputText handles both output shapes Replicate uses for
// language models: a JSON string and an array of string chunks.
func replicateOutputText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("replicate prediction returned no output")
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, nil
	}

	var chunks []string
	if err := json.Unmarshal(raw, &chunks); err == nil {
		return strings.Join(chunks, ""), nil
	}

	return "", fmt.Errorf("unexpected replicate output shape: %s", string(raw))
}
