// Package workflow is the client for the gennodes workflow service,
// which runs delegated content-generation jobs (reels and similar
// long-form outputs).
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds one workflow run end to end.
	DefaultTimeout = 10 * time.Minute

	// DefaultRetries is the attempt count per submission.
	DefaultRetries = 3

	// backoffBase is the exponential backoff base between attempts.
	backoffBase = 100 * time.Millisecond
)

// Job is one workflow submission.
type Job struct {
	Workflow string         `json:"workflow"`
	Input    map[string]any `json:"input"`
}

// Result is the raw workflow output.
type Result struct {
	Output json.RawMessage `json:"output"`
}

// Client submits jobs to a gennodes server with basic auth.
type Client struct {
	baseURL    string
	username   string
	password   string
	timeout    time.Duration
	retries    int
	httpClient *http.Client
	log        zerolog.Logger
}

// Config configures the workflow client.
type Config struct {
	BaseURL  string
	Username string
	Password string
	// Timeout bounds one run; zero means DefaultTimeout.
	Timeout time.Duration
	// Retries is the attempt count; zero means DefaultRetries.
	Retries int
	Logger  zerolog.Logger
}

// NewClient validates the config and creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("workflow: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		username:   cfg.Username,
		password:   cfg.Password,
		timeout:    timeout,
		retries:    retries,
		httpClient: &http.Client{Timeout: timeout},
		log:        cfg.Logger.With().Str("component", "workflow").Logger(),
	}, nil
}

// Submit runs a job synchronously. Failed attempts are retried with
// exponential backoff; the whole call is bounded by the client timeout.
func (c *Client) Submit(ctx context.Context, job Job) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("workflow: failed to marshal job: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			backoff := backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("workflow: %w after %d attempts: %v", ctx.Err(), attempt, lastErr)
			case <-time.After(backoff):
			}
		}

		result, err := c.submitOnce(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt+1).Str("workflow", job.Workflow).Msg("workflow submission failed")
	}

	return nil, fmt.Errorf("workflow: all %d attempts failed: %w", c.retries, lastErr)
}

func (c *Client) submitOnce(ctx context.Context, payload []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/workflows/run", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		// Some workflows return the output document directly.
		result.Output = body
	}
	return &result, nil
}
