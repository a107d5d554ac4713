package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueClient submits research invocations to the internal run
// endpoints, minting a task JWT per request. In production the POST
// goes through the task-queue runtime; pointing BaseURL at the service
// itself short-circuits the queue for single-process deployments.
type QueueClient struct {
	baseURL string
	secret  []byte
	ttl     time.Duration
	client  *http.Client
	log     zerolog.Logger
}

type QueueClientConfig struct {
	// BaseURL is the root under which the research routes are
	// mounted, e.g. "http://localhost:8080/api/internal".
	BaseURL string

	// Secret signs the task JWTs.
	Secret []byte

	TokenTTL   time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func NewQueueClient(cfg QueueClientConfig) (*QueueClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("research: queue base URL is required")
	}
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("research: signing secret is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Minute}
	}
	return &QueueClient{
		baseURL: cfg.BaseURL,
		secret:  cfg.Secret,
		ttl:     cfg.TokenTTL,
		client:  client,
		log:     cfg.Logger.With().Str("component", "research_queue").Logger(),
	}, nil
}

// EnqueueOneTime invokes a one-time task's run endpoint.
func (c *QueueClient) EnqueueOneTime(ctx context.Context, task *OneTimeResearch, orgID *uuid.UUID) error {
	claims := TaskClaims{UserID: task.UserID, OneTimeResearchID: &task.ID}
	url := fmt.Sprintf("%s/run-one-time-research/%s", c.baseURL, task.ID)
	return c.post(ctx, url, claims, orgID)
}

// EnqueueInfinite invokes a recurring task's run endpoint.
func (c *QueueClient) EnqueueInfinite(ctx context.Context, task *InfiniteResearch, orgID *uuid.UUID) error {
	claims := TaskClaims{UserID: task.UserID, InfiniteResearchID: &task.ID}
	url := fmt.Sprintf("%s/run-infinite-research/%s", c.baseURL, task.ID)
	return c.post(ctx, url, claims, orgID)
}

func (c *QueueClient) post(ctx context.Context, url string, claims TaskClaims, orgID *uuid.UUID) error {
	token, err := MintTaskToken(c.secret, claims, c.ttl)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("research: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if orgID != nil {
		req.Header.Set(OrganizationHeader, orgID.String())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("research: enqueue failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("research: enqueue returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
