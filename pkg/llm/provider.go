package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Provider is a single-vendor completion backend.
type Provider interface {
	// Name returns the vendor identifier.
	Name() Vendor

	// Complete sends one completion request and returns the raw text.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ClientConfig configures the multi-vendor client.
type ClientConfig struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	// OpenAIBaseURL points the OpenAI adapter at an OpenAI-compatible
	// endpoint. Empty means the official API.
	OpenAIBaseURL   string
	GeminiAPIKey    string
	ReplicateAPIKey string

	// LogDir is where per-attempt interaction logs are written.
	// Empty disables file logging.
	LogDir string

	Logger zerolog.Logger
}

// Client routes completion requests to vendor providers and records
// per-attempt interaction logs.
type Client struct {
	providers map[Vendor]Provider
	logbook   *Logbook
	log       zerolog.Logger
}

// NewClient builds a client with one provider per configured vendor.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		providers: make(map[Vendor]Provider),
		logbook:   NewLogbook(cfg.LogDir, cfg.Logger),
		log:       cfg.Logger,
	}
	if cfg.AnthropicAPIKey != "" {
		c.providers[VendorAnthropic] = NewAnthropicProvider(cfg.AnthropicAPIKey)
	}
	if cfg.OpenAIAPIKey != "" {
		c.providers[VendorOpenAI] = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	}
	if cfg.GeminiAPIKey != "" {
		c.providers[VendorGemini] = NewGeminiProvider(cfg.GeminiAPIKey)
	}
	if cfg.ReplicateAPIKey != "" {
		c.providers[VendorReplicate] = NewReplicateProvider(cfg.ReplicateAPIKey)
	}
	return c
}

// Register installs or replaces the provider for a vendor. Tests use
// this to inject stubs.
func (c *Client) Register(p Provider) {
	c.providers[p.Name()] = p
}

// Provider returns the provider registered for a vendor.
func (c *Client) Provider(v Vendor) (Provider, error) {
	p, ok := c.providers[v]
	if !ok {
		return nil, fmt.Errorf("llm: no provider registered for vendor %q", v)
	}
	return p, nil
}

// Logbook exposes the interaction logbook, mainly for handlers that
// want to record calls made outside Typed.
func (c *Client) Logbook() *Logbook { return c.logbook }
