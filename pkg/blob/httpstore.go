package blob

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// HTTPStore talks to a signed-URL-capable object storage gateway.
// Upload URLs are HMAC-signed with the store secret; the gateway
// verifies signature and expiry.
type HTTPStore struct {
	baseURL    string
	bucket     string
	secret     []byte
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

// HTTPStoreConfig configures an HTTPStore.
type HTTPStoreConfig struct {
	BaseURL string
	Bucket  string
	Secret  string
	Logger  zerolog.Logger
}

// NewHTTPStore creates a store for one bucket.
func NewHTTPStore(cfg HTTPStoreConfig) (*HTTPStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("blob: base URL is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: bucket is required")
	}
	return &HTTPStore{
		baseURL:    cfg.BaseURL,
		bucket:     cfg.Bucket,
		secret:     []byte(cfg.Secret),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        cfg.Logger.With().Str("component", "blob").Str("bucket", cfg.Bucket).Logger(),
		now:        time.Now,
	}, nil
}

func (s *HTTPStore) objectURL(object string) string {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, s.bucket, url.PathEscape(object))
}

// SignedPutURL returns a pre-signed upload URL valid for ttl.
func (s *HTTPStore) SignedPutURL(_ context.Context, object, contentType string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	expires := s.now().Add(ttl).Unix()

	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "PUT\n%s/%s\n%s\n%d", s.bucket, object, contentType, expires)
	sig := hex.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("content-type", contentType)
	q.Set("signature", sig)
	return s.objectURL(object) + "?" + q.Encode(), nil
}

// Put uploads the object and returns its canonical URL.
func (s *HTTPStore) Put(ctx context.Context, object, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(object), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("blob: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob: upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("blob: upload rejected (status %d): %s", resp.StatusCode, string(body))
	}

	s.log.Debug().Str("object", object).Int("bytes", len(data)).Msg("object uploaded")
	return s.objectURL(object), nil
}

// GetBytes downloads the whole object.
func (s *HTTPStore) GetBytes(ctx context.Context, object string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(object), nil)
	if err != nil {
		return nil, fmt.Errorf("blob: failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blob: download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("blob: download rejected (status %d)", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Delete removes the object. Deleting a missing object is not an
// error.
func (s *HTTPStore) Delete(ctx context.Context, object string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(object), nil)
	if err != nil {
		return fmt.Errorf("blob: failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("blob: delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return fmt.Errorf("blob: delete rejected (status %d)", resp.StatusCode)
	}
	return nil
}
