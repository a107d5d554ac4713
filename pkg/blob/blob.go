// Package blob abstracts object storage as a bucket-scoped store with
// signed-URL upload support. The platform treats storage as opaque:
// user uploads, watermarked outputs, and research transcripts all go
// through this interface.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultSignedURLTTL is how long a signed upload URL stays valid.
const DefaultSignedURLTTL = 15 * time.Minute

// ErrNotFound is returned when the object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Store is an object store. Objects are named relative to the store's
// bucket.
type Store interface {
	// SignedPutURL returns a URL a client can PUT the object to
	// directly. ttl <= 0 means DefaultSignedURLTTL.
	SignedPutURL(ctx context.Context, object, contentType string, ttl time.Duration) (string, error)

	// Put writes the object and returns its URL.
	Put(ctx context.Context, object, contentType string, data []byte) (string, error)

	// GetBytes reads the whole object.
	GetBytes(ctx context.Context, object string) ([]byte, error)

	// Delete removes the object.
	Delete(ctx context.Context, object string) error
}

// UserAssetObject names a user upload: `<user_id>/<asset_id>.<ext>`.
func UserAssetObject(userID, assetID uuid.UUID, ext string) string {
	return fmt.Sprintf("%s/%s.%s", userID, assetID, ext)
}

// WatermarkedObject names the watermarked output parallel to a user
// upload.
func WatermarkedObject(userID, assetID uuid.UUID, ext string) string {
	return fmt.Sprintf("watermarked/%s/%s.%s", userID, assetID, ext)
}

// ResearchLogObject names a persisted research transcript.
func ResearchLogObject(executionID uuid.UUID) string {
	return fmt.Sprintf("research-logs/%s.json", executionID)
}
