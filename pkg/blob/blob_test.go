package blob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectNaming(t *testing.T) {
	userID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	assetID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	execID := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	assert.Equal(t,
		"11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222.png",
		UserAssetObject(userID, assetID, "png"))
	assert.Equal(t,
		"research-logs/33333333-3333-3333-3333-333333333333.json",
		ResearchLogObject(execID))
}

func TestMemoryStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	url, err := store.Put(ctx, "a/b.txt", "text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "mem://a/b.txt", url)

	data, err := store.GetBytes(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, store.Delete(ctx, "a/b.txt"))
	_, err = store.GetBytes(ctx, "a/b.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPStorePutAndGet(t *testing.T) {
	var gotPath, gotMethod, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotMethod = r.Method
		if r.Method == http.MethodPut {
			buf := make([]byte, r.ContentLength)
			_, _ = r.Body.Read(buf)
			gotBody = string(buf)
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write([]byte("stored-content"))
	}))
	defer server.Close()

	store, err := NewHTTPStore(HTTPStoreConfig{
		BaseURL: server.URL,
		Bucket:  "microsites",
		Secret:  "s3cret",
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	url, err := store.Put(ctx, "u1/a1.png", "image/png", []byte("pixels"))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/microsites/u1%2Fa1.png", gotPath)
	assert.Equal(t, "pixels", gotBody)
	assert.True(t, strings.HasPrefix(url, server.URL))

	data, err := store.GetBytes(ctx, "u1/a1.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("stored-content"), data)
}

func TestHTTPStoreSignedPutURL(t *testing.T) {
	store, err := NewHTTPStore(HTTPStoreConfig{
		BaseURL: "https://storage.example.com",
		Bucket:  "microsites",
		Secret:  "s3cret",
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	url, err := store.SignedPutURL(context.Background(), "u1/a1.png", "image/png", 0)
	require.NoError(t, err)
	assert.Contains(t, url, "https://storage.example.com/microsites/")
	assert.Contains(t, url, "signature=")
	assert.Contains(t, url, "expires=")
	assert.Contains(t, url, "content-type=image%2Fpng")

	// Default ttl applies when none is given.
	again, err := store.SignedPutURL(context.Background(), "u1/a1.png", "image/png", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, url, again, "different ttl yields a different expiry and signature")
}
