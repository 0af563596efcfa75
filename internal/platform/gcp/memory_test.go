package gcp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreNotFoundAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var out map[string]any
	err := s.DownloadJSON(ctx, "b", "book/v1/skeleton.json", &out)
	require.True(t, errors.Is(err, ErrObjectNotFound), "got %v", err)

	require.NoError(t, s.UploadJSON(ctx, "b", "book/v1/skeleton.json", map[string]any{"a": 1}, false))
	err = s.UploadJSON(ctx, "b", "book/v1/skeleton.json", map[string]any{"a": 2}, false)
	require.True(t, errors.Is(err, ErrObjectExists), "got %v", err)

	require.NoError(t, s.UploadJSON(ctx, "b", "book/v1/skeleton.json", map[string]any{"a": 3}, true))
	require.NoError(t, s.DownloadJSON(ctx, "b", "book/v1/skeleton.json", &out))
	assert.EqualValues(t, 3, out["a"])
	assert.Equal(t, 2, s.Writes())
	assert.Equal(t, []string{"b/book/v1/skeleton.json"}, s.Keys())
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "application/json", contentTypeForKey("x/canonical.JSON"))
	assert.Equal(t, "image/png", contentTypeForKey("images/ch1/p0-0.png"))
}
