package blobstore

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, publicURL, secret string) *FilesystemStore {
	t.Helper()
	s, err := NewFilesystemStore(t.TempDir(), publicURL, secret)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1_800_000_000, 0) }
	return s
}

func TestPutAndDelete(t *testing.T) {
	s := newStore(t, "", "")
	ctx := context.Background()
	key, err := s.PutObject(ctx, "rec-1/final.mp4", strings.NewReader("video"))
	require.NoError(t, err)
	assert.Equal(t, "rec-1/final.mp4", key)

	p, err := s.Path(key)
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))

	require.NoError(t, s.DeleteObject(ctx, key))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Dir(p))
	assert.True(t, os.IsNotExist(err), "empty key dir is removed")
	require.NoError(t, s.DeleteObject(ctx, key), "deleting twice is fine")
}

func TestPutFile(t *testing.T) {
	s := newStore(t, "", "")
	src := filepath.Join(t.TempDir(), "final.webm")
	require.NoError(t, os.WriteFile(src, []byte("webm"), 0o644))
	key, err := s.PutFile(context.Background(), "rec-2/final.webm", src)
	require.NoError(t, err)
	p, _ := s.Path(key)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "webm", string(data))
}

func TestRejectsTraversalKeys(t *testing.T) {
	s := newStore(t, "", "")
	for _, key := range []string{"", "../escape", "a/../../b", "a\\b", "a//b"} {
		_, err := s.PutObject(context.Background(), key, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestSignedURLRoundTrip(t *testing.T) {
	s := newStore(t, "https://cdn.example.com/blobs/", "s3cret")
	link, err := s.GetSignedURL(context.Background(), "rec-1/final.mp4", time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/blobs/rec-1/final.mp4", u.Path)
	q := u.Query()
	assert.Equal(t, "1800003600", q.Get("expires"))
	require.NoError(t, s.Verify("rec-1/final.mp4", q.Get("expires"), q.Get("sig")))

	assert.ErrorIs(t, s.Verify("rec-2/final.mp4", q.Get("expires"), q.Get("sig")), ErrInvalidSignature)
	assert.ErrorIs(t, s.Verify("rec-1/final.mp4", "1800009999", q.Get("sig")), ErrInvalidSignature)

	s.now = func() time.Time { return time.Unix(1_800_003_601, 0) }
	assert.ErrorIs(t, s.Verify("rec-1/final.mp4", q.Get("expires"), q.Get("sig")), ErrExpired)
}

func TestFileURLWithoutPublicBase(t *testing.T) {
	s := newStore(t, "", "")
	link, err := s.GetSignedURL(context.Background(), "rec-1/final.mp4", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "file://"))
	assert.True(t, strings.HasSuffix(link, "/rec-1/final.mp4"))
}
