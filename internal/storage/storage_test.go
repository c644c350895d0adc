package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/errors"
)

func TestObjectName(t *testing.T) {
	now := time.UnixMilli(1718000000123)
	assert.Equal(t, "1718000000123_lesion.jpg", ObjectName(now, "lesion.jpg"))
}

func TestKeyFromURL(t *testing.T) {
	assert.Equal(t, "1718000000123_lesion.jpg",
		KeyFromURL("http://localhost:8080/images/image/1718000000123_lesion.jpg"))
	assert.Equal(t, "1_foto 1.jpg", KeyFromURL("http://x/image/1_foto%201.jpg"))
	assert.Equal(t, "plain.jpg", KeyFromURL("plain.jpg"))
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"", ".", "..", "a/b", `a\b`, "../x"} {
		err := validateKey(key)
		require.Error(t, err, key)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), key)
	}
	assert.NoError(t, validateKey("1718000000123_lesion.jpg"))
}

func newLocal(t *testing.T) *LocalBucket {
	t.Helper()
	b, err := NewLocalBucket(t.TempDir(), "image", "http://localhost:8080/images/", nil)
	require.NoError(t, err)
	return b
}

func TestLocalBucketRoundTrip(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()
	key := "1718000000123_lesion.jpg"

	url, err := b.Upload(ctx, key, bytes.NewReader([]byte("pixels")), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/images/image/1718000000123_lesion.jpg", url)
	assert.Equal(t, key, KeyFromURL(url))
	assert.Equal(t, "image", b.Name())

	info, err := os.Stat(filepath.Join(b.Dir(), key))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePermissions), info.Mode().Perm())

	rc, err := b.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "pixels", string(data))

	require.NoError(t, b.Delete(ctx, key))
	_, err = b.Open(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestLocalBucketDeleteMissing(t *testing.T) {
	b := newLocal(t)
	err := b.Delete(context.Background(), "nothing.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestLocalBucketFailedUploadLeavesNothing(t *testing.T) {
	b := newLocal(t)

	_, err := b.Upload(context.Background(), "broken.jpg", failingReader{}, "image/jpeg")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStorage))

	entries, err := os.ReadDir(b.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalBucketRejectsTraversal(t *testing.T) {
	b := newLocal(t)
	_, err := b.Upload(context.Background(), "../escape.jpg", bytes.NewReader([]byte("x")), "")
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(b.Dir()), "escape.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocalBucketCanceledContext(t *testing.T) {
	b := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Upload(ctx, "a.jpg", bytes.NewReader([]byte("x")), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSelectsBackend(t *testing.T) {
	settings := &conf.StorageSettings{Backend: conf.BackendLocal, Bucket: "image", PublicBaseURL: "http://h/images"}
	settings.Local.Path = t.TempDir()

	b, err := New(settings, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalBucket{}, b)

	settings.Backend = "s3"
	_, err = New(settings, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestRemoteBucketsValidateConfig(t *testing.T) {
	_, err := NewSFTPBucket(&SFTPConfig{}, "image", "http://h", nil)
	assert.Error(t, err)
	_, err = NewSFTPBucket(&SFTPConfig{Host: "files.local"}, "image", "http://h", nil)
	assert.Error(t, err, "missing credentials")

	s, err := NewSFTPBucket(&SFTPConfig{Host: "files.local", Password: "pw"}, "image", "http://h", nil)
	require.NoError(t, err)
	assert.Equal(t, 22, s.config.Port)
	assert.Equal(t, "http://h/image/k.jpg", s.PublicURL("k.jpg"))

	_, err = NewFTPBucket(&FTPConfig{}, "image", "http://h", nil)
	assert.Error(t, err)

	f, err := NewFTPBucket(&FTPConfig{Host: "files.local"}, "image", "http://h", nil)
	require.NoError(t, err)
	assert.Equal(t, 21, f.config.Port)
	assert.NoError(t, f.Close())
}

func TestSFTPConnectHonoursContext(t *testing.T) {
	s, err := NewSFTPBucket(&SFTPConfig{Host: "192.0.2.1", Password: "pw", Timeout: 50 * time.Millisecond}, "image", "http://h", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = s.Delete(ctx, "a.jpg")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStorage))
}
