package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o640
)

// LocalBucket stores objects in a directory on the local filesystem.
type LocalBucket struct {
	dir    string
	bucket string
	urls   urlBuilder
	log    logger.Logger
}

// NewLocalBucket creates the bucket directory <root>/<bucket> if needed.
// Public URLs are <publicBaseURL>/<bucket>/<key>.
func NewLocalBucket(root, bucket, publicBaseURL string, log logger.Logger) (*LocalBucket, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if root == "" {
		return nil, errors.Newf("local storage path is required").
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
	dir, err := filepath.Abs(filepath.Join(root, bucket))
	if err != nil {
		return nil, storageError(err, "local", "resolve-path", "")
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, storageError(err, "local", "create-dir", "")
	}
	return &LocalBucket{dir: dir, bucket: bucket, urls: newURLBuilder(publicBaseURL, bucket), log: log}, nil
}

func (b *LocalBucket) Name() string { return b.bucket }

// Dir returns the directory holding the objects.
func (b *LocalBucket) Dir() string { return b.dir }

func (b *LocalBucket) PublicURL(key string) string { return b.urls.build(key) }

// Upload writes the object through a temporary file and an atomic rename.
func (b *LocalBucket) Upload(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", storageError(err, "local", "upload", key)
	}

	target := filepath.Join(b.dir, key)
	if err := atomicWriteFile(target, r); err != nil {
		return "", storageError(err, "local", "upload", key)
	}

	b.log.Debug("object stored", logger.String("key", key), logger.String("path", target))
	return b.PublicURL(key), nil
}

func (b *LocalBucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storageError(err, "local", "open", key)
	}
	f, err := os.Open(filepath.Join(b.dir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = ErrObjectNotFound
		}
		return nil, storageError(err, "local", "open", key)
	}
	return f, nil
}

// Delete removes the object. Deleting a missing object reports ErrObjectNotFound.
func (b *LocalBucket) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storageError(err, "local", "delete", key)
	}
	if err := os.Remove(filepath.Join(b.dir, key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = ErrObjectNotFound
		}
		return storageError(err, "local", "delete", key)
	}
	b.log.Debug("object deleted", logger.String("key", key))
	return nil
}

func atomicWriteFile(target string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(filePermissions); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	success = true
	return nil
}
