// Package storage keeps examination images in an object bucket and hands out
// the public URLs stored alongside each examination.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.NewStd("object not found")

// Bucket is a flat namespace of image objects.
type Bucket interface {
	// Upload stores r under key and returns the public URL of the object.
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	// Open returns the object body. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
	Name() string
}

// ObjectName builds the key for an uploaded image: upload time in unix
// milliseconds, an underscore, then the original file name.
func ObjectName(now time.Time, filename string) string {
	return fmt.Sprintf("%d_%s", now.UnixMilli(), filename)
}

// KeyFromURL recovers an object key from a URL produced by PublicURL.
func KeyFromURL(publicURL string) string {
	u, err := url.Parse(publicURL)
	if err != nil {
		return path.Base(publicURL)
	}
	key, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		return path.Base(u.Path)
	}
	return key
}

// New opens the bucket backend selected in settings.
func New(settings *conf.StorageSettings, log logger.Logger) (Bucket, error) {
	if log == nil {
		log = logger.Global().Module("storage")
	}
	switch strings.ToLower(settings.Backend) {
	case "", conf.BackendLocal:
		return NewLocalBucket(settings.Local.Path, settings.Bucket, settings.PublicBaseURL, log)
	case conf.BackendSFTP:
		return NewSFTPBucket(&SFTPConfig{
			Host:           settings.SFTP.Host,
			Port:           settings.SFTP.Port,
			Username:       settings.SFTP.Username,
			Password:       settings.SFTP.Password,
			KeyFile:        settings.SFTP.KeyFile,
			KnownHostsFile: settings.SFTP.KnownHostsFile,
			BasePath:       path.Join(settings.SFTP.BasePath, settings.Bucket),
			Timeout:        settings.SFTP.Timeout,
		}, settings.Bucket, settings.PublicBaseURL, log)
	case conf.BackendFTP:
		return NewFTPBucket(&FTPConfig{
			Host:     settings.FTP.Host,
			Port:     settings.FTP.Port,
			Username: settings.FTP.Username,
			Password: settings.FTP.Password,
			BasePath: path.Join(settings.FTP.BasePath, settings.Bucket),
			Timeout:  settings.FTP.Timeout,
		}, settings.Bucket, settings.PublicBaseURL, log)
	default:
		return nil, errors.Newf("unsupported storage backend %q", settings.Backend).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

type urlBuilder struct {
	base string
}

func newURLBuilder(base, bucket string) urlBuilder {
	return urlBuilder{base: strings.TrimRight(base, "/") + "/" + url.PathEscape(bucket)}
}

func (u urlBuilder) build(key string) string {
	return u.base + "/" + url.PathEscape(key)
}

// validateKey rejects keys that would escape the bucket.
func validateKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, "/\\") || strings.ContainsRune(key, 0) {
		return errors.Newf("invalid object key %q", key).
			Component("storage").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func storageError(err error, backend, operation, key string) error {
	category := errors.CategoryStorage
	if errors.Is(err, ErrObjectNotFound) {
		category = errors.CategoryNotFound
	}
	return errors.New(err).
		Component("storage").
		Category(category).
		Context("backend", backend).
		Context("operation", operation).
		Context("key", key).
		Build()
}
