package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

// SFTPConfig holds the connection settings of an SFTP bucket.
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string // empty disables host key verification
	BasePath       string
	Timeout        time.Duration
}

// SFTPBucket stores objects on a remote host over SFTP. Each operation opens
// its own connection.
type SFTPBucket struct {
	config *SFTPConfig
	bucket string
	urls   urlBuilder
	log    logger.Logger
}

// NewSFTPBucket validates the configuration. No connection is made until the
// first operation.
func NewSFTPBucket(cfg *SFTPConfig, bucket, publicBaseURL string, log logger.Logger) (*SFTPBucket, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Host == "" {
		return nil, errors.Newf("sftp: host is required").
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.KeyFile == "" && cfg.Password == "" {
		return nil, errors.Newf("sftp: no authentication method provided").
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
	c := *cfg
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.KnownHostsFile == "" {
		log.Warn("sftp host key verification disabled", logger.String("host", c.Host))
	}
	return &SFTPBucket{config: &c, bucket: bucket, urls: newURLBuilder(publicBaseURL, bucket), log: log}, nil
}

func (b *SFTPBucket) Name() string { return b.bucket }

func (b *SFTPBucket) PublicURL(key string) string { return b.urls.build(key) }

func (b *SFTPBucket) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            b.config.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // opt-in via empty knownhostsfile
		Timeout:         b.config.Timeout,
	}
	if b.config.KnownHostsFile != "" {
		cb, err := knownhosts.New(b.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to load known hosts: %w", err)
		}
		config.HostKeyCallback = cb
	}

	switch {
	case b.config.KeyFile != "":
		key, err := os.ReadFile(b.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		config.Auth = []ssh.AuthMethod{ssh.Password(b.config.Password)}
	}
	return config, nil
}

func (b *SFTPBucket) connect(ctx context.Context) (*sftp.Client, error) {
	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		config, err := b.clientConfig()
		if err != nil {
			resultChan <- connResult{nil, err}
			return
		}

		addr := net.JoinHostPort(b.config.Host, strconv.Itoa(b.config.Port))
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{client, nil}
	}()

	select {
	case <-ctx.Done():
		// A late connection is closed by the drain below.
		go func() {
			if r := <-resultChan; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultChan:
		return r.client, r.err
	}
}

func (b *SFTPBucket) Upload(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	client, err := b.connect(ctx)
	if err != nil {
		return "", storageError(err, "sftp", "upload", key)
	}
	defer client.Close()

	if err := client.MkdirAll(b.config.BasePath); err != nil {
		return "", storageError(fmt.Errorf("sftp: failed to create directory %s: %w", b.config.BasePath, err), "sftp", "upload", key)
	}

	// Upload under a temporary name so readers never see a partial object.
	target := path.Join(b.config.BasePath, key)
	tmp := path.Join(b.config.BasePath, ".upload-"+key)
	dst, err := client.Create(tmp)
	if err != nil {
		return "", storageError(fmt.Errorf("sftp: failed to create file: %w", err), "sftp", "upload", key)
	}
	if _, err := io.Copy(dst, r); err != nil {
		_ = dst.Close()
		_ = client.Remove(tmp)
		return "", storageError(fmt.Errorf("sftp: failed to write file: %w", err), "sftp", "upload", key)
	}
	if err := dst.Close(); err != nil {
		_ = client.Remove(tmp)
		return "", storageError(fmt.Errorf("sftp: failed to close file: %w", err), "sftp", "upload", key)
	}
	if err := client.PosixRename(tmp, target); err != nil {
		_ = client.Remove(tmp)
		return "", storageError(fmt.Errorf("sftp: failed to rename file: %w", err), "sftp", "upload", key)
	}

	b.log.Debug("object stored", logger.String("key", key), logger.String("host", b.config.Host))
	return b.PublicURL(key), nil
}

// Open downloads the object into memory; images are small and the
// connection is released before returning.
func (b *SFTPBucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	client, err := b.connect(ctx)
	if err != nil {
		return nil, storageError(err, "sftp", "open", key)
	}
	defer client.Close()

	f, err := client.Open(path.Join(b.config.BasePath, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = ErrObjectNotFound
		}
		return nil, storageError(err, "sftp", "open", key)
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, storageError(err, "sftp", "open", key)
	}
	return io.NopCloser(&buf), nil
}

func (b *SFTPBucket) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	client, err := b.connect(ctx)
	if err != nil {
		return storageError(err, "sftp", "delete", key)
	}
	defer client.Close()

	if err := client.Remove(path.Join(b.config.BasePath, key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = ErrObjectNotFound
		}
		return storageError(err, "sftp", "delete", key)
	}
	b.log.Debug("object deleted", logger.String("key", key), logger.String("host", b.config.Host))
	return nil
}
