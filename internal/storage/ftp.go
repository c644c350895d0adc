package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

const ftpMaxConns = 3

// FTPConfig holds the connection settings of an FTP bucket.
type FTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	BasePath string
	Timeout  time.Duration
}

// FTPBucket stores objects on an FTP server using a small connection pool.
type FTPBucket struct {
	config   *FTPConfig
	bucket   string
	urls     urlBuilder
	log      logger.Logger
	connPool chan *ftp.ServerConn
}

// NewFTPBucket validates the configuration. Connections are opened lazily.
func NewFTPBucket(cfg *FTPConfig, bucket, publicBaseURL string, log logger.Logger) (*FTPBucket, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Host == "" {
		return nil, errors.Newf("ftp: host is required").
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
	c := *cfg
	if c.Port == 0 {
		c.Port = 21
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return &FTPBucket{
		config:   &c,
		bucket:   bucket,
		urls:     newURLBuilder(publicBaseURL, bucket),
		log:      log,
		connPool: make(chan *ftp.ServerConn, ftpMaxConns),
	}, nil
}

func (b *FTPBucket) Name() string { return b.bucket }

func (b *FTPBucket) PublicURL(key string) string { return b.urls.build(key) }

func (b *FTPBucket) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-b.connPool:
		if conn.NoOp() == nil {
			return conn, nil
		}
		_ = conn.Quit()
	default:
	}
	return b.connect(ctx)
}

func (b *FTPBucket) returnConnection(conn *ftp.ServerConn) {
	select {
	case b.connPool <- conn:
	default:
		if err := conn.Quit(); err != nil {
			b.log.Debug("failed to close ftp connection", logger.Error(err))
		}
	}
}

func (b *FTPBucket) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := net.JoinHostPort(b.config.Host, strconv.Itoa(b.config.Port))
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(b.config.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp: connection failed: %w", err)
	}
	if b.config.Username != "" {
		if err := conn.Login(b.config.Username, b.config.Password); err != nil {
			_ = conn.Quit()
			return nil, fmt.Errorf("ftp: login failed: %w", err)
		}
	}
	return conn, nil
}

// withConn runs op on a pooled connection. A connection that fails an
// operation is discarded.
func (b *FTPBucket) withConn(ctx context.Context, op func(*ftp.ServerConn) error) error {
	conn, err := b.getConnection(ctx)
	if err != nil {
		return err
	}
	if err := op(conn); err != nil {
		_ = conn.Quit()
		return err
	}
	b.returnConnection(conn)
	return nil
}

func (b *FTPBucket) ensureDir(conn *ftp.ServerConn) error {
	current := ""
	if strings.HasPrefix(b.config.BasePath, "/") {
		current = "/"
	}
	for _, part := range strings.Split(strings.Trim(b.config.BasePath, "/"), "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)
		if err := conn.MakeDir(current); err != nil && !hasStatus(err, ftp.StatusFileUnavailable) {
			return fmt.Errorf("ftp: failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

// hasStatus reports whether err is a server reply with the given code.
func hasStatus(err error, code int) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == code
}

func (b *FTPBucket) Upload(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	target := path.Join(b.config.BasePath, key)
	tmp := path.Join(b.config.BasePath, ".upload-"+key)

	err := b.withConn(ctx, func(conn *ftp.ServerConn) error {
		if err := b.ensureDir(conn); err != nil {
			return err
		}
		if err := conn.Stor(tmp, r); err != nil {
			_ = conn.Delete(tmp)
			return fmt.Errorf("ftp: failed to store file: %w", err)
		}
		if err := conn.Rename(tmp, target); err != nil {
			_ = conn.Delete(tmp)
			return fmt.Errorf("ftp: failed to rename temporary file: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", storageError(err, "ftp", "upload", key)
	}

	b.log.Debug("object stored", logger.String("key", key), logger.String("host", b.config.Host))
	return b.PublicURL(key), nil
}

func (b *FTPBucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err := b.withConn(ctx, func(conn *ftp.ServerConn) error {
		resp, err := conn.Retr(path.Join(b.config.BasePath, key))
		if err != nil {
			if hasStatus(err, ftp.StatusFileUnavailable) {
				return ErrObjectNotFound
			}
			return err
		}
		_, copyErr := io.Copy(&buf, resp)
		if closeErr := resp.Close(); copyErr == nil {
			copyErr = closeErr
		}
		return copyErr
	})
	if err != nil {
		return nil, storageError(err, "ftp", "open", key)
	}
	return io.NopCloser(&buf), nil
}

func (b *FTPBucket) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := b.withConn(ctx, func(conn *ftp.ServerConn) error {
		if err := conn.Delete(path.Join(b.config.BasePath, key)); err != nil {
			if hasStatus(err, ftp.StatusFileUnavailable) {
				return ErrObjectNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return storageError(err, "ftp", "delete", key)
	}
	b.log.Debug("object deleted", logger.String("key", key), logger.String("host", b.config.Host))
	return nil
}

// Close quits every pooled connection.
func (b *FTPBucket) Close() error {
	var errs []error
	for {
		select {
		case conn := <-b.connPool:
			if err := conn.Quit(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}
