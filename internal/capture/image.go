// Package capture turns uploaded files and camera frames into the single
// image payload used by the examination workflow.
package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder for camera frames
	"image/jpeg"
	_ "image/png" // register decoder for camera frames
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dermascan/dermascan/internal/errors"
)

const (
	// DefaultJPEGQuality is used when a camera frame is rasterised.
	DefaultJPEGQuality = 95

	// FrameFilename is the name given to camera captures.
	FrameFilename = "capture.jpg"
)

// Image is an in-memory image ready for upload and classification.
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Size returns the payload length in bytes.
func (img *Image) Size() int {
	return len(img.Data)
}

// FromFile reads any file from disk. Content is not validated; the content
// type is sniffed from the first bytes.
func FromFile(path string, maxBytes int64) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, captureError(err, "open-file")
	}
	defer f.Close()
	return FromReader(filepath.Base(path), f, maxBytes)
}

// FromUpload reads a multipart upload.
func FromUpload(fh *multipart.FileHeader, maxBytes int64) (*Image, error) {
	if fh == nil {
		return nil, captureError(errors.NewStd("no file in upload"), "read-upload")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, captureError(err, "read-upload")
	}
	defer f.Close()
	return FromReader(fh.Filename, f, maxBytes)
}

// FromReader reads up to maxBytes from r. A non-positive maxBytes means no limit.
func FromReader(name string, r io.Reader, maxBytes int64) (*Image, error) {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, captureError(err, "read")
	}
	if len(data) == 0 {
		return nil, captureError(errors.NewStd("image is empty"), "read")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, errors.Newf("image exceeds %d bytes", maxBytes).
			Component("capture").
			Category(errors.CategoryLimit).
			Build()
	}

	return &Image{
		Data:        data,
		ContentType: http.DetectContentType(data),
		Filename:    sanitizeFilename(name),
	}, nil
}

// FromFrame decodes a camera frame of at most maxBytes and re-encodes it as
// JPEG at the given quality. A non-positive maxBytes means no limit.
func FromFrame(r io.Reader, quality int, maxBytes int64) (*Image, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	raw, err := FromReader(FrameFilename, r, maxBytes)
	if err != nil {
		return nil, err
	}
	frame, format, err := image.Decode(bytes.NewReader(raw.Data))
	if err != nil {
		return nil, captureError(fmt.Errorf("decode camera frame: %w", err), "decode-frame")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
		return nil, captureError(fmt.Errorf("encode %s frame as jpeg: %w", format, err), "encode-frame")
	}

	return &Image{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Filename:    FrameFilename,
	}, nil
}

// sanitizeFilename keeps the base name and replaces characters that are
// unsafe in object keys.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func captureError(err error, operation string) error {
	return errors.New(err).
		Component("capture").
		Category(errors.CategoryCapture).
		Context("operation", operation).
		Build()
}
