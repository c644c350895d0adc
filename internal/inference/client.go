// Package inference talks to the external melanoma classifier.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dermascan/dermascan/internal/capture"
	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/httpclient"
	"github.com/dermascan/dermascan/internal/logger"
)

// ErrPredictionFailed is returned, wrapped, for every failed predict call.
var ErrPredictionFailed = errors.NewStd("prediction failed")

const (
	fileField = "file"

	// maxResponseBytes bounds the classifier response body.
	maxResponseBytes = 1 << 20
)

// Predictor is the contract consumed by the examination workflow.
type Predictor interface {
	Predict(ctx context.Context, img *capture.Image) (*Prediction, error)
}

// Config configures the classifier client.
type Config struct {
	URL     string
	Timeout time.Duration
	// Scale multiplies every probability; 1 for percent, 100 for fractions.
	Scale float64
}

// ConfigFromSettings maps inference settings onto a client config.
func ConfigFromSettings(settings *conf.InferenceSettings) Config {
	cfg := Config{URL: settings.URL, Timeout: settings.Timeout, Scale: 1}
	if settings.ProbabilityScale == conf.ScaleFraction {
		cfg.Scale = 100
	}
	return cfg
}

// Client posts images to the classifier. Requests are never retried.
type Client struct {
	http   *httpclient.Client
	url    string
	scale  float64
	logger logger.Logger

	observer func(d time.Duration, err error)
}

// NewClient creates a classifier client.
func NewClient(cfg Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.Global().Module("inference")
	}
	scale := cfg.Scale
	if scale == 0 {
		scale = 1
	}
	return &Client{
		http:   httpclient.New(&httpclient.Config{DefaultTimeout: cfg.Timeout}),
		url:    cfg.URL,
		scale:  scale,
		logger: log,
	}
}

// HTTPClient exposes the transport for tests.
func (c *Client) HTTPClient() *http.Client {
	return c.http.HTTPClient()
}

// SetObserver registers a callback invoked with the latency and result of each call.
func (c *Client) SetObserver(fn func(d time.Duration, err error)) {
	c.observer = fn
}

// Predict sends the image as a single multipart file field and decodes the
// classifier response.
func (c *Client) Predict(ctx context.Context, img *capture.Image) (*Prediction, error) {
	start := time.Now()
	prediction, err := c.predict(ctx, img)
	elapsed := time.Since(start)

	if c.observer != nil {
		c.observer(elapsed, err)
	}
	if err != nil {
		c.logger.WithContext(ctx).Warn("prediction failed",
			logger.Error(err),
			logger.Duration("elapsed", elapsed))
		return nil, err
	}

	c.logger.WithContext(ctx).Debug("prediction received",
		logger.String("label", prediction.Label),
		logger.Int("classes", len(prediction.Probabilities)),
		logger.Duration("elapsed", elapsed))
	return prediction, nil
}

func (c *Client) predict(ctx context.Context, img *capture.Image) (*Prediction, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, c.fail(fmt.Errorf("%w: empty image", ErrPredictionFailed), "validate")
	}

	resp, err := c.http.PostMultipart(ctx, c.url, httpclient.FilePart{
		Field:       fileField,
		Filename:    img.Filename,
		ContentType: img.ContentType,
		Data:        img.Data,
	})
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: %w", ErrPredictionFailed, err), "post")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: read response: %w", ErrPredictionFailed, err), "read")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(fmt.Errorf("%w: classifier returned HTTP %d", ErrPredictionFailed, resp.StatusCode), "status")
	}

	var prediction Prediction
	if err := json.Unmarshal(body, &prediction); err != nil {
		return nil, c.fail(fmt.Errorf("%w: malformed response: %w", ErrPredictionFailed, err), "decode")
	}
	if len(prediction.Probabilities) == 0 {
		return nil, c.fail(fmt.Errorf("%w: response has no probabilities", ErrPredictionFailed), "decode")
	}

	if c.scale != 1 {
		prediction.Probabilities = prediction.Probabilities.Scaled(c.scale)
	}
	return &prediction, nil
}

func (c *Client) fail(err error, stage string) error {
	return errors.New(err).
		Component("inference").
		Category(errors.CategoryInference).
		Context("operation", "predict").
		Context("stage", stage).
		NetworkContext(c.url, 0).
		Build()
}
