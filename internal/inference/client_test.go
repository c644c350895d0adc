package inference

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermascan/dermascan/internal/capture"
	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

const testURL = "http://classifier.test/predict"

func newMockedClient(t *testing.T, scale float64) *Client {
	t.Helper()
	c := NewClient(Config{URL: testURL, Timeout: 5 * time.Second, Scale: scale}, logger.NewNopLogger())
	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func lesion() *capture.Image {
	return &capture.Image{Data: []byte("jpeg-bytes"), ContentType: "image/jpeg", Filename: "lesion.jpg"}
}

func TestPredictSendsSingleFileField(t *testing.T) {
	c := newMockedClient(t, 1)

	httpmock.RegisterResponder(http.MethodPost, testURL, func(req *http.Request) (*http.Response, error) {
		assert.True(t, strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, req.ParseMultipartForm(1<<20))
		assert.Len(t, req.MultipartForm.File, 1)
		files := req.MultipartForm.File["file"]
		require.Len(t, files, 1)
		assert.Equal(t, "lesion.jpg", files[0].Filename)

		f, err := files[0].Open()
		require.NoError(t, err)
		defer f.Close()
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "jpeg-bytes", string(data))

		return httpmock.NewStringResponse(http.StatusOK,
			`{"prediction":"Melanoma","probabilities":{"Melanoma":87.50,"Benign":12.50}}`), nil
	})

	p, err := c.Predict(context.Background(), lesion())
	require.NoError(t, err)
	assert.Equal(t, "Melanoma", p.Label)

	best, ok := p.Best()
	require.True(t, ok)
	assert.Equal(t, "Melanoma", best.Label)
	assert.InDelta(t, 87.5, RoundConfidence(best.Probability), 1e-9)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestPredictFractionScale(t *testing.T) {
	c := newMockedClient(t, 100)
	httpmock.RegisterResponder(http.MethodPost, testURL,
		httpmock.NewStringResponder(http.StatusOK, `{"prediction":"Benign","probabilities":{"Benign":0.9,"Melanoma":0.1}}`))

	p, err := c.Predict(context.Background(), lesion())
	require.NoError(t, err)
	assert.InDelta(t, 90.0, p.Probabilities[0].Probability, 1e-9)
	assert.InDelta(t, 10.0, p.Probabilities[1].Probability, 1e-9)
}

func TestConfigFromSettings(t *testing.T) {
	settings := conf.InferenceSettings{URL: testURL, Timeout: time.Minute, ProbabilityScale: conf.ScalePercent}
	cfg := ConfigFromSettings(&settings)
	assert.Equal(t, testURL, cfg.URL)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.InDelta(t, 1.0, cfg.Scale, 0)

	settings.ProbabilityScale = conf.ScaleFraction
	assert.InDelta(t, 100.0, ConfigFromSettings(&settings).Scale, 0)
}

func TestPredictFailures(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, `{"detail":"boom"}`)},
		{"unprocessable", httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{}`)},
		{"malformed json", httpmock.NewStringResponder(http.StatusOK, `not json`)},
		{"empty probabilities", httpmock.NewStringResponder(http.StatusOK, `{"prediction":"Benign","probabilities":{}}`)},
		{"transport", httpmock.NewErrorResponder(errors.NewStd("connection refused"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newMockedClient(t, 1)
			httpmock.RegisterResponder(http.MethodPost, testURL, tt.responder)

			var observed error
			c.SetObserver(func(_ time.Duration, err error) { observed = err })

			p, err := c.Predict(context.Background(), lesion())
			require.Error(t, err)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrPredictionFailed)
			assert.True(t, errors.IsCategory(err, errors.CategoryInference))
			assert.Equal(t, err, observed)
			assert.Equal(t, 1, httpmock.GetTotalCallCount(), "requests are not retried")
		})
	}
}

func TestPredictRejectsEmptyImage(t *testing.T) {
	c := newMockedClient(t, 1)

	_, err := c.Predict(context.Background(), &capture.Image{})
	require.ErrorIs(t, err, ErrPredictionFailed)
	assert.Zero(t, httpmock.GetTotalCallCount())
}
