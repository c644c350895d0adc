package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue finds a counter sample in the gathered families.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range metric.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if want != lp.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestNewMetricsIndependentRegistries(t *testing.T) {
	a, err := NewMetrics()
	require.NoError(t, err)
	b, err := NewMetrics()
	require.NoError(t, err)

	a.Workflow.RecordExamination("melanoma")
	assert.InDelta(t, 1, counterValue(t, a, "dermascan_examinations_total", map[string]string{"outcome": "melanoma"}), 0)
	assert.InDelta(t, 0, counterValue(t, b, "dermascan_examinations_total", map[string]string{"outcome": "melanoma"}), 0)
}

func TestWorkflowMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Workflow.RecordStorage("upload", nil)
	m.Workflow.RecordStorage("upload", errors.New("boom"))
	m.Workflow.RecordStorage("upload", nil)
	m.Workflow.RecordInference(0.5, errors.New("timeout"))
	m.Workflow.RecordCompensation("deleted")
	m.Workflow.RecordDetectRejected()

	assert.InDelta(t, 2, counterValue(t, m, "dermascan_storage_operations_total", map[string]string{"operation": "upload", "status": "success"}), 0)
	assert.InDelta(t, 1, counterValue(t, m, "dermascan_storage_operations_total", map[string]string{"operation": "upload", "status": "error"}), 0)
	assert.InDelta(t, 1, counterValue(t, m, "dermascan_inference_errors_total", nil), 0)
	assert.InDelta(t, 1, counterValue(t, m, "dermascan_upload_compensations_total", map[string]string{"result": "deleted"}), 0)
	assert.InDelta(t, 1, counterValue(t, m, "dermascan_detect_rejected_total", nil), 0)
}

func TestHTTPMetricsStatusLabel(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.HTTP.RecordRequest(http.MethodPost, "/api/v1/visits/:id/detect", http.StatusBadGateway, 0.2)
	assert.InDelta(t, 1, counterValue(t, m, "http_requests_total", map[string]string{
		"method":      "POST",
		"path":        "/api/v1/visits/:id/detect",
		"status_code": "502",
	}), 0)
}

func TestHandlerServesExposition(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.MQTT.UpdateConnectionStatus(true)
	m.Notification.RecordDropped()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mqtt_connection_status 1")
	assert.Contains(t, string(body), "notification_dropped_total 1")
}

func TestConcurrentRecording(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	const workers, perWorker = 8, 250
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				m.Workflow.RecordExamination("benign")
				m.HTTP.RecordRequest("GET", "/health", 200, 0.001)
			}
		}()
	}
	wg.Wait()

	assert.InDelta(t, workers*perWorker, counterValue(t, m, "dermascan_examinations_total", map[string]string{"outcome": "benign"}), 0)
}
