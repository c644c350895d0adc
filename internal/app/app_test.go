package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/dermascan/dermascan/internal/buildinfo"
	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/examination"
	"github.com/dermascan/dermascan/internal/history"
	"github.com/dermascan/dermascan/internal/inference"
)

const classifierURL = "http://classifier.test/predict"

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	settings := &conf.Settings{}
	settings.Main.Environment = "test"
	settings.Database.Driver = conf.DriverSQLite
	settings.Database.SQLite.Path = filepath.Join(dir, "dermascan.db")
	settings.Storage.Bucket = "image"
	settings.Storage.PublicBaseURL = "http://localhost:8080/images"
	settings.Storage.Local.Path = filepath.Join(dir, "objects")
	settings.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	settings.Auth.BcryptCost = bcrypt.MinCost
	settings.Inference.URL = classifierURL
	settings.Inference.ProbabilityScale = conf.ScalePercent
	settings.Capture.MaxUploadMiB = 1
	settings.WebServer.Host = "127.0.0.1"
	settings.WebServer.Port = "0"
	return settings
}

func newTestApp(t *testing.T, settings *conf.Settings) *App {
	t.Helper()
	a, err := New(context.Background(), settings, buildinfo.NewContext("test", ""))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	httpmock.ActivateNonDefault(a.Predictor.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return a
}

func writeLesion(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lesion.jpg")
	require.NoError(t, os.WriteFile(path, []byte("\xff\xd8\xff\xe0lesion"), 0o600))
	return path
}

func TestNewWiresServices(t *testing.T) {
	a := newTestApp(t, testSettings(t))

	assert.NotNil(t, a.Store)
	assert.Equal(t, "image", a.Bucket.Name())
	assert.NotNil(t, a.Auth)
	assert.Nil(t, a.Cookies, "no cookie secret configured")
	assert.NotNil(t, a.Visits)
	assert.NotNil(t, a.History)
	assert.Nil(t, a.Notifier)
	assert.Nil(t, a.Publisher)
}

func TestNewRejectsBadSettings(t *testing.T) {
	settings := testSettings(t)
	settings.Auth.JWTSecret = "short"

	a, err := New(context.Background(), settings, nil)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	settings = testSettings(t)
	settings.Database.Driver = "oracle"
	_, err = New(context.Background(), settings, nil)
	assert.Error(t, err)
}

func TestExamineAndExport(t *testing.T) {
	a := newTestApp(t, testSettings(t))
	ctx := context.Background()

	httpmock.RegisterResponder(http.MethodPost, classifierURL,
		httpmock.NewStringResponder(http.StatusOK, `{"prediction":"Melanoma","probabilities":{"Melanoma":87.5,"Benign":12.5}}`))

	_, err := a.Auth.Register(ctx, "Dr. Sari", "sari@clinic.test", "rahasia123")
	require.NoError(t, err)

	snap, err := a.Examine(ctx, ExamineRequest{
		DoctorEmail: "sari@clinic.test",
		Patient: examination.PatientInput{
			FullName:  "Budi Santoso",
			BirthDate: "1980-02-01",
			Complaint: "dark mole on shoulder",
		},
		ImagePath: writeLesion(t),
		Note:      "refer to dermatology",
	})
	require.NoError(t, err)
	require.NotNil(t, snap.Examination)
	assert.Equal(t, "PSN-001", snap.Examination.IDExamination)
	require.NotNil(t, snap.Outcome)
	assert.Equal(t, inference.OutcomeMelanoma, *snap.Outcome)
	assert.Equal(t, examination.StateNoteSaved, snap.State)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())

	// A second visit reuses the stored patient.
	snap, err = a.Examine(ctx, ExamineRequest{
		DoctorEmail: "sari@clinic.test",
		PatientID:   snap.Examination.PatientID,
		Patient:     examination.PatientInput{Complaint: "follow-up"},
		ImagePath:   writeLesion(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "PSN-002", snap.Examination.IDExamination)
	assert.Equal(t, examination.StateResultReady, snap.State)

	out := filepath.Join(t.TempDir(), "exports", "examinations.xlsx")
	n, err := a.ExportFile(ctx, out, history.Query{Sort: history.SortID, Order: "asc"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(history.ExportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "PSN-001", rows[1][0])
	assert.Equal(t, "PSN-002", rows[2][0])
}

func TestExamineUnknownDoctor(t *testing.T) {
	a := newTestApp(t, testSettings(t))

	_, err := a.Examine(context.Background(), ExamineRequest{
		DoctorEmail: "nobody@clinic.test",
		ImagePath:   writeLesion(t),
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestExamineClassifierFailureCreatesNothing(t *testing.T) {
	a := newTestApp(t, testSettings(t))
	ctx := context.Background()

	httpmock.RegisterResponder(http.MethodPost, classifierURL, httpmock.NewStringResponder(http.StatusBadGateway, "down"))
	_, err := a.Auth.Register(ctx, "Dr. Sari", "sari@clinic.test", "rahasia123")
	require.NoError(t, err)

	_, err = a.Examine(ctx, ExamineRequest{
		DoctorEmail: "sari@clinic.test",
		Patient:     examination.PatientInput{FullName: "Budi Santoso"},
		ImagePath:   writeLesion(t),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, inference.ErrPredictionFailed)

	n, err := a.ExportFile(ctx, filepath.Join(t.TempDir(), "empty.xlsx"), history.Query{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServeStopsOnCancel(t *testing.T) {
	a := newTestApp(t, testSettings(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
