package logger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func newObserved(t *testing.T, level LogLevel) (*CentralLogger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(traceLevel)
	return NewZapLogger(zap.New(core), level), logs
}

func TestModuleScoping(t *testing.T) {
	cl, logs := newObserved(t, LogLevelDebug)

	log := cl.Module("api").Module("visits")
	log.Info("visit started", String("visit_id", "v-1"), Int("step", 1))

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "api.visits", ctx["module"])
	assert.Equal(t, "v-1", ctx["visit_id"])
	assert.EqualValues(t, 1, ctx["step"])
}

func TestLevelFiltering(t *testing.T) {
	cl, logs := newObserved(t, LogLevelWarn)
	log := cl.Module("datastore")

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("shown", Error(errors.New("boom")))

	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, "boom", logs.All()[1].ContextMap()["error"])
}

func TestModuleLevelOverride(t *testing.T) {
	cl, logs := newObserved(t, LogLevelInfo)
	cl.SetModuleLevel("datastore", LogLevelTrace)

	cl.Module("datastore").Trace("sql query")
	cl.Module("api").Debug("hidden")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, traceLevel, logs.All()[0].Level)
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	cl, logs := newObserved(t, LogLevelInfo)
	parent := cl.Module("auth")
	child := parent.With(String("doctor_id", "d-1"))

	child.Info("child")
	parent.Info("parent")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "d-1", entries[0].ContextMap()["doctor_id"])
	assert.NotContains(t, entries[1].ContextMap(), "doctor_id")
}

func TestWithContextAddsTraceID(t *testing.T) {
	cl, logs := newObserved(t, LogLevelInfo)
	ctx := WithTraceID(context.Background(), "req-42")

	cl.Module("api").WithContext(ctx).Info("handled")
	cl.Module("api").WithContext(context.Background()).Info("no trace")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-42", entries[0].ContextMap()["trace_id"])
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, traceLevel, parseLevel("TRACE"))
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		FileOutput:   FileOutput{Enabled: true, Path: path, Level: "info", MaxSize: 1},
	})
	require.NoError(t, err)

	cl.Module("main").Info("started", String("version", "test"))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"started"`)
	assert.Contains(t, string(data), `"module":"main"`)
}

func TestGormAdapter(t *testing.T) {
	cl, logs := newObserved(t, LogLevelTrace)
	adapter := NewGormLoggerAdapter(cl.Module("datastore"), 50*time.Millisecond)
	sql := func() (string, int64) { return "SELECT 1", 1 }

	adapter.Trace(context.Background(), time.Now(), sql, nil)
	adapter.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	adapter.Trace(context.Background(), time.Now(), sql, errors.New("syntax error"))
	adapter.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "sql query", entries[0].Message)
	assert.Equal(t, "slow query", entries[1].Message)
	assert.Equal(t, "query error", entries[2].Message)
	assert.Equal(t, "sql query", entries[3].Message)
}
