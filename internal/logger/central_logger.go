package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// traceLevel sits one step below zap's debug level.
const traceLevel = zapcore.DebugLevel - 1

var (
	globalLogger   *CentralLogger
	globalLoggerMu sync.Mutex
)

// SetGlobal sets the global CentralLogger instance.
func SetGlobal(cl *CentralLogger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = cl
}

// Global returns the global CentralLogger instance, falling back to a
// console logger at info level when none has been configured.
func Global() *CentralLogger {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()

	if globalLogger == nil {
		globalLogger = &CentralLogger{
			zap:          zap.New(newConsoleCore(zapcore.InfoLevel)),
			defaultLevel: zapcore.InfoLevel,
			moduleLevels: map[string]zapcore.Level{},
		}
	}
	return globalLogger
}

// CentralLogger owns the zap cores and hands out module loggers.
type CentralLogger struct {
	zap          *zap.Logger
	defaultLevel zapcore.Level
	moduleLevels map[string]zapcore.Level
	fileWriter   *lumberjack.Logger
	mu           sync.RWMutex
}

// NewCentralLogger builds console and file outputs from cfg.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	cl := &CentralLogger{
		defaultLevel: parseLevel(cfg.DefaultLevel),
		moduleLevels: make(map[string]zapcore.Level, len(cfg.ModuleLevels)),
	}
	for module, level := range cfg.ModuleLevels {
		cl.moduleLevels[module] = parseLevel(level)
	}

	var cores []zapcore.Core
	if cfg.Console.Enabled {
		cores = append(cores, newConsoleCore(parseLevel(cfg.Console.Level)))
	}
	if cfg.FileOutput.Enabled {
		path := cfg.FileOutput.Path
		if path == "" {
			path = DefaultLogPath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		cl.fileWriter = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.FileOutput.MaxSize,
			MaxAge:     cfg.FileOutput.MaxAge,
			MaxBackups: cfg.FileOutput.MaxRotatedFiles,
			Compress:   cfg.FileOutput.Compress,
		}
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder
		encoderCfg.EncodeLevel = levelEncoder(false)
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(cl.fileWriter),
			parseLevel(cfg.FileOutput.Level),
		))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewNopCore())
	}

	cl.zap = zap.New(zapcore.NewTee(cores...))
	return cl, nil
}

// NewZapLogger wraps an existing zap logger. Used by tests with zaptest/observer.
func NewZapLogger(z *zap.Logger, level LogLevel) *CentralLogger {
	return &CentralLogger{
		zap:          z,
		defaultLevel: parseLevel(string(level)),
		moduleLevels: map[string]zapcore.Level{},
	}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return NewZapLogger(zap.NewNop(), LogLevelError).Module("")
}

func newConsoleCore(level zapcore.Level) zapcore.Core {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.TimeKey = ""
	encoderCfg.EncodeLevel = levelEncoder(true)
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stdout), level)
}

func levelEncoder(color bool) zapcore.LevelEncoder {
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l == traceLevel {
			enc.AppendString("TRACE")
			return
		}
		if color {
			zapcore.CapitalColorLevelEncoder(l, enc)
			return
		}
		zapcore.CapitalLevelEncoder(l, enc)
	}
}

// Module creates a logger scoped to a top-level module.
func (cl *CentralLogger) Module(name string) Logger {
	return &moduleLogger{
		module: name,
		zap:    cl.zap,
		level:  cl.levelFor(name),
	}
}

func (cl *CentralLogger) levelFor(module string) zapcore.Level {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if level, ok := cl.moduleLevels[module]; ok {
		return level
	}
	return cl.defaultLevel
}

// SetModuleLevel changes the level applied to modules created afterwards.
func (cl *CentralLogger) SetModuleLevel(module string, level LogLevel) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.moduleLevels[module] = parseLevel(string(level))
}

// Flush syncs all cores.
func (cl *CentralLogger) Flush() error {
	if err := cl.zap.Sync(); err != nil && !isStdSyncError(err) {
		return err
	}
	return nil
}

// Close flushes and closes the rotated file, if any.
func (cl *CentralLogger) Close() error {
	flushErr := cl.Flush()
	if cl.fileWriter != nil {
		if err := cl.fileWriter.Close(); err != nil {
			return err
		}
	}
	return flushErr
}

// Reopen rotates the log file, used on SIGHUP.
func (cl *CentralLogger) Reopen() error {
	if cl.fileWriter == nil {
		return nil
	}
	return cl.fileWriter.Rotate()
}

// stdout and stderr cannot be fsynced on most platforms.
func isStdSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return traceLevel
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

type moduleLogger struct {
	module string
	zap    *zap.Logger
	level  zapcore.Level
	fields []Field
}

func (m *moduleLogger) Module(name string) Logger {
	module := name
	if m.module != "" {
		module = m.module + "." + name
	}
	return &moduleLogger{
		module: module,
		zap:    m.zap,
		level:  m.level,
		fields: slices.Clone(m.fields),
	}
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.log(traceLevel, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.log(zapcore.DebugLevel, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.log(zapcore.InfoLevel, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.log(zapcore.WarnLevel, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.log(zapcore.ErrorLevel, msg, fields) }

func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.log(parseLevel(string(level)), msg, fields)
}

func (m *moduleLogger) With(fields ...Field) Logger {
	return &moduleLogger{
		module: m.module,
		zap:    m.zap,
		level:  m.level,
		fields: slices.Concat(m.fields, fields),
	}
}

func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return m
	}
	return m.With(String(traceIDKey, traceID))
}

func (m *moduleLogger) Flush() error {
	return nil
}

func (m *moduleLogger) log(level zapcore.Level, msg string, fields []Field) {
	if level < m.level {
		return
	}
	ce := m.zap.Check(level, msg)
	if ce == nil {
		return
	}

	zf := make([]zap.Field, 0, len(m.fields)+len(fields)+1)
	if m.module != "" {
		zf = append(zf, zap.String(moduleKey, m.module))
	}
	for _, f := range m.fields {
		zf = append(zf, toZapField(f))
	}
	for _, f := range fields {
		zf = append(zf, toZapField(f))
	}
	ce.Write(zf...)
}

func toZapField(f Field) zap.Field {
	switch v := f.Value.(type) {
	case nil:
		return zap.Skip()
	case string:
		return zap.String(f.Key, v)
	case int:
		return zap.Int(f.Key, v)
	case int64:
		return zap.Int64(f.Key, v)
	case uint:
		return zap.Uint(f.Key, v)
	case float64:
		return zap.Float64(f.Key, v)
	case bool:
		return zap.Bool(f.Key, v)
	case time.Time:
		return zap.Time(f.Key, v)
	case time.Duration:
		return zap.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return zap.Any(f.Key, v)
	}
}
