// Package obslog wires the engine's structured, rotated debug log: a
// zap logger writing to a lumberjack-rotated file, gated behind an
// environment variable so production runs pay no logging overhead
// unless a developer opts in.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EnableEnvVar turns on debug logging when set to "1" or "true".
const EnableEnvVar = "AGENT_DEBUG"

var (
	mu          sync.Mutex
	logger      *zap.Logger
	enabled     bool
	initialized bool
)

// Init sets up the logger once per process. Subsequent calls are no-ops.
// When AGENT_DEBUG is unset, Logger returns a no-op zap.Logger so every
// call site can log unconditionally without a hot-path branch.
func Init() error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}
	initialized = true

	if !envBool(EnableEnvVar) {
		logger = zap.NewNop()
		return nil
	}
	enabled = true

	dir, err := logDir()
	if err != nil {
		return fmt.Errorf("resolving log directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, "engine.log"),
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	})

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, zapcore.DebugLevel)
	logger = zap.New(core, zap.AddCaller())
	return nil
}

func logDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".agent-turn-engine", "logs"), nil
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true"
}

// IsEnabled reports whether debug logging is currently active.
func IsEnabled() bool {
	return enabled
}

// Logger returns the process-wide logger, initializing a no-op logger if
// Init was never called (so tests and early-startup code never see nil).
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Sync flushes buffered log entries; callers should defer it in main.
func Sync() error {
	if logger == nil {
		return nil
	}
	return logger.Sync()
}

// TurnStarted logs the beginning of a turn at the given recursion depth.
func TurnStarted(sessionID string, depth int) {
	Logger().Info("turn started", zap.String("session_id", sessionID), zap.Int("depth", depth))
}

// TurnFinished logs a turn's completion, including its wall-clock duration
// and the reason it stopped.
func TurnFinished(sessionID string, depth int, duration time.Duration, stopReason string) {
	Logger().Info("turn finished",
		zap.String("session_id", sessionID),
		zap.Int("depth", depth),
		zap.Duration("duration", duration),
		zap.String("stop_reason", stopReason),
	)
}

// ToolExecuted logs one tool call's outcome and timing.
func ToolExecuted(name, toolID string, duration time.Duration, success bool) {
	Logger().Info("tool executed",
		zap.String("tool", name),
		zap.String("tool_id", toolID),
		zap.Duration("duration", duration),
		zap.Bool("success", success),
	)
}

// CompressionRan logs a compaction pass, recording how many messages it
// collapsed.
func CompressionRan(sessionID string, collapsedMessages int) {
	Logger().Info("compression ran",
		zap.String("session_id", sessionID),
		zap.Int("collapsed_messages", collapsedMessages),
	)
}

// HookFailed logs a hook execution failure; PreToolUse/PostToolUse
// failures are not fatal to the turn but are always worth a log line.
func HookFailed(event, command, reason string) {
	Logger().Warn("hook failed",
		zap.String("event", event),
		zap.String("command", command),
		zap.String("reason", reason),
	)
}
