package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"splatgate/internal/config"
)

// New returns a slog.Logger writing to stdout at the given level (debug, info, warn, error).
// format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	return slog.New(newHandler(os.Stdout, parseLevel(level), format))
}

// Setup configures the process-wide logger from cfg, adding a dated log file
// and a splatgate-current.log symlink when file output is enabled.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	writers := []io.Writer{os.Stdout}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("splatgate-%s.log", time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)

		current := filepath.Join(cfg.Logging.LogDir, "splatgate-current.log")
		_ = os.Remove(current)
		_ = os.Symlink(filepath.Base(logFile), current)
	}

	logger := slog.New(newHandler(io.MultiWriter(writers...), parseLevel(cfg.Logging.Level), cfg.Logging.Format))
	slog.SetDefault(logger)

	logger.Info("splatgate logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)
	return logger, nil
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "slog":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return NewTraditionalHandler(w, level)
	}
}

// TraditionalHandler renders records as "[LEVEL] message [k=v ...]" behind a
// standard log timestamp.
type TraditionalHandler struct {
	mu     *sync.Mutex
	logger *log.Logger
	level  slog.Level
	attrs  []string // preformatted, group prefix already applied
	group  string
}

// NewTraditionalHandler returns a handler writing to w.
func NewTraditionalHandler(w io.Writer, level slog.Level) *TraditionalHandler {
	return &TraditionalHandler{
		mu:     &sync.Mutex{},
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

func (h *TraditionalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(_ context.Context, r slog.Record) error {
	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	parts = append(parts, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, h.format(a))
		return true
	})

	msg := r.Message
	if len(parts) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(parts, " "))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) format(a slog.Attr) string {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	return fmt.Sprintf("%s=%v", key, a.Value)
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]string{}, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.format(a))
	}
	return &clone
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		name = clone.group + "." + name
	}
	clone.group = name
	return &clone
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogJobStart logs the beginning of an analysis job.
func LogJobStart(logger *slog.Logger, jobType, jobID, source string, options map[string]any) {
	logger.Info("job started",
		"type", jobType,
		"id", jobID,
		"source", source,
		"options", options,
	)
}

// LogJobComplete logs successful job completion.
func LogJobComplete(logger *slog.Logger, jobType, jobID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"result", resultInfo,
	)
}

// LogJobError logs job failures.
func LogJobError(logger *slog.Logger, jobType, jobID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogGateDecision records whether footage was forwarded to reconstruction.
func LogGateDecision(logger *slog.Logger, jobID string, score, threshold int, confidence string, proceed bool, reason string) {
	level := slog.LevelInfo
	if !proceed {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "gate decision",
		"id", jobID,
		"score", score,
		"threshold", threshold,
		"confidence", confidence,
		"proceed", proceed,
		"reason", reason,
	)
}

// LogToolStatus logs external tool detection.
func LogToolStatus(logger *slog.Logger, tool string, available bool, path string, err error) {
	if available {
		logger.Debug("tool detected", "tool", tool, "path", path)
		return
	}
	logger.Warn("tool not available", "tool", tool, "error", err)
}

// LogProcessingStep logs individual processing steps within a job.
func LogProcessingStep(logger *slog.Logger, jobID, step, status string, details map[string]any) {
	logger.Debug("processing step",
		"job_id", jobID,
		"step", step,
		"status", status,
		"details", details,
	)
}
