// Package logging builds the process-wide slog.Logger: JSON or text to
// stdout, mirrored to a rotated file under logs/. Mirrors the dual
// console+timestamped-file handler the source material wires up at startup.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the logger's level, format, and file destination.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Dir    string // directory for rotated log files; empty disables file logging
}

// New builds a slog.Logger writing to stdout and, if cfg.Dir is set, to a
// lumberjack-rotated file named bot_YYYYMMDD_HHMMSS.log under cfg.Dir
// (config.Load defaults it to logs).
func New(cfg Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Level)

	var w io.Writer = os.Stdout
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		fileName := filepath.Join(cfg.Dir, fmt.Sprintf("bot_%s.log", time.Now().Format("20060102_150405")))
		fileWriter := &lumberjack.Logger{
			Filename:   fileName,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, fileWriter)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
