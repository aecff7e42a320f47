package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/Guizzs26/hff-sync/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logFile   *lumberjack.Logger
	logFileMu sync.Mutex
)

func SetupLogger(cfg *config.Config) *slog.Logger {
	return NewLogger(os.Stdout, cfg)
}

// NewLogger writes to out and, when cfg.LogFile is set, to a size-rotated log file
func NewLogger(out io.Writer, cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	w := out
	if cfg.LogFile != "" {
		logFileMu.Lock()
		if logFile != nil {
			_ = logFile.Close()
		}
		logFile = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		w = io.MultiWriter(out, logFile)
		logFileMu.Unlock()
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if strings.ToUpper(cfg.LogFormat) == "JSON" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// CloseLogger flushes and closes the rotating log file, if any
func CloseLogger() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
