// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the structured, severity-leveled logging used
// throughout agentfs: a thin layer over log/slog that adds a TRACE severity
// below DEBUG and a fixed choice of two line formats (text, json).
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/blocksense-network/agentfs/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, TRACE below slog's own Debug and OFF above its Error so
// that "OFF" genuinely silences everything.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(math.MaxInt32)
)

type loggerFactory struct {
	mu sync.Mutex

	// file is the log file InitLogFile opened to validate the path, nil
	// otherwise. InitLogFile closes it at once; lumberjack opens the file
	// itself for writing.
	file *os.File
	// async wraps the lumberjack.Logger that writes and rotates the log
	// file, so writes never block the calling goroutine on disk I/O.
	async *AsyncLogger

	format       string
	level        cfg.LogSeverity
	logRotate    cfg.LogRotateLoggingConfig
	programLevel *slog.LevelVar
	prefix       string
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &severityHandler{mu: &f.mu, out: w, level: level, prefix: prefix, json: f.format == "json"}
}

var (
	defaultLoggerFactory = newDefaultLoggerFactory()
	defaultLogger        *slog.Logger
)

func newDefaultLoggerFactory() *loggerFactory {
	f := &loggerFactory{
		format:       "text",
		level:        cfg.InfoLogSeverity,
		logRotate:    cfg.LogRotateLoggingConfig{MaxFileSizeMb: 512, BackupFileCount: 10, Compress: true},
		programLevel: new(slog.LevelVar),
	}
	setLoggingLevel(f.level, f.programLevel)
	return f
}

func init() {
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultLoggerFactory.programLevel, ""))
}

func severityToLevel(severity cfg.LogSeverity) slog.Level {
	switch severity {
	case cfg.TraceLogSeverity:
		return LevelTrace
	case cfg.DebugLogSeverity:
		return LevelDebug
	case cfg.InfoLogSeverity:
		return LevelInfo
	case cfg.WarningLogSeverity:
		return LevelWarn
	case cfg.ErrorLogSeverity:
		return LevelError
	case cfg.OffLogSeverity:
		return LevelOff
	default:
		return LevelInfo
	}
}

func setLoggingLevel(severity cfg.LogSeverity, programLevel *slog.LevelVar) {
	programLevel.Set(severityToLevel(severity))
}

// SetLogFormat switches the default logger's line format ("text" or "json")
// without disturbing its destination or severity.
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	defaultLoggerFactory.format = format
	defaultLoggerFactory.mu.Unlock()

	rebuildDefaultLogger()
}

func rebuildDefaultLogger() {
	var w io.Writer = os.Stderr
	if defaultLoggerFactory.async != nil {
		w = defaultLoggerFactory.async
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, defaultLoggerFactory.programLevel, defaultLoggerFactory.prefix))
}

// InitLogFile redirects the default logger to config.FilePath, rotated
// through gopkg.in/natefinch/lumberjack.v2 and written through an
// AsyncLogger so slow disks never stall a filesystem operation. An empty
// FilePath is a no-op: logs continue to stderr.
func InitLogFile(config cfg.LoggingConfig) error {
	if config.FilePath == "" {
		setLoggingLevel(config.Severity, defaultLoggerFactory.programLevel)
		defaultLoggerFactory.mu.Lock()
		defaultLoggerFactory.level = config.Severity
		defaultLoggerFactory.format = config.Format
		defaultLoggerFactory.mu.Unlock()
		rebuildDefaultLogger()
		return nil
	}

	f, err := os.OpenFile(string(config.FilePath), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("logger: opening log file: %w", err)
	}
	f.Close() // lumberjack reopens/creates the file itself; this just validates the path up front.

	rotated := &lumberjack.Logger{
		Filename:   string(config.FilePath),
		MaxSize:    int(config.LogRotate.MaxFileSizeMb),
		MaxBackups: config.LogRotate.BackupFileCount,
		Compress:   config.LogRotate.Compress,
	}

	defaultLoggerFactory.mu.Lock()
	defaultLoggerFactory.file = f
	defaultLoggerFactory.async = NewAsyncLogger(rotated, 4096)
	defaultLoggerFactory.format = config.Format
	defaultLoggerFactory.level = config.Severity
	defaultLoggerFactory.logRotate = config.LogRotate
	defaultLoggerFactory.mu.Unlock()

	setLoggingLevel(config.Severity, defaultLoggerFactory.programLevel)
	rebuildDefaultLogger()
	return nil
}

// Close flushes and releases any file/async-writer resources InitLogFile
// opened, restoring logging to stderr.
func Close() error {
	defaultLoggerFactory.mu.Lock()
	async := defaultLoggerFactory.async
	defaultLoggerFactory.async = nil
	defaultLoggerFactory.file = nil
	defaultLoggerFactory.mu.Unlock()

	rebuildDefaultLogger()

	if async != nil {
		return async.Close()
	}
	return nil
}

func Tracef(format string, v ...any) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...))
}
func Debugf(format string, v ...any) { defaultLogger.Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { defaultLogger.Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { defaultLogger.Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { defaultLogger.Error(fmt.Sprintf(format, v...)) }
