package applog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	fileName    = "tabharvest.log"
	maxSizeMB   = 5
	maxBackups  = 3
	maxValueLen = 200
	truncSuffix = "…"
)

var (
	mu     sync.RWMutex
	logger = zerolog.Nop()
	closer io.Closer
)

// Init opens the rotating log file in dir. With console set, events are
// also written to stderr and debug events are kept.
// Safe to skip: all log calls are no-ops until Init succeeds.
func Init(dir string, console bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}

	var w io.Writer = file
	level := zerolog.InfoLevel
	if console {
		w = zerolog.MultiLevelWriter(file, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		level = zerolog.DebugLevel
	}

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer.Close()
	}
	logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	closer = file
	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer.Close()
		closer = nil
	}
	logger = zerolog.Nop()
}

// Info logs a structured event line.
//
//	applog.Info("ws.connected", "remote", addr)
//	applog.Info("run.finished", "window", 3, "saved", 12)
func Info(event string, kv ...any) {
	write(current().Info(), event, kv)
}

// Debug logs an event only kept in console mode.
func Debug(event string, kv ...any) {
	write(current().Debug(), event, kv)
}

// Warn logs an event that needs attention but is recovered.
func Warn(event string, kv ...any) {
	write(current().Warn(), event, kv)
}

// Error logs an event with an error.
//
//	applog.Error("ws.send", err, "action", "download")
func Error(event string, err error, kv ...any) {
	write(current().Error().Err(err), event, kv)
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

func write(ev *zerolog.Event, event string, kv []any) {
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		switch v := kv[i+1].(type) {
		case int:
			ev = ev.Int(key, v)
		case int64:
			ev = ev.Int64(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		case error:
			ev = ev.Str(key, truncate(v.Error()))
		default:
			ev = ev.Str(key, truncate(fmt.Sprint(v)))
		}
	}
	ev.Msg(event)
}

func truncate(s string) string {
	if len(s) > maxValueLen {
		return s[:maxValueLen] + truncSuffix
	}
	return s
}
