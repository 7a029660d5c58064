// Package logger provides service-prefixed logging with asynchronous writes so that logging never
// blocks request handling. Function durations can be logged with DeferLogDuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const asyncBufferSize = 8192

var (
	mu     sync.RWMutex
	prefix string
	base   zerolog.Logger
	once   sync.Once
)

func initLogger() {
	level := zerolog.InfoLevel
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "trace":
		level = zerolog.DebugLevel
	}
	// Buffer full: messages are dropped instead of blocking the caller.
	w := diode.NewWriter(os.Stderr, asyncBufferSize, 10*time.Millisecond, func(int) {})
	base = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func get() zerolog.Logger {
	once.Do(initLogger)
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return base
	}
	return base.With().Str("service", prefix).Logger()
}

// SetPrefix sets the service name attached to every following entry (e.g. "api", "push").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetOutput redirects log output synchronously. Used by tests.
func SetOutput(w io.Writer) {
	once.Do(initLogger)
	mu.Lock()
	base = base.Output(w)
	mu.Unlock()
}

func Info(v ...any) {
	l := get()
	l.Info().Msg(fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	l := get()
	l.Info().Msgf(format, v...)
}

func Error(v ...any) {
	l := get()
	l.Error().Msg(fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	l := get()
	l.Error().Msgf(format, v...)
}

// LogDuration logs the function name and its execution time in milliseconds.
// At info level only calls slower than 100ms are logged; at debug level all of them.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	l := get()
	if l.GetLevel() <= zerolog.DebugLevel || elapsed >= 100*time.Millisecond {
		l.Info().Str("fn", fn).Int64("duration_ms", elapsed.Milliseconds()).Send()
	}
}

// DeferLogDuration returns a func for defer: defer logger.DeferLogDuration("name", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
