// Package klog provides the logging utilities used across the daemon,
// grounded on dKV's rpc/common logger: a small ILogger-shaped interface
// with a per-package factory and a global level set at startup.
package klog

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
)

// Level mirrors dKV's dragonboat-derived level ordering (Debugf <
// Infof < Warningf < Errorf), kept independent of any consensus
// library since this daemon carries no Raft layer.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// Logger is the ILogger-shaped interface every package logs through.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var globalLevel = LevelInfo

// SetLevel sets the process-wide minimum log level, read from config at
// startup (dKV's InitLoggers).
func SetLevel(level Level) {
	globalLevel = level
}

// ParseLevel converts a config string into a Level, panicking on an
// unrecognized value the same way dKV's parseLogLevel does - this is a
// startup-time configuration error, not a runtime one.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	default:
		panic(fmt.Sprintf("invalid log level: %s, must be one of debug, info, warn, error", s))
	}
}

type stdLogger struct {
	name   string
	logger *log.Logger
}

// Get returns the Logger for pkgName, e.g. klog.Get("merge"),
// klog.Get("flood") - one instance per calling package, following dKV's
// CreateLogger factory shape.
func Get(pkgName string) Logger {
	return &stdLogger{name: pkgName, logger: log.New(os.Stdout, "", log.Ldate|log.Ltime)}
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	if globalLevel <= LevelDebug {
		l.log("DEBUG", format, args...)
	}
}

func (l *stdLogger) Infof(format string, args ...interface{}) {
	if globalLevel <= LevelInfo {
		l.log("INFO", format, args...)
	}
}

func (l *stdLogger) Warningf(format string, args ...interface{}) {
	if globalLevel <= LevelWarning {
		l.log("WARN", format, args...)
	}
}

func (l *stdLogger) Errorf(format string, args ...interface{}) {
	if globalLevel <= LevelError {
		l.log("ERROR", format, args...)
	}
}

func (l *stdLogger) log(levelStr, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

// WithTags attaches area/peer/subscriber identifying tags to ctx so
// downstream log calls inherit them without re-stating them at every call
// site (SPEC_FULL "Logging"). kv is a flat key, value, key, value... list,
// following the same shape dKV's own callers built ad hoc string prefixes
// from before this package existed.
func WithTags(ctx context.Context, kv ...interface{}) context.Context {
	buf := logtags.FromContext(ctx)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		buf = buf.Add(key, kv[i+1])
	}
	return logtags.WithTags(ctx, buf)
}

// Tags renders ctx's attached tags as a "[key=value,key2=value2]" prefix
// (no trailing space; callers add their own separator) suitable for
// prepending to a log message; empty when ctx carries none.
func Tags(ctx context.Context) string {
	buf := logtags.FromContext(ctx)
	if buf == nil || len(buf.Get()) == 0 {
		return ""
	}
	return "[" + buf.String() + "]"
}

// RedactPeerPayload marks raw peer-supplied bytes as redactable before
// they ever reach a log line, so a misconfigured debug log level cannot
// leak key material onto disk (SPEC_FULL "Logging").
func RedactPeerPayload(payload []byte) redact.RedactableString {
	return redact.Sprint(redact.SafeString("<payload "), len(payload), redact.SafeString(" bytes redacted>"))
}
