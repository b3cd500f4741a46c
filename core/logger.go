package core

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Level orders log severities. Lines below the logger's minimum level are dropped.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps LOG_LEVEL style strings onto a Level. Unknown values yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// HandlerFunc receives one fully resolved log record.
type HandlerFunc func(level Level, msg string, attrs map[string]interface{})

var (
	loggerMu       sync.RWMutex
	loggerInstance = NewDevelopmentLogger(os.Stdout, LevelInfo)
)

// SetLogger sets the global logger instance
func SetLogger(logger *Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	loggerInstance = logger
}

// GetLogger retrieves the global logger instance
func GetLogger() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return loggerInstance
}

type Logger struct {
	handlerFunc HandlerFunc
	minLevel    Level
	attrs       map[string]interface{}
	exit        func(code int)
}

func NewLogger(handler HandlerFunc, minLevel Level) *Logger {
	return &Logger{
		handlerFunc: handler,
		minLevel:    minLevel,
		attrs:       make(map[string]interface{}),
		exit:        os.Exit,
	}
}

// NewDevelopmentLogger writes human readable lines:
//
//	2024-01-02T15:04:05Z [INFO] message | key=value key2=value2
func NewDevelopmentLogger(w io.Writer, minLevel Level) *Logger {
	var mu sync.Mutex
	handler := func(level Level, msg string, attrs map[string]interface{}) {
		var b strings.Builder
		b.WriteString(time.Now().Format(time.RFC3339))
		b.WriteString(" [")
		b.WriteString(level.String())
		b.WriteString("] ")
		b.WriteString(msg)
		if len(attrs) > 0 {
			b.WriteString(" |")
			for _, k := range sortedKeys(attrs) {
				fmt.Fprintf(&b, " %s=%v", k, attrs[k])
			}
		}
		b.WriteByte('\n')

		mu.Lock()
		defer mu.Unlock()
		io.WriteString(w, b.String())
	}
	return NewLogger(handler, minLevel)
}

// jsonLine is a single JSON log line.
type jsonLine struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// NewJSONLogger writes one JSON object per line, for log shippers.
func NewJSONLogger(w io.Writer, minLevel Level) *Logger {
	var mu sync.Mutex
	handler := func(level Level, msg string, attrs map[string]interface{}) {
		line := jsonLine{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Level:     level.String(),
			Message:   msg,
			Attrs:     stringifyErrors(attrs),
		}
		data, err := sonic.Marshal(line)
		if err != nil {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		w.Write(data)
		w.Write([]byte("\n"))
	}
	return NewLogger(handler, minLevel)
}

// stringifyErrors replaces error values with their message; most error types
// marshal to "{}".
func stringifyErrors(attrs map[string]interface{}) map[string]interface{} {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			out[k] = err.Error()
			continue
		}
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	if l.handlerFunc == nil || level < l.minLevel {
		return
	}
	attrs := l.attrs
	if len(args) > 0 {
		// Detect slog-style key-value pairs: even number of args where
		// odd-positioned args (keys) are strings.
		if isKeyValuePairs(args) && !strings.Contains(msg, "%") {
			attrs = make(map[string]interface{}, len(l.attrs)+len(args)/2)
			for k, v := range l.attrs {
				attrs[k] = v
			}
			for i := 0; i < len(args)-1; i += 2 {
				key, _ := args[i].(string)
				attrs[key] = args[i+1]
			}
		} else {
			msg = fmt.Sprintf(msg, args...)
		}
	}
	l.handlerFunc(level, msg, attrs)
	if level == LevelFatal && l.exit != nil {
		l.exit(1)
	}
}

// isKeyValuePairs returns true if args look like slog-style key-value pairs:
// even count and every key (even index) is a string.
func isKeyValuePairs(args []interface{}) bool {
	if len(args)%2 != 0 {
		return false
	}
	for i := 0; i < len(args); i += 2 {
		if _, ok := args[i].(string); !ok {
			return false
		}
	}
	return true
}

func (l *Logger) Trace(msg string, args ...interface{}) {
	l.log(LevelTrace, msg, args...)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(LevelDebug, msg, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(LevelInfo, msg, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(LevelWarn, msg, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(LevelError, msg, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Fatal logs and terminates the process with exit code 1.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log(LevelFatal, msg, args...)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(LevelFatal, format, args...)
}

func (l *Logger) With(attrs map[string]interface{}) *Logger {
	combinedAttrs := make(map[string]interface{}, len(l.attrs)+len(attrs))
	for k, v := range l.attrs {
		combinedAttrs[k] = v
	}
	for k, v := range attrs {
		combinedAttrs[k] = v
	}
	return &Logger{
		handlerFunc: l.handlerFunc,
		minLevel:    l.minLevel,
		attrs:       combinedAttrs,
		exit:        l.exit,
	}
}

// Sync is a no-op; handlers write synchronously.
func (l *Logger) Sync() error {
	return nil
}

// NewNopLogger discards everything. Used by tests.
func NewNopLogger() *Logger {
	return NewLogger(func(Level, string, map[string]interface{}) {}, LevelFatal+1)
}
