package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// sink is the process-wide output shared by every component logger.
type sink struct {
	mu    sync.Mutex
	level Level
	out   io.Writer
	file  *os.File
}

var (
	defaultSink = &sink{level: LevelInfo, out: os.Stdout}
)

// Configure sets the minimum level and an optional log file for all
// component loggers. An empty path logs to stdout only.
func Configure(level Level, path string) error {
	defaultSink.mu.Lock()
	defer defaultSink.mu.Unlock()

	defaultSink.level = level
	if defaultSink.file != nil {
		_ = defaultSink.file.Close()
		defaultSink.file = nil
	}
	defaultSink.out = os.Stdout
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defaultSink.file = file
	defaultSink.out = io.MultiWriter(os.Stdout, file)
	return nil
}

// SetOutput redirects component loggers; used by tests and the CLI.
func SetOutput(w io.Writer) {
	defaultSink.mu.Lock()
	defer defaultSink.mu.Unlock()
	defaultSink.out = w
}

// Close flushes and closes the log file, if one was configured.
func Close() error {
	defaultSink.mu.Lock()
	defer defaultSink.mu.Unlock()
	if defaultSink.file == nil {
		return nil
	}
	err := defaultSink.file.Close()
	defaultSink.file = nil
	defaultSink.out = os.Stdout
	return err
}

// ComponentLogger writes lines of the form
// "2025-09-30 12:34:56 [INFO] [Component] file.go:123 - message".
type ComponentLogger struct {
	component string
	sink      *sink
}

// NewComponentLogger returns the application logger scoped to a component.
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{component: component, sink: defaultSink}
}

func (l *ComponentLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *ComponentLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *ComponentLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *ComponentLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func (l *ComponentLogger) log(level Level, format string, args ...any) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if level < l.sink.level || l.sink.out == nil {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}
	component := l.component
	if component == "" {
		component = "RunThru"
	}

	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		time.Now().Format("2006-01-02 15:04:05"), level, component, file, line, message)
	_, _ = io.WriteString(l.sink.out, Redact(logLine))
}

const redactedPlaceholder = "[REDACTED]"

var (
	authorizationBearerPattern = regexp.MustCompile(
		`(?i)((?:"|')?authorization(?:"|')?\s*(?:=|:)\s*)(bearer\s+)([^"'\s,;]+)`,
	)
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|app[_-]?secret|access[_-]?token|token|secret|password)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
	bearerTokenPattern      = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	standaloneSecretPattern = regexp.MustCompile(`(sk-[A-Za-z0-9]{16,}|ghp_[A-Za-z0-9]{16,}|pat_[A-Za-z0-9]{16,})`)
)

// Redact masks credentials that may leak into log lines through request
// dumps or error strings.
func Redact(line string) string {
	line = authorizationBearerPattern.ReplaceAllString(line, "${1}${2}"+redactedPlaceholder)
	line = sensitiveKeyValuePattern.ReplaceAllString(line, "${1}"+redactedPlaceholder+"${3}")
	line = bearerTokenPattern.ReplaceAllString(line, "${1}"+redactedPlaceholder)
	return standaloneSecretPattern.ReplaceAllString(line, redactedPlaceholder)
}
