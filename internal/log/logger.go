// Package log is the leveled key/value logger shared by the CLI and the
// analysis pipeline. Text output colors the level tag when the sink is a
// terminal; JSON output writes one object per line.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Level represents log severity levels
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel accepts debug, info, warn (or warning) and error in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("%w: unknown log level %q", types.ErrConfig, s)
}

var levelStyles = map[Level]lipgloss.Style{
	DebugLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	InfoLevel:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	WarnLevel:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
	ErrorLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

// Logger interface defines structured logging methods
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	SetLevel(level Level)
	SetJSONOutput(enabled bool)
}

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	Level      Level
	JSONOutput bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultLogger is the default implementation of Logger
type DefaultLogger struct {
	mu         sync.Mutex
	level      Level
	jsonOutput bool
	out        io.Writer
	colors     bool
	now        func() time.Time
}

var (
	defaultMu     sync.Mutex
	defaultLogger *DefaultLogger
)

// New creates a new logger with the given configuration
func New(cfg LoggerConfig) *DefaultLogger {
	l := &DefaultLogger{
		level:      cfg.Level,
		jsonOutput: cfg.JSONOutput,
		out:        cfg.Output,
		now:        time.Now,
	}
	if l.out == nil {
		l.out = os.Stderr
	}
	l.colors = IsTerminal(l.out) && os.Getenv("NO_COLOR") == ""
	return l
}

// Default returns the process-wide logger, writing info and above to stderr.
func Default() *DefaultLogger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(LoggerConfig{Level: InfoLevel})
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *DefaultLogger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Discard returns a logger that drops everything.
func Discard() *DefaultLogger {
	return New(LoggerConfig{Level: ErrorLevel + 1, Output: io.Discard})
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// pairs turns variadic key/value args into ordered pairs. A dangling key
// gets a placeholder value.
func pairs(args []any) [][2]any {
	var out [][2]any
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			out = append(out, [2]any{key, "(MISSING)"})
			break
		}
		out = append(out, [2]any{key, args[i+1]})
	}
	return out
}

func plain(v any) any {
	switch x := v.(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	return v
}

func formatValue(v any) string {
	s := fmt.Sprint(plain(v))
	if strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// write outputs the log message
func (l *DefaultLogger) write(level Level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	if l.jsonOutput {
		entry := map[string]any{
			"time":  l.now().UTC().Format(time.RFC3339),
			"level": strings.ToLower(level.String()),
			"msg":   msg,
		}
		for _, kv := range pairs(args) {
			entry[kv[0].(string)] = plain(kv[1])
		}
		data, err := json.Marshal(entry)
		if err != nil {
			data, _ = json.Marshal(map[string]string{"level": "error", "msg": "unencodable log entry: " + err.Error()})
		}
		fmt.Fprintln(l.out, string(data))
		return
	}

	tag := fmt.Sprintf("%-5s", level.String())
	if l.colors {
		tag = levelStyles[level].Render(tag)
	}
	var sb strings.Builder
	sb.WriteString(tag)
	sb.WriteString(" ")
	sb.WriteString(msg)
	for _, kv := range pairs(args) {
		sb.WriteString(" ")
		sb.WriteString(kv[0].(string))
		sb.WriteString("=")
		sb.WriteString(formatValue(kv[1]))
	}
	fmt.Fprintln(l.out, sb.String())
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, args ...any) { l.write(DebugLevel, msg, args) }

// Info logs an info message
func (l *DefaultLogger) Info(msg string, args ...any) { l.write(InfoLevel, msg, args) }

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, args ...any) { l.write(WarnLevel, msg, args) }

// Error logs an error message
func (l *DefaultLogger) Error(msg string, args ...any) { l.write(ErrorLevel, msg, args) }

// SetLevel sets the minimum log level
func (l *DefaultLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the minimum level that is written.
func (l *DefaultLogger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetJSONOutput enables or disables JSON output
func (l *DefaultLogger) SetJSONOutput(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jsonOutput = enabled
}
