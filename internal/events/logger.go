package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/TheMichaelB/pickupsync/internal/config"
)

// LogLevel represents logging severity.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l LogLevel) String() string {
	if l >= DebugLevel && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

var levelColors = map[LogLevel]*color.Color{
	DebugLevel: color.New(color.FgCyan),
	InfoLevel:  color.New(color.FgGreen),
	WarnLevel:  color.New(color.FgYellow),
	ErrorLevel: color.New(color.FgRed),
}

// reserved keys are written by the logger itself and skipped in text output.
var reserved = map[string]bool{"time": true, "level": true, "msg": true, "hostname": true, "caller": true}

// sink is the output shared by a logger and everything derived from it.
type sink struct {
	mu       sync.Mutex
	w        io.Writer
	json     bool
	colorize bool
	hostname string
}

// Logger provides structured logging. Derived loggers are cheap and share
// the parent's output.
type Logger struct {
	sink   *sink
	level  LogLevel
	fields map[string]interface{}
}

// NewLogger creates a logger from config. A configured file is rotated by size.
func NewLogger(cfg *config.LogConfig) (*Logger, error) {
	var w io.Writer = os.Stdout
	if cfg.File != "" {
		// lumberjack opens lazily; check the path up front.
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		f.Close()

		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
	}

	hostname, _ := os.Hostname()
	return newLogger(ParseLevel(cfg.Level), cfg.Format, w, cfg.Color && isTerminal(w), hostname), nil
}

// NewTestLogger creates a logger for testing.
func NewTestLogger(level LogLevel, format string, output io.Writer) *Logger {
	return newLogger(level, format, output, false, "test-host")
}

// NewDiscardLogger returns a logger that writes nothing.
func NewDiscardLogger() *Logger {
	return newLogger(ErrorLevel+1, "text", io.Discard, false, "")
}

func newLogger(level LogLevel, format string, w io.Writer, colorize bool, hostname string) *Logger {
	return &Logger{
		sink: &sink{
			w:        w,
			json:     format == "json",
			colorize: colorize,
			hostname: hostname,
		},
		level: level,
	}
}

// WithField returns a logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a logger with additional fields. Later values win.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{sink: l.sink, level: l.level, fields: merged}
}

// WithError adds an error field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(msg string) { l.log(DebugLevel, msg) }
func (l *Logger) Info(msg string)  { l.log(InfoLevel, msg) }
func (l *Logger) Warn(msg string)  { l.log(WarnLevel, msg) }
func (l *Logger) Error(msg string) { l.log(ErrorLevel, msg) }

// Close releases a rotating log file, if any.
func (l *Logger) Close() error {
	if c, ok := l.sink.w.(*lumberjack.Logger); ok {
		return c.Close()
	}
	return nil
}

func (l *Logger) log(level LogLevel, msg string) {
	if level < l.level {
		return
	}

	_, file, line, _ := runtime.Caller(2)
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}
	now := time.Now().UTC()

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.json {
		s.writeJSON(now, level, msg, fmt.Sprintf("%s:%d", file, line), l.fields)
	} else {
		s.writeText(now, level, msg, l.fields)
	}
}

func (s *sink) writeJSON(now time.Time, level LogLevel, msg, caller string, fields map[string]interface{}) {
	entry := make(map[string]interface{}, len(fields)+5)
	for k, v := range fields {
		entry[k] = v
	}
	entry["time"] = now.Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	entry["caller"] = caller
	if s.hostname != "" {
		entry["hostname"] = s.hostname
	}

	data, err := json.Marshal(entry)
	if err != nil {
		for k, v := range entry {
			entry[k] = fmt.Sprint(v)
		}
		data, _ = json.Marshal(entry)
	}
	_, _ = s.w.Write(append(data, '\n'))
}

// writeText prints: TIME [LEVEL] message key=value ...
func (s *sink) writeText(now time.Time, level LogLevel, msg string, fields map[string]interface{}) {
	var b strings.Builder

	tag := "[" + strings.ToUpper(level.String()) + "]"
	if c, ok := levelColors[level]; ok && s.colorize {
		tag = c.Sprint(tag)
	}
	b.WriteString(now.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(tag)
	b.WriteByte(' ')
	b.WriteString(msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !reserved[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')

	_, _ = io.WriteString(s.w, b.String())
}

// ParseLevel maps a config string to a level. Unknown values mean info.
func ParseLevel(s string) LogLevel {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return LogLevel(i)
		}
	}
	return InfoLevel
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}
