// Package logging provides the leveled, component-tagged logger used across
// the simulator (replicas, sessions, the CLI). Text mode is a compact,
// human-aligned line; JSON mode hands the same fields to zerolog so a run
// can be piped into a log aggregator.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level is a logging severity, ordered DEBUG < INFO < WARN < ERROR.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String renders the level's name, used both for text-mode lines and JSON's
// "level" field.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel parses a level name case-insensitively, accepting "WARNING" as
// an alias for WARN. Unknown input defaults to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

var global = struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
	json   bool
}{
	level:  INFO,
	output: os.Stderr,
}

// SetGlobalLevel sets the minimum level emitted by every Logger.
func SetGlobalLevel(l Level) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.level = l
}

// SetGlobalOutput redirects every Logger's output.
func SetGlobalOutput(w io.Writer) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.output = w
}

// SetJSONMode switches every Logger between compact text lines and
// newline-delimited JSON.
func SetJSONMode(on bool) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.json = on
}

func snapshotGlobal() (Level, io.Writer, bool) {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.level, global.output, global.json
}

// Entry is the shape of a JSON-mode log line.
type Entry struct {
	Level     string                 `json:"level"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger tags every line with a component name and an optional set of bound
// fields (see With).
type Logger struct {
	component string
	fields    map[string]string
}

// NewLogger creates a Logger for the given component (e.g. a replica id).
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// With returns a derived Logger with additional fields bound to every line
// it emits, leaving the receiver unmodified.
func (l *Logger) With(kv ...string) *Logger {
	merged := make(map[string]string, len(l.fields)+len(kv)/2)
	for k, v := range l.fields {
		merged[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		merged[kv[i]] = kv[i+1]
	}
	return &Logger{component: l.component, fields: merged}
}

func (l *Logger) Debug(msg string, kv ...string) { l.log(DEBUG, msg, kv...) }
func (l *Logger) Info(msg string, kv ...string)  { l.log(INFO, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...string)  { l.log(WARN, msg, kv...) }
func (l *Logger) Error(msg string, kv ...string) { l.log(ERROR, msg, kv...) }

func (l *Logger) log(level Level, msg string, kv ...string) {
	minLevel, output, jsonMode := snapshotGlobal()
	if level < minLevel {
		return
	}

	fields := make(map[string]string, len(l.fields)+len(kv)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}

	if jsonMode {
		writeJSON(output, level, l.component, msg, fields)
		return
	}
	writeText(output, level, l.component, msg, fields)
}

func writeText(w io.Writer, level Level, component, msg string, fields map[string]string) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%-5s] [%s] %s", level.String(), component, msg)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(&b, " %s=%s", k, fields[k])
	}
	b.WriteByte('\n')
	io.WriteString(w, b.String())
}

func writeJSON(w io.Writer, level Level, component, msg string, fields map[string]string) {
	asAny := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		asAny[k] = v
	}

	event := zerolog.New(w).With().Logger().Log()
	event.Str("level", level.String()).
		Str("component", component).
		Str("message", msg)
	if len(asAny) > 0 {
		event = event.Interface("fields", asAny)
	}
	event.Send()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
