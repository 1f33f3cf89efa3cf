// Package logging provides the formatted, colour-aware logger shared by the
// MCP client packages. It doubles as a JSON-RPC message tracer.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ANSI colour codes.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

const timestampFormat = "15:04:05"

// Logger writes human-readable log lines. Every method is safe to call on a
// nil *Logger, which discards output.
type Logger struct {
	mu          sync.Mutex
	verbose     bool
	useColor    bool
	jsonRPCMode bool
	writer      io.Writer
}

// NewLogger creates a logger writing to stdout.
func NewLogger(verbose, useColor, jsonRPCMode bool) *Logger {
	return NewLoggerWithWriter(verbose, useColor, jsonRPCMode, os.Stdout)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(verbose, useColor, jsonRPCMode bool, w io.Writer) *Logger {
	return &Logger{
		verbose:     verbose,
		useColor:    useColor,
		jsonRPCMode: jsonRPCMode,
		writer:      w,
	}
}

// SetVerbose toggles verbose output.
func (l *Logger) SetVerbose(verbose bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.verbose = verbose
	l.mu.Unlock()
}

// Verbose reports whether verbose output is enabled.
func (l *Logger) Verbose() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

// SetWriter redirects all subsequent output to w.
func (l *Logger) SetWriter(w io.Writer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.writer = w
	l.mu.Unlock()
}

// Writer returns the current output writer.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer
}

func (l *Logger) log(color, prefix, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.write(color, prefix, fmt.Sprintf(format, args...))
}

// write must be called with l.mu held.
func (l *Logger) write(color, prefix, msg string) {
	if l.writer == nil {
		return
	}
	ts := time.Now().Format(timestampFormat)
	if l.useColor && color != "" {
		fmt.Fprintf(l.writer, "%s[%s]%s %s%s%s%s\n", colorGray, ts, colorReset, color, prefix, msg, colorReset)
		return
	}
	fmt.Fprintf(l.writer, "[%s] %s%s\n", ts, prefix, msg)
}

func (l *Logger) logVerbose(color, prefix, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.verbose {
		return
	}
	l.write(color, prefix, fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log("", "", format, args...)
}

// Success logs a success message.
func (l *Logger) Success(format string, args ...interface{}) {
	l.log(colorGreen, "✓ ", format, args...)
}

// Warning logs a warning.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(colorYellow, "⚠ ", format, args...)
}

// Error logs an error.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(colorRed, "✗ ", format, args...)
}

// Debug logs a message only in verbose mode.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logVerbose(colorGray, "", format, args...)
}

// InfoVerbose logs an informational message only in verbose mode.
func (l *Logger) InfoVerbose(format string, args ...interface{}) {
	l.logVerbose("", "", format, args...)
}

// WarningVerbose logs a warning only in verbose mode.
func (l *Logger) WarningVerbose(format string, args ...interface{}) {
	l.logVerbose(colorYellow, "⚠ ", format, args...)
}

// Request traces an outgoing JSON-RPC request or notification.
func (l *Logger) Request(method string, params interface{}) {
	l.trace(colorBlue, "→", method, params)
}

// Response traces an incoming JSON-RPC response.
func (l *Logger) Response(method string, result interface{}) {
	l.trace(colorGreen, "←", method, result)
}

// Notification traces an incoming JSON-RPC notification. Keepalive noise is
// only shown in verbose mode.
func (l *Logger) Notification(method string, params interface{}) {
	if l == nil {
		return
	}
	if isKeepalive(method) && !l.Verbose() {
		return
	}
	l.trace(colorCyan, "⇐", method, params)
}

func (l *Logger) trace(color, arrow, method string, payload interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.jsonRPCMode {
		if l.verbose {
			l.write(color, arrow+" ", method)
		}
		return
	}

	body := PrettyJSON(payload)
	l.write(color, arrow+" ", fmt.Sprintf("%s\n%s", method, body))
}

func isKeepalive(method string) bool {
	switch method {
	case "ping", "notifications/ping", "$/ping":
		return true
	}
	return strings.HasSuffix(method, "/keepalive")
}

// PrettyJSON renders v as indented JSON. Raw JSON byte slices are
// re-indented rather than base64-encoded.
func PrettyJSON(v interface{}) string {
	switch raw := v.(type) {
	case nil:
		return "{}"
	case json.RawMessage:
		return indentRaw(raw)
	case []byte:
		return indentRaw(raw)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}

func indentRaw(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(data)
}
