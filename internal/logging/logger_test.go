package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInfoVerbose(t *testing.T) {
	tests := []struct {
		name           string
		verbose        bool
		format         string
		args           []interface{}
		expectOutput   bool
		expectedSubstr string
	}{
		{
			name:           "verbose enabled - should output",
			verbose:        true,
			format:         "test message: %s",
			args:           []interface{}{"hello"},
			expectOutput:   true,
			expectedSubstr: "test message: hello",
		},
		{
			name:         "verbose disabled - should not output",
			verbose:      false,
			format:       "test message: %s",
			args:         []interface{}{"hello"},
			expectOutput: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := NewLoggerWithWriter(tt.verbose, false, false, buf)

			logger.InfoVerbose(tt.format, tt.args...)

			output := buf.String()
			if tt.expectOutput {
				if !strings.Contains(output, tt.expectedSubstr) {
					t.Errorf("expected output to contain %q, got %q", tt.expectedSubstr, output)
				}
			} else {
				if output != "" {
					t.Errorf("expected no output, got %q", output)
				}
			}
		})
	}
}

func TestWarningVerbose(t *testing.T) {
	tests := []struct {
		name           string
		verbose        bool
		format         string
		args           []interface{}
		expectOutput   bool
		expectedSubstr string
	}{
		{
			name:           "verbose enabled - should output",
			verbose:        true,
			format:         "warning: %s",
			args:           []interface{}{"test warning"},
			expectOutput:   true,
			expectedSubstr: "warning: test warning",
		},
		{
			name:         "verbose disabled - should not output",
			verbose:      false,
			format:       "warning: %s",
			args:         []interface{}{"test warning"},
			expectOutput: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := NewLoggerWithWriter(tt.verbose, false, false, buf)

			logger.WarningVerbose(tt.format, tt.args...)

			output := buf.String()
			if tt.expectOutput {
				if !strings.Contains(output, tt.expectedSubstr) {
					t.Errorf("expected output to contain %q, got %q", tt.expectedSubstr, output)
				}
			} else {
				if output != "" {
					t.Errorf("expected no output, got %q", output)
				}
			}
		})
	}
}

func TestInfoVerboseNilLogger(t *testing.T) {
	// Should not panic with nil logger
	var logger *Logger
	logger.InfoVerbose("test message")
	// If we reach here, test passes (no panic)
}

func TestWarningVerboseNilLogger(t *testing.T) {
	// Should not panic with nil logger
	var logger *Logger
	logger.WarningVerbose("test warning")
	// If we reach here, test passes (no panic)
}

func TestLoggerBasicFunctions(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLoggerWithWriter(false, false, false, buf)

	t.Run("Info", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		if !strings.Contains(buf.String(), "info message") {
			t.Errorf("expected Info to log message, got %q", buf.String())
		}
	})

	t.Run("Error", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		if !strings.Contains(buf.String(), "error message") {
			t.Errorf("expected Error to log message, got %q", buf.String())
		}
	})

	t.Run("Success", func(t *testing.T) {
		buf.Reset()
		logger.Success("success message")
		if !strings.Contains(buf.String(), "success message") {
			t.Errorf("expected Success to log message, got %q", buf.String())
		}
	})

	t.Run("Warning", func(t *testing.T) {
		buf.Reset()
		logger.Warning("warning message")
		if !strings.Contains(buf.String(), "warning message") {
			t.Errorf("expected Warning to log message, got %q", buf.String())
		}
	})

	t.Run("Debug verbose enabled", func(t *testing.T) {
		buf.Reset()
		logger.SetVerbose(true)
		logger.Debug("debug message")
		if !strings.Contains(buf.String(), "debug message") {
			t.Errorf("expected Debug to log message in verbose mode, got %q", buf.String())
		}
	})

	t.Run("Debug verbose disabled", func(t *testing.T) {
		buf.Reset()
		logger.SetVerbose(false)
		logger.Debug("debug message")
		if buf.String() != "" {
			t.Errorf("expected Debug to not log message when verbose is disabled, got %q", buf.String())
		}
	})
}

func TestLoggerConstructors(t *testing.T) {
	t.Run("NewLogger", func(t *testing.T) {
		logger := NewLogger(true, true, true)
		if logger == nil {
			t.Error("expected NewLogger to return non-nil logger")
		}
		if !logger.verbose {
			t.Error("expected verbose to be true")
		}
		if !logger.useColor {
			t.Error("expected useColor to be true")
		}
		if !logger.jsonRPCMode {
			t.Error("expected jsonRPCMode to be true")
		}
	})

	t.Run("NewLoggerWithWriter", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewLoggerWithWriter(false, false, false, buf)
		if logger == nil {
			t.Error("expected NewLoggerWithWriter to return non-nil logger")
		}
		if logger.writer != buf {
			t.Error("expected writer to be set to provided buffer")
		}
	})
}

func TestSetWriter(t *testing.T) {
	buf1 := &bytes.Buffer{}
	buf2 := &bytes.Buffer{}

	logger := NewLoggerWithWriter(false, false, false, buf1)
	logger.Info("message1")

	if !strings.Contains(buf1.String(), "message1") {
		t.Error("expected message to be written to buf1")
	}

	buf1.Reset()
	logger.SetWriter(buf2)
	logger.Info("message2")

	if buf1.String() != "" {
		t.Error("expected buf1 to be empty after changing writer")
	}

	if !strings.Contains(buf2.String(), "message2") {
		t.Error("expected message to be written to buf2")
	}
}

func TestTracing(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		jsonRPCMode bool
		log         func(l *Logger)
		want        []string
		wantEmpty   bool
	}{
		{
			name:        "json-rpc mode prints method and payload",
			jsonRPCMode: true,
			log:         func(l *Logger) { l.Request("tools/call", map[string]string{"name": "echo"}) },
			want:        []string{"→ tools/call", `"name": "echo"`},
		},
		{
			name:        "raw payload is re-indented",
			jsonRPCMode: true,
			log:         func(l *Logger) { l.Response("tools/list", json.RawMessage(`{"tools":[]}`)) },
			want:        []string{"← tools/list", `"tools": []`},
		},
		{
			name:    "verbose mode prints method only",
			verbose: true,
			log:     func(l *Logger) { l.Request("ping", map[string]string{"secret": "x"}) },
			want:    []string{"→ ping"},
		},
		{
			name:      "quiet mode prints nothing",
			log:       func(l *Logger) { l.Request("tools/list", nil) },
			wantEmpty: true,
		},
		{
			name:        "keepalive notifications are hidden unless verbose",
			jsonRPCMode: true,
			log:         func(l *Logger) { l.Notification("notifications/ping", nil) },
			wantEmpty:   true,
		},
		{
			name:        "regular notification is shown",
			jsonRPCMode: true,
			log:         func(l *Logger) { l.Notification("notifications/tools/list_changed", nil) },
			want:        []string{"⇐ notifications/tools/list_changed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := NewLoggerWithWriter(tt.verbose, false, tt.jsonRPCMode, buf)
			tt.log(logger)

			output := buf.String()
			if tt.wantEmpty {
				if output != "" {
					t.Errorf("expected no output, got %q", output)
				}
				return
			}
			for _, w := range tt.want {
				if !strings.Contains(output, w) {
					t.Errorf("expected output to contain %q, got %q", w, output)
				}
			}
		})
	}

	t.Run("verbose does not leak payloads", func(t *testing.T) {
		buf := &bytes.Buffer{}
		NewLoggerWithWriter(true, false, false, buf).Request("ping", map[string]string{"secret": "x"})
		if strings.Contains(buf.String(), "secret") {
			t.Errorf("payload should only be printed in json-rpc mode, got %q", buf.String())
		}
	})
}

func TestColorOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	NewLoggerWithWriter(false, true, false, buf).Error("boom")
	if !strings.Contains(buf.String(), colorRed) {
		t.Errorf("expected red escape code, got %q", buf.String())
	}

	buf.Reset()
	NewLoggerWithWriter(false, false, false, buf).Error("boom")
	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("expected no escape codes, got %q", buf.String())
	}
}

func TestPrettyJSON(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{name: "nil", in: nil, want: "{}"},
		{name: "empty raw", in: json.RawMessage(nil), want: "{}"},
		{name: "invalid raw is returned as is", in: []byte("not json"), want: "not json"},
		{name: "struct", in: struct {
			A int `json:"a"`
		}{A: 1}, want: "{\n  \"a\": 1\n}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrettyJSON(tt.in); got != tt.want {
				t.Errorf("PrettyJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNilLoggerTracing(t *testing.T) {
	var logger *Logger
	logger.Request("ping", nil)
	logger.Response("ping", nil)
	logger.Notification("notifications/message", nil)
	logger.SetVerbose(true)
	logger.SetWriter(&bytes.Buffer{})
	if logger.Verbose() {
		t.Error("nil logger should never report verbose")
	}
}
