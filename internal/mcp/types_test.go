package mcp

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func roundTrip(t *testing.T, in interface{}, out interface{}) {
	t.Helper()
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
}

func TestRoundTrip(t *testing.T) {
	ttl := int64(60000)
	readOnly := true

	t.Run("initialize result", func(t *testing.T) {
		in := InitializeResult{
			ProtocolVersion: LatestProtocolVersion,
			Capabilities: ServerCapabilities{
				Logging:   &Empty{},
				Tools:     &ToolsCapability{ListChanged: true},
				Resources: &ResourcesCapability{Subscribe: true},
				Tasks:     &TasksCapability{List: &Empty{}, Cancel: &Empty{}},
			},
			ServerInfo:   Implementation{Name: "srv", Version: "1.0.0"},
			Instructions: "be nice",
		}
		var out InitializeResult
		roundTrip(t, in, &out)
		if !reflect.DeepEqual(in, out) {
			t.Errorf("got %+v, want %+v", out, in)
		}
	})

	t.Run("tool with annotations", func(t *testing.T) {
		in := Tool{
			Name:        "echo",
			Description: "Echo input",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Annotations: &ToolAnnotations{ReadOnlyHint: &readOnly},
			Execution:   &ToolExecution{TaskSupport: TaskSupportOptional},
		}
		var out Tool
		roundTrip(t, in, &out)
		if !reflect.DeepEqual(in, out) {
			t.Errorf("got %+v, want %+v", out, in)
		}
	})

	t.Run("call tool params with task", func(t *testing.T) {
		in := CallToolParams{
			Name:      "echo",
			Arguments: map[string]interface{}{"text": "hi"},
			Task:      &TaskParams{TTL: &ttl},
		}
		var out CallToolParams
		roundTrip(t, in, &out)
		if !reflect.DeepEqual(in, out) {
			t.Errorf("got %+v, want %+v", out, in)
		}
	})

	t.Run("content variants", func(t *testing.T) {
		in := CallToolResult{Content: []Content{
			TextContent("hi"),
			TextContent(""),
			ImageContent("aGk=", "image/png"),
			AudioContent("aGk=", "audio/wav"),
			EmbeddedResource(ResourceContents{URI: "file:///a", Text: "body"}),
			EmbeddedResource(ResourceContents{URI: "file:///b", MIMEType: "application/octet-stream", Blob: "AAE="}),
		}}
		var out CallToolResult
		roundTrip(t, in, &out)
		if !reflect.DeepEqual(in, out) {
			t.Errorf("got %+v, want %+v", out, in)
		}
	})

	t.Run("task", func(t *testing.T) {
		in := Task{TaskID: "t1", Status: TaskInputRequired, TTL: &ttl, CreatedAt: "2025-11-25T00:00:00Z"}
		var out Task
		roundTrip(t, in, &out)
		if !reflect.DeepEqual(in, out) {
			t.Errorf("got %+v, want %+v", out, in)
		}
	})

	t.Run("sampling request", func(t *testing.T) {
		temp := 0.5
		in := CreateMessageParams{
			Messages:   []PromptMessage{{Role: RoleUser, Content: TextContent("hello")}},
			MaxTokens:  100,
			ToolChoice: &ToolChoice{Mode: ToolChoiceRequired},
			ModelPreferences: &ModelPreferences{
				Hints: []ModelHint{{Name: "claude"}},
			},
			Temperature: &temp,
		}
		var out CreateMessageParams
		roundTrip(t, in, &out)
		if !reflect.DeepEqual(in, out) {
			t.Errorf("got %+v, want %+v", out, in)
		}
	})

	t.Run("cancelled with string id", func(t *testing.T) {
		in := CancelledParams{RequestID: NewStringID("abc"), Reason: "user"}
		var out CancelledParams
		roundTrip(t, in, &out)
		if !reflect.DeepEqual(in, out) {
			t.Errorf("got %+v, want %+v", out, in)
		}
	})
}

func TestOptionalFieldsOmitted(t *testing.T) {
	data, err := json.Marshal(InitializeResult{ProtocolVersion: LatestProtocolVersion})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, absent := range []string{"null", "instructions", "_meta", "tools"} {
		if strings.Contains(s, absent) {
			t.Errorf("expected %q to be omitted from %s", absent, s)
		}
	}
}

func TestEnumCasing(t *testing.T) {
	tests := []struct {
		value interface{}
		want  string
	}{
		{TaskInputRequired, `"input_required"`},
		{TaskCancelled, `"cancelled"`},
		{TaskSupportForbidden, `"forbidden"`},
		{RoleAssistant, `"assistant"`},
		{ToolChoiceNone, `"none"`},
		{ElicitationURL, `"url"`},
		{ElicitationDecline, `"decline"`},
		{LevelEmergency, `"emergency"`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.value)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != tt.want {
			t.Errorf("marshal(%v) = %s, want %s", tt.value, data, tt.want)
		}
	}
}

func TestLoggingLevelOrder(t *testing.T) {
	order := []LoggingLevel{LevelDebug, LevelInfo, LevelNotice, LevelWarning, LevelError, LevelCritical, LevelAlert, LevelEmergency}
	for i := 1; i < len(order); i++ {
		if order[i-1].Severity() >= order[i].Severity() {
			t.Errorf("%s should be less severe than %s", order[i-1], order[i])
		}
	}
	if LoggingLevel("verbose").Valid() {
		t.Error("unknown level reported valid")
	}
}

func TestContentRejectsUnknownType(t *testing.T) {
	var c Content
	if err := json.Unmarshal([]byte(`{"type":"video","data":"x"}`), &c); err == nil {
		t.Error("expected error for unknown content type")
	}
	if _, err := json.Marshal(Content{Type: "video"}); err == nil {
		t.Error("expected marshal error for unknown content type")
	}
}

func TestResourceContentsRequiresPayload(t *testing.T) {
	var r ResourceContents
	if err := json.Unmarshal([]byte(`{"uri":"file:///x"}`), &r); err == nil {
		t.Error("expected error for contents without text or blob")
	}
	if err := json.Unmarshal([]byte(`{"uri":"file:///x","text":""}`), &r); err != nil {
		t.Errorf("empty text should be accepted: %v", err)
	}
}

func TestProtocolVersions(t *testing.T) {
	if !IsSupportedProtocolVersion("2025-03-26") {
		t.Error("2025-03-26 should be supported")
	}
	if IsSupportedProtocolVersion("1999-01-01") {
		t.Error("unknown version should not be supported")
	}
	if SupportedProtocolVersions[0] != LatestProtocolVersion {
		t.Error("latest version should come first")
	}
}
