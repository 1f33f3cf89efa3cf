// Package mcp defines the Model Context Protocol wire types: the JSON-RPC 2.0
// envelope and every request, result and notification payload the client
// exchanges with a server.
package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the only JSON-RPC version spoken on the wire.
const JSONRPCVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ID is a JSON-RPC request identifier, either numeric or string.
type ID struct {
	Num   int64
	Str   string
	IsStr bool
}

// NewIntID returns a numeric identifier.
func NewIntID(n int64) ID { return ID{Num: n} }

// NewStringID returns a string identifier.
func NewStringID(s string) ID { return ID{Str: s, IsStr: true} }

// Int returns the numeric value of the identifier. String identifiers are
// accepted when they parse as integers.
func (id ID) Int() (int64, bool) {
	if !id.IsStr {
		return id.Num, true
	}
	n, err := strconv.ParseInt(id.Str, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (id ID) String() string {
	if id.IsStr {
		return id.Str
	}
	return strconv.FormatInt(id.Num, 10)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsStr {
		return json.Marshal(id.Str)
	}
	return []byte(strconv.FormatInt(id.Num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NewStringID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid JSON-RPC id %s: %w", data, err)
	}
	*id = NewIntID(n)
	return nil
}

// Request is an outgoing or incoming JSON-RPC request. A request without an
// ID is a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a JSON-RPC request without an identifier.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response carrying either a result or an error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object. It is also returned as a Go error when a
// server answers a request with an error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError builds an error object.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// Kind classifies an inbound message.
type Kind int

const (
	KindInvalid Kind = iota
	KindResponse
	KindRequest
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// ErrInvalidMessage is returned by Decode for messages that are neither a
// response, a request nor a notification.
var ErrInvalidMessage = errors.New("invalid JSON-RPC message")

// Message is a decoded inbound message of any kind.
type Message struct {
	Kind   Kind
	ID     *ID
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *Error
}

type rawMessage struct {
	ID     *ID             `json:"id"`
	Method *string         `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Decode parses and classifies an inbound message: an id with a result or
// error and no method is a response, an id with a method is a server
// request, and a method without an id is a notification.
func Decode(data []byte) (*Message, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	msg := &Message{ID: raw.ID, Params: raw.Params, Result: raw.Result}
	if raw.Method != nil {
		msg.Method = *raw.Method
	}

	hasID := raw.ID != nil
	hasMethod := raw.Method != nil
	hasError := len(raw.Error) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Error), []byte("null"))
	hasResult := raw.Result != nil

	switch {
	case hasID && (hasResult || hasError) && !hasMethod:
		msg.Kind = KindResponse
		if hasError {
			var e Error
			if err := json.Unmarshal(raw.Error, &e); err != nil {
				e = Error{Code: CodeInternalError, Message: fmt.Sprintf("unparseable error object: %s", raw.Error)}
			}
			msg.Error = &e
		}
	case hasID && hasMethod:
		msg.Kind = KindRequest
	case hasMethod:
		msg.Kind = KindNotification
	default:
		return nil, ErrInvalidMessage
	}
	return msg, nil
}

// Classify returns the kind of a raw message without keeping its payload.
func Classify(data []byte) Kind {
	msg, err := Decode(data)
	if err != nil {
		return KindInvalid
	}
	return msg.Kind
}
