package protocol

import (
	"context"
	"encoding/json"

	"github.com/giantswarm/mcp-client/internal/mcp"
)

// SamplingHandler serves sampling/createMessage.
type SamplingHandler interface {
	CreateMessage(ctx context.Context, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error)
}

// SamplingHandlerFunc adapts a function to SamplingHandler.
type SamplingHandlerFunc func(ctx context.Context, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error)

// CreateMessage implements SamplingHandler.
func (f SamplingHandlerFunc) CreateMessage(ctx context.Context, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error) {
	return f(ctx, params)
}

// ElicitationHandler serves elicitation/create.
type ElicitationHandler interface {
	Elicit(ctx context.Context, params *mcp.ElicitParams) (*mcp.ElicitResult, error)
}

// ElicitationHandlerFunc adapts a function to ElicitationHandler.
type ElicitationHandlerFunc func(ctx context.Context, params *mcp.ElicitParams) (*mcp.ElicitResult, error)

// Elicit implements ElicitationHandler.
func (f ElicitationHandlerFunc) Elicit(ctx context.Context, params *mcp.ElicitParams) (*mcp.ElicitResult, error) {
	return f(ctx, params)
}

// RegisterSamplingHandler answers sampling requests with h. Undecodable
// params are answered with invalid params, handler failures with an
// internal error.
func (s *Session) RegisterSamplingHandler(h SamplingHandler) {
	s.client.OnServerRequest(mcp.MethodSamplingCreateMessage, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var params mcp.CreateMessageParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		result, err := h.CreateMessage(ctx, &params)
		if err != nil {
			return nil, handlerError(err)
		}
		return result, nil
	})
}

// RegisterElicitationHandler answers elicitation requests with h.
func (s *Session) RegisterElicitationHandler(h ElicitationHandler) {
	s.client.OnServerRequest(mcp.MethodElicitationCreate, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var params mcp.ElicitParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		result, err := h.Elicit(ctx, &params)
		if err != nil {
			return nil, handlerError(err)
		}
		return result, nil
	})
}

// RegisterRootsHandler answers roots/list with the roots returned by fn.
func (s *Session) RegisterRootsHandler(fn func(ctx context.Context) ([]mcp.Root, error)) {
	s.client.OnServerRequest(mcp.MethodRootsList, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		roots, err := fn(ctx)
		if err != nil {
			return nil, handlerError(err)
		}
		if roots == nil {
			roots = []mcp.Root{}
		}
		return mcp.ListRootsResult{Roots: roots}, nil
	})
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return mcp.NewError(mcp.CodeInvalidParams, "Invalid params: "+err.Error())
	}
	return nil
}

func handlerError(err error) error {
	if rpcErr, ok := err.(*mcp.Error); ok {
		return rpcErr
	}
	return mcp.NewError(mcp.CodeInternalError, err.Error())
}
