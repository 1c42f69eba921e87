package mcp

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// JSON-RPC 2.0 framing for the MCP stdio transport.

// JSONRPCVersion is the JSON-RPC version used by MCP.
const JSONRPCVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification (no ID, no response).
type Notification struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// IsError reports whether the response carries an error object.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// NewRequest builds a JSON-RPC request.
func NewRequest(id any, method string, params map[string]any) *Request {
	return &Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
}

// NewNotification builds a JSON-RPC notification.
func NewNotification(method string, params map[string]any) *Notification {
	return &Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

// UnmarshalResponse parses and validates a JSON-RPC response line.
func UnmarshalResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "failed to parse JSON-RPC response", Data: err.Error()}
	}
	if resp.JSONRPC != JSONRPCVersion {
		return nil, &RPCError{Code: InvalidRequest, Message: fmt.Sprintf("invalid JSON-RPC version: %s", resp.JSONRPC)}
	}
	return &resp, nil
}

// RequestIDGenerator produces unique request IDs for one connection.
type RequestIDGenerator struct {
	counter atomic.Int64
}

// Next returns the next request ID.
func (g *RequestIDGenerator) Next() string {
	return fmt.Sprintf("%d", g.counter.Add(1))
}
