// Package jsonrpcx implements the JSON-RPC 2.0 envelope used by the admin API.
// Every response is HTTP 200; failures travel in the error member.
package jsonrpcx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Notification is a server-initiated message without an id, pushed over SSE.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds a 2.0 notification.
func NewNotification(method string, params any) Notification {
	return Notification{JSONRPC: "2.0", Method: method, Params: params}
}

// RequestT documents a request with typed params.
type RequestT[T any] struct {
	JSONRPC string `json:"jsonrpc" example:"2.0"`
	Method  string `json:"method"`
	Params  T      `json:"params"`
	ID      any    `json:"id"`
}

// ResponseT documents a successful response with a typed result.
type ResponseT[T any] struct {
	JSONRPC string `json:"jsonrpc" example:"2.0"`
	Result  T      `json:"result"`
	ID      any    `json:"id"`
}

// ErrorResponse documents a failed response.
type ErrorResponse struct {
	JSONRPC string       `json:"jsonrpc" example:"2.0"`
	Error   JSONRPCError `json:"error"`
	ID      any          `json:"id"`
}

// JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// Server-defined codes
	Unauthorized = -32001
	NotFound     = -32004
	Conflict     = -32009
	RateLimited  = -32029
)

var errVersion = errors.New(`jsonrpc must be "2.0"`)

// ParseRequest parses JSON-RPC 2.0 request from HTTP request body
func ParseRequest(r *http.Request) (*JSONRPCRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	if req.JSONRPC != "2.0" {
		return nil, errVersion
	}

	return &req, nil
}

// Success sends a successful JSON-RPC 2.0 response
func Success(w http.ResponseWriter, id any, result any) {
	Write(w, JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	})
}

// Failure builds an error response.
func Failure(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

type errorSlotKey struct{}

// ErrorSlot carries an error response from a handler back to the middleware
// that writes it.
type ErrorSlot struct {
	Response *JSONRPCResponse
}

// WithErrorSlot installs an empty slot in the request context.
func WithErrorSlot(r *http.Request) (*http.Request, *ErrorSlot) {
	slot := &ErrorSlot{}
	return r.WithContext(context.WithValue(r.Context(), errorSlotKey{}, slot)), slot
}

// WithError records an error response for the error middleware to send.
// Without an installed slot the response cannot be delivered by middleware,
// so the caller must have wrapped the handler with it.
func WithError(r *http.Request, id any, code int, message string) {
	response := Failure(id, code, message)
	if slot, ok := r.Context().Value(errorSlotKey{}).(*ErrorSlot); ok {
		slot.Response = &response
	}
}

// ErrorAdapter interface for middleware to send error responses
type ErrorAdapter interface {
	SendError(w http.ResponseWriter, id any, code int, message string)
}

type errorAdapter struct{}

// NewErrorAdapter creates a new error adapter for middleware use
func NewErrorAdapter() ErrorAdapter {
	return &errorAdapter{}
}

// SendError sends an error JSON-RPC 2.0 response
func (ea *errorAdapter) SendError(w http.ResponseWriter, id any, code int, message string) {
	Write(w, Failure(id, code, message))
}

// Write sends a JSON-RPC 2.0 response (always HTTP 200)
func Write(w http.ResponseWriter, response JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(response)
}
