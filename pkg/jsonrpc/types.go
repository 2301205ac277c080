// Package jsonrpc defines JSON-RPC 2.0 messages and decodes them from single
// lines of a newline-delimited stream.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Role identifies which variant a Message is.
type Role string

const (
	RoleRequest      Role = "request"
	RoleResponse     Role = "response"
	RoleNotification Role = "notification"
)

// Message is one of *Request, *Response or *Notification.
type Message interface {
	Role() Role
	isMessage()
}

// Request is a call that expects a response with the same ID.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a call without an ID; it never gets a response.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error for the request with the same ID.
// A nil ID is encoded as null, as required for errors on unidentifiable requests.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error object of a response.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func (*Request) Role() Role      { return RoleRequest }
func (*Notification) Role() Role { return RoleNotification }
func (*Response) Role() Role     { return RoleResponse }

func (*Request) isMessage()      {}
func (*Notification) isMessage() {}
func (*Response) isMessage()     {}

// NewRequest builds a request, encoding params as JSON.
func NewRequest(id ID, method string, params any) (*Request, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification, encoding params as JSON.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	return &Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a successful response for id.
func NewResult(id ID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error response. id may be nil.
func NewErrorResponse(id *ID, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// Encode serializes msg as a single wire line terminated by a newline.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Role(), err)
	}
	return append(data, '\n'), nil
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
