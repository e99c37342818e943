package mcpregistry

import (
	"encoding/json"
	"fmt"

	"github.com/erauner12/toolbridge-mcp/internal/mcpjson"
)

// ErrCode categorizes registry errors for JSON-RPC translation, mirroring the
// teacher's internal/mcpserver/tools/errors.go ErrorCode taxonomy.
type ErrCode string

const (
	ErrCodeInvalidParams  ErrCode = "INVALID_PARAMS"
	ErrCodeNotFound       ErrCode = "NOT_FOUND"
	ErrCodeMethodNotFound ErrCode = "METHOD_NOT_FOUND"
	ErrCodeConflict       ErrCode = "CONFLICT"
	ErrCodeInternal       ErrCode = "INTERNAL_ERROR"
)

// Error is a structured error from registry lookups or handler execution.
type Error struct {
	Code    ErrCode        `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs a registry Error.
func NewError(code ErrCode, message string, data map[string]any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// ToJSONRPCError maps a registry Error onto the JSON-RPC error taxonomy (§7).
func (e *Error) ToJSONRPCError() (int, string, json.RawMessage) {
	var code int
	switch e.Code {
	case ErrCodeInvalidParams, ErrCodeNotFound:
		code = mcpjson.InvalidParams
	case ErrCodeMethodNotFound:
		code = mcpjson.MethodNotFound
	default:
		code = mcpjson.InternalError
	}

	var data json.RawMessage
	if e.Data != nil {
		data, _ = json.Marshal(e.Data)
	}
	return code, e.Message, data
}
