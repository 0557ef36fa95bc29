// Package mcp exposes the text index to MCP clients over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

// MCP error codes returned by fstext tools.
const (
	// ErrCodeIndexUnavailable indicates the index is closed or could not be opened.
	ErrCodeIndexUnavailable = -32001

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates a file is missing, unreadable, or outside the watch root.
	ErrCodeFileNotFound = -32004

	// ErrCodeFileTooLarge indicates a file exceeds the configured size cap.
	ErrCodeFileTooLarge = -32005

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrToolNotFound indicates the requested tool does not exist.
var ErrToolNotFound = errors.New("tool not found")

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	}

	if fe, ok := fserrors.As(err); ok {
		return mapFSError(fe)
	}

	return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// mapFSError converts a structured fstext error by code.
func mapFSError(fe *fserrors.Error) *MCPError {
	message := fe.Message
	if fe.Suggestion != "" {
		message = fmt.Sprintf("%s %s", fe.Message, fe.Suggestion)
	}

	switch fe.Code {
	case fserrors.ErrCodeIndexUnavailable, fserrors.ErrCodeIndexLocked, fserrors.ErrCodeCorruptIndex:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: message}
	case fserrors.ErrCodeNotFound, fserrors.ErrCodeReadFailure, fserrors.ErrCodeInvalidPath:
		return &MCPError{Code: ErrCodeFileNotFound, Message: message}
	case fserrors.ErrCodeFileTooLarge:
		return &MCPError{Code: ErrCodeFileTooLarge, Message: message}
	case fserrors.ErrCodeInvalidInput:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
