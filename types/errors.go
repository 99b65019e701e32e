// types/errors.go
package types

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidConfig indicates a configuration error
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownTool indicates the tool is not registered with the provider
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments indicates the arguments do not satisfy the tool schema
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrSchemaAdaptation indicates a tool schema cannot be represented for the model
	ErrSchemaAdaptation = errors.New("schema adaptation failed")

	// ErrTransport indicates the channel to the tool provider is broken
	ErrTransport = errors.New("transport error")

	// ErrSessionBusy indicates another request is in flight on the session
	ErrSessionBusy = errors.New("session busy")

	// ErrNotInitialized indicates the session handshake has not been performed
	ErrNotInitialized = errors.New("session not initialized")

	// ErrToolExecution indicates a tool call failed
	ErrToolExecution = errors.New("tool execution failed")

	// ErrModelTimeout indicates the model did not answer in time
	ErrModelTimeout = errors.New("model timeout")

	// ErrLLMResponse indicates an invalid LLM response
	ErrLLMResponse = errors.New("invalid LLM response")
)

// ConfigError wraps configuration-related errors
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ToolError reports a failure attributed to a single tool.
// Kind is one of ErrUnknownTool, ErrInvalidArguments or ErrToolExecution.
type ToolError struct {
	Kind    error
	Tool    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.Tool)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func (e *ToolError) Is(target error) bool {
	return target == e.Kind
}

// UnknownTool returns the error reported for an unregistered tool name
func UnknownTool(name string) error {
	return &ToolError{Kind: ErrUnknownTool, Tool: name}
}

// InvalidArguments returns the error reported for arguments rejected by the tool schema
func InvalidArguments(name, format string, args ...any) error {
	return &ToolError{Kind: ErrInvalidArguments, Tool: name, Message: fmt.Sprintf(format, args...)}
}

// ToolExecutionFailed returns the error reported when a tool call fails
func ToolExecutionFailed(name string, cause error) error {
	return &ToolError{Kind: ErrToolExecution, Tool: name, Err: cause}
}

// SchemaError reports a tool schema construct the model format cannot express
type SchemaError struct {
	Tool      string
	Construct string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%v: %s: unsupported construct %q", ErrSchemaAdaptation, e.Tool, e.Construct)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchemaAdaptation
}

// TransportError wraps failures of the channel to a tool provider
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport error during %s", e.Op)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// LLMError wraps LLM-related errors
type LLMError struct {
	Operation string
	Message   string
	Err       error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LLM error during %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("LLM error during %s: %s", e.Operation, e.Message)
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

func (e *LLMError) Is(target error) bool {
	return target == ErrLLMResponse
}

// ErrorCode returns the wire code used by tool providers for a tool error
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTool):
		return CodeUnknownTool
	case errors.Is(err, ErrInvalidArguments):
		return CodeInvalidArguments
	default:
		return CodeExecutionFailed
	}
}

// Wire codes for tool errors
const (
	CodeUnknownTool      = "unknown_tool"
	CodeInvalidArguments = "invalid_arguments"
	CodeExecutionFailed  = "execution_failed"
)

// ErrorFromCode rebuilds a tool error received from a provider
func ErrorFromCode(tool, code, message string) error {
	switch code {
	case CodeUnknownTool:
		return &ToolError{Kind: ErrUnknownTool, Tool: tool, Message: message}
	case CodeInvalidArguments:
		return &ToolError{Kind: ErrInvalidArguments, Tool: tool, Message: message}
	default:
		return &ToolError{Kind: ErrToolExecution, Tool: tool, Message: message}
	}
}
