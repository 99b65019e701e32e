// types/types.go
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// InputSchema is the JSON-schema-like description of the arguments a tool accepts
type InputSchema struct {
	Type       string         `json:"type" yaml:"type"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required   []string       `json:"required,omitempty" yaml:"required,omitempty"`
	// Defs holds shared definitions some providers advertise; models cannot resolve them
	Defs map[string]any `json:"$defs,omitempty" yaml:"$defs,omitempty"`
}

// ToolDescriptor advertises a callable operation of a tool provider
type ToolDescriptor struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	InputSchema InputSchema `json:"input_schema" yaml:"input_schema"`
}

// Clone returns a deep copy of the descriptor
func (d ToolDescriptor) Clone() ToolDescriptor {
	c := ToolDescriptor{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: InputSchema{
			Type: d.InputSchema.Type,
		},
	}
	if d.InputSchema.Properties != nil {
		c.InputSchema.Properties = deepCopyMap(d.InputSchema.Properties)
	}
	if d.InputSchema.Required != nil {
		c.InputSchema.Required = append([]string{}, d.InputSchema.Required...)
	}
	if d.InputSchema.Defs != nil {
		c.InputSchema.Defs = deepCopyMap(d.InputSchema.Defs)
	}
	return c
}

// ToolCallRequest is a single tool invocation requested by the model
type ToolCallRequest struct {
	// ID correlates the request with its result
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	// RawArguments holds the arguments as the model produced them, if it used JSON text
	RawArguments string `json:"raw_arguments,omitempty"`
	// ParseError is set when RawArguments could not be decoded
	ParseError error `json:"-"`
}

// NewToolCallRequest decodes raw JSON arguments into a request.
// A decode failure is kept on the request and reported when it is dispatched.
func NewToolCallRequest(id, name, rawArguments string) ToolCallRequest {
	req := ToolCallRequest{
		ID:           id,
		Name:         name,
		RawArguments: rawArguments,
	}
	if rawArguments == "" {
		req.Arguments = map[string]any{}
		return req
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArguments), &args); err != nil {
		req.ParseError = err
		return req
	}
	if args == nil {
		args = map[string]any{}
	}
	req.Arguments = args
	return req
}

// ArgumentsJSON returns the arguments as JSON text
func (r ToolCallRequest) ArgumentsJSON() string {
	if r.RawArguments != "" {
		return r.RawArguments
	}
	args := r.Arguments
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ToolCallResult is the outcome of a tool invocation
type ToolCallResult struct {
	CallID  string `json:"call_id"`
	Content any    `json:"content"`
}

// Text renders the content for a tool message
func (r ToolCallResult) Text() string {
	switch v := r.Content.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	b, err := json.Marshal(r.Content)
	if err != nil {
		return fmt.Sprintf("%v", r.Content)
	}
	return string(b)
}

// Role identifies the author of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a message in the conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// ToolCalls is only set on assistant messages
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
	// ToolCallID is only set on tool messages
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// SystemMessage creates a system message
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message, optionally carrying tool calls
func AssistantMessage(content string, calls ...ToolCallRequest) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage creates the tool message carrying a result back to the model
func ToolMessage(result ToolCallResult) Message {
	return Message{Role: RoleTool, Content: result.Text(), ToolCallID: result.CallID}
}

func deepCopyMap(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = deepCopyValue(v)
	}
	return c
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		c := make([]any, len(t))
		for i, item := range t {
			c[i] = deepCopyValue(item)
		}
		return c
	case []string:
		return append([]string{}, t...)
	default:
		return v
	}
}
