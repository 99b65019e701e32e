// llm/llm.go
package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/sammcj/toolbridge/types"
)

var logger = xlog.NewPackageLogger("github.com/sammcj/toolbridge", "llm")

// Model answers a conversation with text or with tool calls
type Model interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Tool is a function schema in the format chat models expect
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoiceMode controls whether the model may request tools
type ToolChoiceMode string

const (
	// ToolChoiceAuto lets the model decide
	ToolChoiceAuto ToolChoiceMode = "auto"
	// ToolChoiceNone forbids tool calls
	ToolChoiceNone ToolChoiceMode = "none"
	// ToolChoiceFunction forces the named function
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice is the tool_choice of a request
type ToolChoice struct {
	Mode ToolChoiceMode
	// Name is the forced function, with ToolChoiceFunction only
	Name string
}

// Auto returns the tool choice letting the model decide
func Auto() ToolChoice { return ToolChoice{Mode: ToolChoiceAuto} }

// None returns the tool choice forbidding tool calls
func None() ToolChoice { return ToolChoice{Mode: ToolChoiceNone} }

// Force returns the tool choice forcing the named function
func Force(name string) ToolChoice { return ToolChoice{Mode: ToolChoiceFunction, Name: name} }

// Request is one model call
type Request struct {
	Messages   []types.Message
	Tools      []Tool
	ToolChoice ToolChoice
}

// Response is either text or a non-empty list of tool calls
type Response struct {
	Content   string
	ToolCalls []types.ToolCallRequest
}

// HasToolCalls reports whether the model requested tools
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Provider names accepted by New
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderOllama = "ollama"
)

// Default endpoints and models
const (
	GroqBaseURL        = "https://api.groq.com/openai/v1"
	GroqDefaultModel   = "llama-3.3-70b-versatile"
	OpenAIDefaultModel = "gpt-4o-mini"
	OllamaDefaultURL   = "http://localhost:11434"
)

// Options configure a model backend
type Options struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	Temperature *float64
	// HTTPClient overrides the default client, mostly for tests
	HTTPClient *http.Client
}

// New creates the model backend named by opts.Provider
func New(opts Options) (Model, error) {
	switch opts.Provider {
	case ProviderGroq:
		if opts.BaseURL == "" {
			opts.BaseURL = GroqBaseURL
		}
		if opts.Model == "" {
			opts.Model = GroqDefaultModel
		}
		return NewOpenAI(opts)
	case ProviderOpenAI, "":
		if opts.Model == "" {
			opts.Model = OpenAIDefaultModel
		}
		return NewOpenAI(opts)
	case ProviderOllama:
		return NewOllama(opts)
	default:
		return nil, errors.Newf("unsupported LLM provider: %s", opts.Provider)
	}
}

// modelError maps a failed model call to the error taxonomy
func modelError(ctx context.Context, operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Mark(errors.Wrapf(err, "%s", operation), types.ErrModelTimeout)
	}
	return &types.LLMError{Operation: operation, Message: "request failed", Err: err}
}
