package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/sammcj/toolbridge/types"
)

// Ollama talks to the Ollama /api/chat endpoint
type Ollama struct {
	endpoint   string
	model      string
	httpClient *http.Client
	opts       Options
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []Tool          `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

// NewOllama creates an Ollama backend
func NewOllama(opts Options) (*Ollama, error) {
	if opts.Model == "" {
		return nil, &types.ConfigError{Field: "llm.model", Message: "model is required for ollama"}
	}
	endpoint := opts.BaseURL
	if endpoint == "" {
		endpoint = OllamaDefaultURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Ollama{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      opts.Model,
		httpClient: httpClient,
		opts:       opts,
	}, nil
}

// Generate sends one chat request. Ollama has no tool_choice, so "none" omits
// the tools and a forced function keeps only that tool.
func (c *Ollama) Generate(ctx context.Context, req *Request) (*Response, error) {
	// Ollama rejects some characters in function names
	names := map[string]string{}
	var tools []Tool
	for _, t := range req.Tools {
		switch req.ToolChoice.Mode {
		case ToolChoiceNone:
			continue
		case ToolChoiceFunction:
			if t.Function.Name != req.ToolChoice.Name {
				continue
			}
		}
		sanitized := sanitizeToolName(t.Function.Name)
		names[sanitized] = t.Function.Name
		t.Function.Name = sanitized
		tools = append(tools, t)
	}

	body := ollamaRequest{
		Model:    c.model,
		Messages: c.convertMessages(req.Messages),
		Stream:   false,
		Tools:    tools,
	}
	if c.opts.Temperature != nil {
		body.Options = map[string]any{"temperature": *c.opts.Temperature}
	}

	resp, err := c.sendRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	out := &Response{Content: resp.Message.Content}
	for _, tc := range resp.Message.ToolCalls {
		name := tc.Function.Name
		if original, ok := names[name]; ok {
			name = original
		}
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCallRequest{
			ID:        "call_" + uuid.NewString(),
			Name:      name,
			Arguments: args,
		})
	}
	return out, nil
}

func (c *Ollama) convertMessages(messages []types.Message) []ollamaMessage {
	// tool messages carry the function name, found through the call id
	callNames := map[string]string{}

	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Name
			var call ollamaToolCall
			call.Function.Name = sanitizeToolName(tc.Name)
			call.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, call)
		}
		if m.Role == types.RoleTool {
			om.ToolName = sanitizeToolName(callNames[m.ToolCallID])
		}
		out = append(out, om)
	}
	return out
}

// sendRequest sends a request to the Ollama API
func (c *Ollama) sendRequest(ctx context.Context, req ollamaRequest) (*ollamaResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	endpoint := c.endpoint + "/api/chat"
	logger.ContextKV(ctx, xlog.DEBUG, "endpoint", endpoint, "model", c.model, "tools", len(req.Tools))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, modelError(ctx, "chat", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, modelError(ctx, "chat", errors.Wrap(err, "failed to read response body"))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &types.LLMError{
			Operation: "chat",
			Message:   "unexpected status code",
			Err:       errors.Newf("status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, &types.LLMError{Operation: "chat", Message: "failed to decode response", Err: err}
	}
	if ollamaResp.Error != "" {
		return nil, &types.LLMError{Operation: "chat", Message: ollamaResp.Error}
	}

	return &ollamaResp, nil
}

// sanitizeToolName converts a tool name to a format compatible with Ollama
func sanitizeToolName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return '_'
		}
		return r
	}, name)
}

var _ Model = (*Ollama)(nil)
