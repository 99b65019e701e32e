package llm

import (
	"context"

	"github.com/effective-security/xlog"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/sammcj/toolbridge/types"
)

// OpenAI is a chat completions backend. It serves Groq and any
// OpenAI-compatible endpoint through BaseURL.
type OpenAI struct {
	client openai.Client
	model  string
	opts   Options
}

// NewOpenAI creates an OpenAI-compatible backend
func NewOpenAI(opts Options) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, &types.ConfigError{Field: "llm.api_key", Message: "API key is required"}
	}
	if opts.Model == "" {
		opts.Model = OpenAIDefaultModel
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		sdkOpts = append(sdkOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &OpenAI{
		client: openai.NewClient(sdkOpts...),
		model:  opts.Model,
		opts:   opts,
	}, nil
}

// Generate sends one chat completion request
func (m *OpenAI) Generate(ctx context.Context, req *Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    m.model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if m.opts.Temperature != nil {
		params.Temperature = openai.Float(*m.opts.Temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
		params.ToolChoice = toOpenAIToolChoice(req.ToolChoice)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"model", m.model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"tool_choice", string(req.ToolChoice.Mode))

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, modelError(ctx, "chat_completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &types.LLMError{Operation: "chat_completion", Message: "response has no choices"}
	}

	msg := resp.Choices[0].Message
	out := &Response{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			logger.ContextKV(ctx, xlog.WARNING, "reason", "unsupported_tool_call", "type", tc.Type)
			continue
		}
		out.ToolCalls = append(out.ToolCalls, types.NewToolCallRequest(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	return out, nil
}

func toOpenAIToolChoice(choice ToolChoice) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch choice.Mode {
	case ToolChoiceNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	case ToolChoiceFunction:
		return openai.ToolChoiceOptionFunctionToolChoice(openai.ChatCompletionNamedToolChoiceFunctionParam{
			Name: choice.Name,
		})
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}
}

func toOpenAITools(tools []Tool) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Function.Name,
			Description: openai.String(t.Function.Description),
			Parameters:  shared.FunctionParameters(t.Function.Parameters),
		}))
	}
	return out
}

func toOpenAIMessages(messages []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case types.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case types.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case types.RoleAssistant:
			p := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				p.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)}
			}
			for _, tc := range m.ToolCalls {
				p.ToolCalls = append(p.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.ArgumentsJSON(),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &p})
		default:
			logger.KV(xlog.WARNING, "reason", "unknown_role", "role", string(m.Role))
		}
	}
	return out
}

var _ Model = (*OpenAI)(nil)
