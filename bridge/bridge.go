package bridge

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/sammcj/toolbridge/adapter"
	"github.com/sammcj/toolbridge/llm"
	"github.com/sammcj/toolbridge/types"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/sammcj/toolbridge", "bridge")

// ToolInvoker discovers and executes tools. Sessions and the in-process
// registry both satisfy it.
type ToolInvoker interface {
	ListTools(ctx context.Context) ([]types.ToolDescriptor, error)
	CallTool(ctx context.Context, req types.ToolCallRequest) (*types.ToolCallResult, error)
}

// State is a step of the per-query state machine
type State string

const (
	StateAwaitingModel      State = "awaiting_model"
	StateToolsRequested     State = "tools_requested"
	StateToolsExecuted      State = "tools_executed"
	StateAwaitingFinalModel State = "awaiting_final_model"
	StateDone               State = "done"
)

// Options configure the Bridge
type Options struct {
	// ModelTimeout bounds each model call, 0 means no bound
	ModelTimeout time.Duration
	// Parallel executes the tool calls of one response concurrently
	Parallel bool
	// SystemPrompt is prepended to every conversation when set
	SystemPrompt string
}

// Result is the outcome of one query
type Result struct {
	Answer   string
	Messages []types.Message
	// ModelCalls is 1 or 2
	ModelCalls int
	ToolCalls  int
}

// Bridge drives a query through at most two model calls with tool
// execution in between
type Bridge struct {
	model   llm.Model
	invoker ToolInvoker
	opts    Options
}

// New creates a new Bridge instance
func New(model llm.Model, invoker ToolInvoker, opts Options) (*Bridge, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	if invoker == nil {
		return nil, errors.New("tool invoker is required")
	}
	return &Bridge{
		model:   model,
		invoker: invoker,
		opts:    opts,
	}, nil
}

// ProcessQuery answers a query. A failure of any tool call aborts the
// query before the second model call.
func (b *Bridge) ProcessQuery(ctx context.Context, query string) (*Result, error) {
	descriptors, err := b.invoker.ListTools(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list tools")
	}
	tools, err := adapter.AdaptAll(descriptors)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if b.opts.SystemPrompt != "" {
		res.Messages = append(res.Messages, types.SystemMessage(b.opts.SystemPrompt))
	}
	res.Messages = append(res.Messages, types.UserMessage(query))

	b.transition(ctx, StateAwaitingModel, "tools", len(tools))
	resp, err := b.generate(ctx, res, tools, llm.Auto())
	if err != nil {
		return nil, err
	}
	if !resp.HasToolCalls() {
		res.Answer = resp.Content
		b.transition(ctx, StateDone, "model_calls", res.ModelCalls)
		return res, nil
	}

	calls := withCallIDs(resp.ToolCalls)
	res.Messages = append(res.Messages, types.AssistantMessage(resp.Content, calls...))
	b.transition(ctx, StateToolsRequested, "tool_calls", len(calls))

	results, err := b.executeTools(ctx, calls)
	if err != nil {
		return nil, err
	}
	res.ToolCalls = len(results)
	for _, r := range results {
		res.Messages = append(res.Messages, types.ToolMessage(r))
	}
	b.transition(ctx, StateToolsExecuted, "results", len(results))

	b.transition(ctx, StateAwaitingFinalModel)
	final, err := b.generate(ctx, res, tools, llm.None())
	if err != nil {
		return nil, err
	}
	if final.HasToolCalls() {
		names := make([]string, 0, len(final.ToolCalls))
		for _, c := range final.ToolCalls {
			names = append(names, c.Name)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"reason", "tool_calls_ignored",
			"tools", names)
	}

	res.Answer = final.Content
	res.Messages = append(res.Messages, types.AssistantMessage(final.Content))
	b.transition(ctx, StateDone, "model_calls", res.ModelCalls)
	return res, nil
}

func (b *Bridge) generate(ctx context.Context, res *Result, tools []llm.Tool, choice llm.ToolChoice) (*llm.Response, error) {
	if b.opts.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.ModelTimeout)
		defer cancel()
	}

	res.ModelCalls++
	resp, err := b.model.Generate(ctx, &llm.Request{
		Messages:   append([]types.Message(nil), res.Messages...),
		Tools:      tools,
		ToolChoice: choice,
	})
	if err != nil {
		if !errors.Is(err, types.ErrModelTimeout) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = errors.Mark(err, types.ErrModelTimeout)
		}
		return nil, errors.Wrapf(err, "model call %d", res.ModelCalls)
	}
	if resp == nil {
		return nil, &types.LLMError{Operation: "generate", Message: "empty response"}
	}
	return resp, nil
}

// executeTools returns one result per call, in the order of calls
func (b *Bridge) executeTools(ctx context.Context, calls []types.ToolCallRequest) ([]types.ToolCallResult, error) {
	results := make([]types.ToolCallResult, len(calls))

	if !b.opts.Parallel || len(calls) == 1 {
		for i, call := range calls {
			r, err := b.callTool(ctx, call)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			r, err := b.callTool(gctx, call)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *Bridge) callTool(ctx context.Context, call types.ToolCallRequest) (types.ToolCallResult, error) {
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "calling_tool",
		"tool", call.Name,
		"call_id", call.ID)

	r, err := b.invoker.CallTool(ctx, call)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "tool_call_failed",
			"tool", call.Name,
			"call_id", call.ID,
			"err", err.Error())
		var te *types.ToolError
		if errors.As(err, &te) && te.Kind == types.ErrToolExecution {
			return types.ToolCallResult{}, err
		}
		return types.ToolCallResult{}, types.ToolExecutionFailed(call.Name, err)
	}
	if r == nil {
		return types.ToolCallResult{}, types.ToolExecutionFailed(call.Name, errors.New("empty result"))
	}

	// the tool message must answer the id the model used
	return types.ToolCallResult{CallID: call.ID, Content: r.Content}, nil
}

func (b *Bridge) transition(ctx context.Context, state State, kv ...any) {
	logger.ContextKV(ctx, xlog.DEBUG, append([]any{"state", string(state)}, kv...)...)
}

// withCallIDs assigns ids to calls the model left without one
func withCallIDs(calls []types.ToolCallRequest) []types.ToolCallRequest {
	out := make([]types.ToolCallRequest, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		out[i] = c
	}
	return out
}
