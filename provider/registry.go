// provider/registry.go
package provider

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/sammcj/toolbridge/types"
)

var logger = xlog.NewPackageLogger("github.com/sammcj/toolbridge", "provider")

// Handler executes a tool with arguments that already passed schema validation
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named operation with a fixed input schema
type Tool struct {
	descriptor types.ToolDescriptor
	handler    Handler
}

// NewRawTool creates a tool from a hand-written descriptor
func NewRawTool(d types.ToolDescriptor, h Handler) (*Tool, error) {
	if d.Name == "" {
		return nil, errors.New("tool name is required")
	}
	if h == nil {
		return nil, errors.Newf("tool %s: handler is required", d.Name)
	}
	if d.InputSchema.Type == "" {
		d.InputSchema.Type = "object"
	}
	if d.InputSchema.Properties == nil {
		d.InputSchema.Properties = map[string]any{}
	}
	return &Tool{descriptor: d.Clone(), handler: h}, nil
}

// Descriptor returns a copy of the tool descriptor
func (t *Tool) Descriptor() types.ToolDescriptor {
	return t.descriptor.Clone()
}

// Tracker observes tool invocations while they run
type Tracker interface {
	Track(label string) uint64
	Done(id uint64)
}

// Option configures a Registry
type Option func(*Registry)

// WithTracker reports every invocation to the tracker
func WithTracker(t Tracker) Option {
	return func(r *Registry) {
		r.tracker = t
	}
}

// Registry is an in-process Tool Provider
type Registry struct {
	mu      sync.RWMutex
	order   []string
	tools   map[string]*Tool
	tracker Tracker
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools: make(map[string]*Tool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds tools to the registry. Tool names must be unique.
func (r *Registry) Register(tools ...*Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if t == nil {
			return errors.New("nil tool")
		}
		name := t.descriptor.Name
		if _, exists := r.tools[name]; exists {
			return errors.Newf("tool %s is already registered", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
		logger.KV(xlog.DEBUG, "status", "registered", "tool", name)
	}
	return nil
}

// ListTools returns the descriptors in registration order
func (r *Registry) ListTools(_ context.Context) ([]types.ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]types.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.tools[name].descriptor.Clone())
	}
	return list, nil
}

// Lookup returns the descriptor of a registered tool
func (r *Registry) Lookup(name string) (types.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return types.ToolDescriptor{}, false
	}
	return t.descriptor.Clone(), true
}

// CallTool validates the arguments and runs the tool once.
// The handler is not invoked when validation fails.
func (r *Registry) CallTool(ctx context.Context, req types.ToolCallRequest) (*types.ToolCallResult, error) {
	r.mu.RLock()
	t, ok := r.tools[req.Name]
	r.mu.RUnlock()
	if !ok {
		logger.ContextKV(ctx, xlog.WARNING, "reason", "unknown_tool", "tool", req.Name)
		return nil, types.UnknownTool(req.Name)
	}

	if req.ParseError != nil {
		return nil, types.InvalidArguments(req.Name, "malformed arguments: %v", req.ParseError)
	}

	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}

	if err := validateArguments(t.descriptor, args); err != nil {
		logger.ContextKV(ctx, xlog.WARNING, "reason", "invalid_arguments", "tool", req.Name, "err", err.Error())
		return nil, err
	}

	if r.tracker != nil {
		id := r.tracker.Track(req.Name)
		defer r.tracker.Done(id)
	}

	logger.ContextKV(ctx, xlog.DEBUG, "status", "calling", "tool", req.Name, "call_id", req.ID)

	value, err := t.handler(ctx, args)
	if err != nil {
		if errors.Is(err, types.ErrInvalidArguments) {
			return nil, err
		}
		logger.ContextKV(ctx, xlog.ERROR, "reason", "execution_failed", "tool", req.Name, "err", err.Error())
		return nil, types.ToolExecutionFailed(req.Name, err)
	}

	return &types.ToolCallResult{CallID: req.ID, Content: value}, nil
}
