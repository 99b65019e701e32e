package session

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sammcj/toolbridge/mcpserver"
	"github.com/sammcj/toolbridge/types"
)

// Command describes the provider process of a stdio session
type Command struct {
	Path string
	Args []string
	// Env entries are appended to the current environment
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// ErrProviderExited is the cause reported once the provider process is gone
var ErrProviderExited = errors.New("provider process exited")

// MCPSession talks to a provider with the Model Context Protocol
type MCPSession struct {
	*guard
	client *client.Client
	name   string

	// lost is cancelled when the channel breaks
	lost       context.Context
	markBroken context.CancelCauseFunc

	// stop ends the provider process, stdio sessions only
	stop    context.CancelFunc
	drained chan struct{}
}

// ConnectStdio spawns the provider and wires an MCP client to its stdin and stdout.
// The provider stderr is copied to the log; its end marks the channel as broken.
func ConnectStdio(ctx context.Context, cmd Command, opts Options) (*MCPSession, error) {
	if cmd.Path == "" {
		return nil, errors.New("provider command is required")
	}
	opts = opts.withDefaults()

	// The process outlives ctx, it is stopped by Close
	procCtx, stop := context.WithCancel(context.WithoutCancel(ctx))

	t := transport.NewStdioWithOptions(cmd.Path, cmd.Env, cmd.Args)
	if err := t.Start(procCtx); err != nil {
		stop()
		return nil, &types.TransportError{Op: "connect", Err: err}
	}

	s := newMCPSession(client.NewClient(t), cmd.String(), opts)
	s.stop = stop

	if stderr := t.Stderr(); stderr != nil {
		s.drained = make(chan struct{})
		go s.drainStderr(stderr)
	}

	logger.ContextKV(ctx, xlog.INFO, "status", "connected", "transport", "stdio", "command", s.name)
	return s, nil
}

// ConnectInProcess connects to an MCP server running in the same process
func ConnectInProcess(ctx context.Context, srv *server.MCPServer, opts Options) (*MCPSession, error) {
	opts = opts.withDefaults()

	c, err := client.NewInProcessClient(srv)
	if err != nil {
		return nil, &types.TransportError{Op: "connect", Err: err}
	}
	if err := c.Start(ctx); err != nil {
		return nil, &types.TransportError{Op: "connect", Err: err}
	}

	logger.ContextKV(ctx, xlog.DEBUG, "status", "connected", "transport", "inprocess")
	return newMCPSession(c, "inprocess", opts), nil
}

func newMCPSession(c *client.Client, name string, opts Options) *MCPSession {
	lost, markBroken := context.WithCancelCause(context.Background())
	return &MCPSession{
		guard:      newGuard(opts),
		client:     c,
		name:       name,
		lost:       lost,
		markBroken: markBroken,
	}
}

// isDevelopmentModeWarning checks if a message is a development mode warning
func isDevelopmentModeWarning(msg string) bool {
	return strings.Contains(msg, "Running in development mode")
}

func (s *MCPSession) drainStderr(r io.Reader) {
	defer close(s.drained)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || isDevelopmentModeWarning(line) {
			continue
		}
		logger.KV(xlog.DEBUG, "provider", s.name, "stderr", line)
	}

	if !s.closed.Load() {
		logger.KV(xlog.WARNING, "reason", "provider_exited", "provider", s.name)
	}
	s.markBroken(ErrProviderExited)
}

// request derives the context of one request: bounded by the session timeout
// and cancelled when the channel breaks
func (s *MCPSession) request(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stopAfter := context.AfterFunc(s.lost, func() {
		cancel(context.Cause(s.lost))
	})
	tctx, tcancel := s.withTimeout(ctx)
	return tctx, func() {
		tcancel()
		stopAfter()
		cancel(context.Canceled)
	}
}

// broken returns the transport error for a channel known to be gone
func (s *MCPSession) broken(op string) error {
	if s.lost.Err() != nil {
		return &types.TransportError{Op: op, Err: context.Cause(s.lost)}
	}
	return nil
}

// Initialize performs the MCP handshake
func (s *MCPSession) Initialize(ctx context.Context) error {
	const op = "initialize"
	if err := s.broken(op); err != nil {
		return err
	}

	release, err := s.acquire(ctx, op, false)
	if err != nil {
		return err
	}
	defer release()

	if s.initialized.Load() {
		return nil
	}

	rctx, cancel := s.request(ctx)
	defer cancel()

	res, err := s.client.Initialize(rctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    s.opts.ClientName,
				Version: s.opts.ClientVersion,
			},
		},
	})
	if err != nil {
		if terr := timedOut(rctx, op); terr != nil {
			return terr
		}
		return &types.TransportError{Op: op, Err: err}
	}

	s.initialized.Store(true)
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "initialized",
		"server", res.ServerInfo.Name,
		"version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion)
	return nil
}

// ListTools asks the provider for its tools. Nothing is cached.
func (s *MCPSession) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	const op = "list_tools"
	release, err := s.acquire(ctx, op, true)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.broken(op); err != nil {
		return nil, err
	}

	rctx, cancel := s.request(ctx)
	defer cancel()

	res, err := s.client.ListTools(rctx, mcp.ListToolsRequest{})
	if err != nil {
		if terr := timedOut(rctx, op); terr != nil {
			return nil, terr
		}
		return nil, &types.TransportError{Op: op, Err: err}
	}

	list := make([]types.ToolDescriptor, 0, len(res.Tools))
	for _, t := range res.Tools {
		list = append(list, mcpserver.FromMCPTool(t))
	}
	return list, nil
}

// CallTool forwards one invocation to the provider
func (s *MCPSession) CallTool(ctx context.Context, req types.ToolCallRequest) (*types.ToolCallResult, error) {
	const op = "call_tool"
	release, err := s.acquire(ctx, op, true)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.broken(op); err != nil {
		return nil, err
	}
	if req.ParseError != nil {
		return nil, types.InvalidArguments(req.Name, "malformed arguments: %v", req.ParseError)
	}

	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}

	rctx, cancel := s.request(ctx)
	defer cancel()

	logger.ContextKV(ctx, xlog.DEBUG, "status", "calling", "tool", req.Name, "call_id", req.ID)

	res, err := s.client.CallTool(rctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      req.Name,
			Arguments: args,
			Meta:      mcp.NewMetaFromMap(map[string]any{mcpserver.MetaCallID: req.ID}),
		},
	})
	if err != nil {
		// only a failed request is blamed on the deadline or a broken channel
		if terr := timedOut(rctx, op); terr != nil {
			return nil, terr
		}
		return nil, callError(req.Name, op, err)
	}

	if id := mcpserver.CallID(res.Meta); id != "" && id != req.ID {
		return nil, &types.TransportError{
			Op:  op,
			Err: errors.Newf("result correlates to %q, expected %q", id, req.ID),
		}
	}

	if res.IsError {
		return nil, resultError(req.Name, res)
	}

	return &types.ToolCallResult{CallID: req.ID, Content: resultContent(res)}, nil
}

// callError maps a failed tools/call request to the error taxonomy
func callError(tool, op string, err error) error {
	var te *transport.Error
	switch {
	case errors.As(err, &te):
		return &types.TransportError{Op: op, Err: te.Err}
	case errors.Is(err, mcp.ErrInvalidParams) && strings.Contains(err.Error(), "not found"):
		return types.UnknownTool(tool)
	case errors.Is(err, mcp.ErrInvalidParams):
		return types.InvalidArguments(tool, "%s", err.Error())
	default:
		return types.ToolExecutionFailed(tool, err)
	}
}

// resultError rebuilds the provider error carried by an isError result
func resultError(tool string, res *mcp.CallToolResult) error {
	if m, ok := res.StructuredContent.(map[string]any); ok {
		code, _ := m["code"].(string)
		msg, _ := m["message"].(string)
		if code != "" {
			return types.ErrorFromCode(tool, code, msg)
		}
	}
	return types.ToolExecutionFailed(tool, errors.New(contentText(res)))
}

// resultContent prefers the structured result over the text rendering
func resultContent(res *mcp.CallToolResult) any {
	if m, ok := res.StructuredContent.(map[string]any); ok {
		if v, ok := m["result"]; ok {
			return v
		}
	}
	return contentText(res)
}

func contentText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Close tears the channel down and stops the provider process. It is idempotent.
func (s *MCPSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.close()
	})
	return err
}

func (s *MCPSession) close() error {
	done := make(chan error, 1)
	go func() {
		done <- s.client.Close()
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		logger.KV(xlog.WARNING, "reason", "close_timeout", "provider", s.name)
		if s.stop != nil {
			s.stop()
		}
		err = <-done
	}

	if s.stop != nil {
		s.stop()
	}
	if s.drained != nil {
		<-s.drained
	}
	s.markBroken(errors.New("session closed"))

	// a provider that already exited reports its status here
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		logger.KV(xlog.ERROR, "reason", "close", "provider", s.name, "err", err.Error())
		return errors.Wrap(err, "failed to close session")
	}

	logger.KV(xlog.DEBUG, "status", "closed", "provider", s.name)
	return nil
}
