package mcpserver

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sammcj/toolbridge/provider"
	"github.com/sammcj/toolbridge/types"
)

var logger = xlog.NewPackageLogger("github.com/sammcj/toolbridge", "mcpserver")

const (
	// ServerName is advertised in the initialize handshake
	ServerName = "toolbridge"
	// ServerVersion is advertised in the initialize handshake
	ServerVersion = "1.0.0"

	// MetaCallID is the _meta key carrying the call correlation id
	MetaCallID = "callId"
)

// MCPServer exposes a tool registry over the Model Context Protocol
type MCPServer struct {
	server   *server.MCPServer
	registry *provider.Registry
	closers  []io.Closer
}

// New creates a server advertising every tool of the registry.
// The closers are released by Close.
func New(ctx context.Context, registry *provider.Registry, closers ...io.Closer) (*MCPServer, error) {
	s := &MCPServer{
		server: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(true),
			server.WithLogging(),
			server.WithRecovery(),
		),
		registry: registry,
		closers:  closers,
	}

	descriptors, err := registry.ListTools(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tools")
	}

	for _, d := range descriptors {
		s.server.AddTool(ToMCPTool(d), s.handleToolCall)
	}

	s.server.AddNotificationHandler("notifications/initialized", s.handleNotification)

	logger.KV(xlog.INFO, "status", "created", "tools", len(descriptors))
	return s, nil
}

// ToMCPTool converts a descriptor into its MCP form
func ToMCPTool(d types.ToolDescriptor) mcp.Tool {
	return mcp.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       d.InputSchema.Type,
			Properties: d.InputSchema.Properties,
			Required:   d.InputSchema.Required,
			Defs:       d.InputSchema.Defs,
		},
		Annotations: mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(true),
			DestructiveHint: mcp.ToBoolPtr(false),
			IdempotentHint:  mcp.ToBoolPtr(true),
			OpenWorldHint:   mcp.ToBoolPtr(false),
		},
	}
}

// FromMCPTool converts an advertised MCP tool into a descriptor
func FromMCPTool(t mcp.Tool) types.ToolDescriptor {
	d := types.ToolDescriptor{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: types.InputSchema{
			Type:       t.InputSchema.Type,
			Properties: t.InputSchema.Properties,
			Required:   t.InputSchema.Required,
			Defs:       t.InputSchema.Defs,
		},
	}
	if d.InputSchema.Type == "" {
		d.InputSchema.Type = "object"
	}
	return d.Clone()
}

// Server returns the underlying mcp-go server, for in-process clients
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

func (s *MCPServer) handleToolCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID := CallID(request.Params.Meta)
	if callID == "" {
		callID = uuid.NewString()
	}

	req := types.ToolCallRequest{
		ID:   callID,
		Name: request.Params.Name,
	}
	switch args := request.Params.Arguments.(type) {
	case nil:
		req.Arguments = map[string]any{}
	case map[string]any:
		req.Arguments = args
	default:
		req.ParseError = errors.Newf("arguments must be an object, got %T", args)
	}

	res, err := s.registry.CallTool(ctx, req)
	if err != nil {
		return ErrorResult(callID, err), nil
	}

	out := mcp.NewToolResultStructured(map[string]any{"result": res.Content}, res.Text())
	out.Meta = mcp.NewMetaFromMap(map[string]any{MetaCallID: callID})
	return out, nil
}

// ErrorResult reports a tool error as an isError result carrying its wire code
func ErrorResult(callID string, err error) *mcp.CallToolResult {
	out := mcp.NewToolResultError(err.Error())
	out.StructuredContent = map[string]any{
		"code":    types.ErrorCode(err),
		"message": err.Error(),
	}
	out.Meta = mcp.NewMetaFromMap(map[string]any{MetaCallID: callID})
	return out
}

// CallID returns the correlation id carried in request or result metadata
func CallID(meta *mcp.Meta) string {
	if meta == nil || meta.AdditionalFields == nil {
		return ""
	}
	id, _ := meta.AdditionalFields[MetaCallID].(string)
	return id
}

func (s *MCPServer) handleNotification(ctx context.Context, notification mcp.JSONRPCNotification) {
	logger.ContextKV(ctx, xlog.DEBUG, "notification", notification.Method)
}

// Serve runs the server on stdin and stdout until stdin is closed
func (s *MCPServer) Serve() error {
	logger.KV(xlog.INFO, "status", "serving", "transport", "stdio")

	err := server.ServeStdio(s.server, server.WithErrorLogger(log.New(os.Stderr, "mcpserver: ", log.LstdFlags)))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.KV(xlog.ERROR, "reason", "serve", "err", err.Error())
		return errors.Wrap(err, "server error")
	}

	logger.KV(xlog.INFO, "status", "stopped")
	return nil
}

// Listen serves the protocol on the given streams until ctx is done or in is closed
func (s *MCPServer) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.server)
	stdio.SetErrorLogger(log.New(os.Stderr, "mcpserver: ", log.LstdFlags))
	return stdio.Listen(ctx, in, out)
}

// Close releases the resources held by the tools
func (s *MCPServer) Close() error {
	var errs error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if errs != nil {
		logger.KV(xlog.ERROR, "reason", "close", "err", errs.Error())
		return errors.Wrap(errs, "failed to close server resources")
	}
	return nil
}
