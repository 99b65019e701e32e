package mcpserver_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/toolbridge/mcpserver"
	"github.com/sammcj/toolbridge/provider"
	"github.com/sammcj/toolbridge/tools"
	"github.com/sammcj/toolbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *mcpserver.MCPServer {
	t.Helper()
	list, err := tools.Arithmetic()
	require.NoError(t, err)
	r := provider.NewRegistry()
	require.NoError(t, r.Register(list...))

	srv, err := mcpserver.New(context.Background(), r)
	require.NoError(t, err)
	return srv
}

func initialize(t *testing.T, c *client.Client) {
	t.Helper()
	res, err := c.Initialize(context.Background(), mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "test", Version: "1.0.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, mcpserver.ServerName, res.ServerInfo.Name)
}

func callRequest(name, callID string, args any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
			Meta:      mcp.NewMetaFromMap(map[string]any{mcpserver.MetaCallID: callID}),
		},
	}
}

func TestToolConversion(t *testing.T) {
	d := types.ToolDescriptor{
		Name:        "add",
		Description: "Add two numbers together",
		InputSchema: types.InputSchema{
			Type: "object",
			Properties: map[string]any{
				"a": map[string]any{"type": "integer"},
			},
			Required: []string{"a"},
		},
	}

	tool := mcpserver.ToMCPTool(d)
	assert.Equal(t, "add", tool.Name)
	require.NotNil(t, tool.Annotations.ReadOnlyHint)
	assert.True(t, *tool.Annotations.ReadOnlyHint)
	assert.Equal(t, d, mcpserver.FromMCPTool(tool))

	assert.Equal(t, "object", mcpserver.FromMCPTool(mcp.Tool{Name: "x"}).InputSchema.Type)
}

func TestInProcess(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)

	c, err := client.NewInProcessClient(srv.Server())
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Close()
	initialize(t, c)

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Tools, 4)
	assert.Equal(t, "add", list.Tools[0].Name)
	assert.Equal(t, []string{"a", "b"}, list.Tools[0].InputSchema.Required)

	res, err := c.CallTool(ctx, callRequest("multiply", "call_7", map[string]any{"a": 6, "b": 5}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "call_7", mcpserver.CallID(res.Meta))
	assert.Equal(t, map[string]any{"result": float64(30)}, res.StructuredContent)
	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	assert.Equal(t, "30", text.Text)

	tcases := []struct {
		name string
		tool string
		args any
		code string
	}{
		{"missing argument", "multiply", map[string]any{"a": 6}, types.CodeInvalidArguments},
		{"wrong type", "add", map[string]any{"a": "six", "b": 5}, types.CodeInvalidArguments},
		{"not an object", "add", []any{1, 2}, types.CodeInvalidArguments},
		{"division by zero", "divide", map[string]any{"a": 1, "b": 0}, types.CodeExecutionFailed},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := c.CallTool(ctx, callRequest(tc.tool, "call_err", tc.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Equal(t, "call_err", mcpserver.CallID(res.Meta))
			m, ok := res.StructuredContent.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tc.code, m["code"])
			assert.NotEmpty(t, m["message"])
		})
	}

	_, err = c.CallTool(ctx, callRequest("pow", "call_8", map[string]any{"a": 2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCallID_Generated(t *testing.T) {
	ctx := context.Background()
	c, err := client.NewInProcessClient(newServer(t).Server())
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Close()
	initialize(t, c)

	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: "add", Arguments: map[string]any{"a": 1, "b": 2}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, mcpserver.CallID(res.Meta))
	assert.Empty(t, mcpserver.CallID(nil))
}

func TestListen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv := newServer(t)

	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- srv.Listen(ctx, serverIn, serverOut)
	}()

	c := client.NewClient(transport.NewIO(clientIn, clientOut, nil))
	require.NoError(t, c.Start(ctx))
	initialize(t, c)

	res, err := c.CallTool(ctx, callRequest("add", "call_1", map[string]any{"a": 25, "b": 17}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": float64(42)}, res.StructuredContent)

	cancel()
	_ = c.Close()
	_ = serverOut.Close()
	<-done
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestClose(t *testing.T) {
	list, err := tools.Arithmetic()
	require.NoError(t, err)
	r := provider.NewRegistry()
	require.NoError(t, r.Register(list...))

	var closed int
	srv, err := mcpserver.New(context.Background(), r,
		closerFunc(func() error { closed++; return nil }),
		closerFunc(func() error { closed++; return io.ErrClosedPipe }),
	)
	require.NoError(t, err)

	err = srv.Close()
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, 2, closed)
}
