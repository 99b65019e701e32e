package cli_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sammcj/toolbridge/cli"
	"github.com/sammcj/toolbridge/config"
	"github.com/sammcj/toolbridge/llm"
	"github.com/sammcj/toolbridge/provider"
	"github.com/sammcj/toolbridge/server"
	"github.com/sammcj/toolbridge/tools"
	"github.com/sammcj/toolbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// addModel requests add(25, 17) and then answers with the tool result
type addModel struct {
	calls int
}

func (m *addModel) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	m.calls++
	last := req.Messages[len(req.Messages)-1]
	if last.Role == types.RoleTool {
		return &llm.Response{Content: "25 + 17 = " + last.Content}, nil
	}
	return &llm.Response{ToolCalls: []types.ToolCallRequest{
		types.NewToolCallRequest("call_1", "add", `{"a":25,"b":17}`),
	}}, nil
}

type harness struct {
	cfg    *config.Config
	model  *addModel
	stdin  *strings.Reader
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newHarness() *harness {
	return &harness{
		cfg:   config.DefaultConfig(),
		model: &addModel{},
		stdin: strings.NewReader(""),
	}
}

func (h *harness) run(args ...string) error {
	app := cli.NewApp(
		cli.WithConfigLoader(func(string) (*config.Config, error) {
			// each run gets its own copy
			c := *h.cfg
			return &c, nil
		}),
		cli.WithModelFactory(func(*config.Config) (llm.Model, error) {
			return h.model, nil
		}),
		cli.WithIO(h.stdin, &h.stdout, &h.stderr),
	)
	return app.Execute(args...)
}

func TestDirect(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("direct"))
	assert.Equal(t, "25 + 17 = 42\n", h.stdout.String())
	assert.Equal(t, 2, h.model.calls)
}

func TestAsk(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("ask", "Calculate", "25", "+", "17"))

	out := h.stdout.String()
	// MCP providers list their tools sorted by name
	assert.Contains(t, out, "Connected to provider with tools: add, divide, multiply, subtract\n")
	assert.Contains(t, out, "25 + 17 = 42\n")
	assert.Equal(t, 2, h.model.calls)
}

func TestAsk_JSON(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("ask", "--json", "Calculate 25 + 17"))

	out := h.stdout.String()
	body := out[strings.Index(out, "{"):]
	assert.Equal(t, "25 + 17 = 42", gjson.Get(body, "answer").String())
	assert.Equal(t, int64(2), gjson.Get(body, "model_calls").Int())
	assert.Equal(t, int64(1), gjson.Get(body, "tool_calls").Int())
}

func TestTools(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("tools"))
	assert.Contains(t, h.stdout.String(), "add: Add two numbers together\n  required: a, b\n")

	h.stdout.Reset()
	require.NoError(t, h.run("tools", "--json"))
	names := gjson.Get(h.stdout.String(), "tools.#.name").Array()
	require.Len(t, names, 4)
	assert.Equal(t, "subtract", names[3].String())
}

func TestCall(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("call", "multiply", "a=6", "b=5"))
	assert.Equal(t, "Result: 30\n", h.stdout.String())

	h.stdout.Reset()
	require.NoError(t, h.run("call", "--json", "multiply", "a=6", "b=5"))
	assert.Equal(t, int64(30), gjson.Get(h.stdout.String(), "result").Int())

	err := h.run("call", "pow", "a=2", "b=3")
	assert.True(t, errors.Is(err, types.ErrUnknownTool), "got %v", err)
	assert.Equal(t, cli.ExitTool, cli.ExitCode(err))

	err = h.run("call", "multiply", "a=6")
	assert.True(t, errors.Is(err, types.ErrInvalidArguments), "got %v", err)

	err = h.run("call", "multiply", "junk")
	assert.Equal(t, cli.ExitFailure, cli.ExitCode(err))
}

func TestCall_HTTP(t *testing.T) {
	list, err := tools.Arithmetic()
	require.NoError(t, err)
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(list...))

	ts := httptest.NewServer(server.New("", registry).Handler())
	defer ts.Close()

	h := newHarness()
	require.NoError(t, h.run("call", "--url", ts.URL, "multiply", "a=6", "b=5"))
	assert.Equal(t, "Result: 30\n", h.stdout.String())

	err = h.run("call", "--url", ts.URL, "divide", "a=1", "b=0")
	assert.True(t, errors.Is(err, types.ErrTransport), "got %v", err)
	assert.Equal(t, cli.ExitTransport, cli.ExitCode(err))
}

func TestSeedDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.db")

	h := newHarness()
	require.NoError(t, h.run("seed-db", path))
	assert.Contains(t, h.stdout.String(), path)

	h.cfg.Database.Path = path
	h.stdout.Reset()
	require.NoError(t, h.run("call", "query_database", "query=SELECT COUNT(*) AS n FROM users"))
	assert.Equal(t, `Result: [{"n":3}]`+"\n", h.stdout.String())

	err := h.run("call", "query_database", "query=DELETE FROM users")
	assert.Equal(t, cli.ExitTool, cli.ExitCode(err))
}

func TestChat(t *testing.T) {
	h := newHarness()
	h.stdin = strings.NewReader("Calculate 25 + 17\nquit\n")
	require.NoError(t, h.run("chat"))

	out := h.stdout.String()
	assert.Contains(t, out, "Tools: add, divide, multiply, subtract")
	assert.Contains(t, out, "25 + 17 = 42")
	assert.Contains(t, out, "Goodbye!")
}

func TestConfigErrors(t *testing.T) {
	h := newHarness()
	err := h.run("tools", "--transport", "carrier-pigeon")
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(err))

	h = newHarness()
	h.cfg.LLM.ParallelTools = true
	h.cfg.Provider.Busy = config.BusyFail
	err = h.run("ask", "Calculate 25 + 17")
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(err))
	assert.Zero(t, h.model.calls)

	h.cfg.Provider.Busy = config.BusyQueue
	require.NoError(t, h.run("ask", "Calculate 25 + 17"))
	assert.Contains(t, h.stdout.String(), "25 + 17 = 42")

	app := cli.NewApp(
		cli.WithConfigLoader(func(string) (*config.Config, error) {
			return nil, &types.ConfigError{Field: "llm.provider", Message: "bad"}
		}),
		cli.WithIO(nil, &bytes.Buffer{}, &bytes.Buffer{}),
	)
	err = app.Execute("tools")
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(err))

	h = newHarness()
	app = cli.NewApp(
		cli.WithConfigLoader(func(string) (*config.Config, error) { return config.DefaultConfig(), nil }),
		cli.WithModelFactory(func(*config.Config) (llm.Model, error) {
			return nil, &types.ConfigError{Field: "llm.api_key", Message: "API key is required"}
		}),
		cli.WithIO(nil, &h.stdout, &h.stderr),
	)
	err = app.Execute("direct")
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(err))
}

func TestParseArguments(t *testing.T) {
	args, err := cli.ParseArguments([]string{"a=6", "b=5.5", "name=alice", `tags=["x"]`, "flag=true", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a":     float64(6),
		"b":     5.5,
		"name":  "alice",
		"tags":  []any{"x"},
		"flag":  true,
		"empty": "",
	}, args)

	_, err = cli.ParseArguments([]string{"=1"})
	assert.Error(t, err)
	_, err = cli.ParseArguments([]string{"novalue"})
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, cli.ExitSuccess, cli.ExitCode(nil))
	assert.Equal(t, cli.ExitFailure, cli.ExitCode(errors.New("boom")))
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(&types.ConfigError{Field: "x"}))
	assert.Equal(t, cli.ExitTool, cli.ExitCode(types.ToolExecutionFailed("divide", errors.New("division by zero"))))
	assert.Equal(t, cli.ExitModel, cli.ExitCode(errors.Mark(errors.New("slow"), types.ErrModelTimeout)))

	// a broken channel during a tool call is reported as a transport failure
	err := types.ToolExecutionFailed("add", &types.TransportError{Op: "call_tool"})
	assert.Equal(t, cli.ExitTransport, cli.ExitCode(err))
}

func TestVersion(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("version"))
	assert.Contains(t, h.stdout.String(), "toolbridge "+cli.Version)
}
