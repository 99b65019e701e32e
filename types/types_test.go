package types_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sammcj/toolbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallResult_Text(t *testing.T) {
	tcases := []struct {
		content any
		exp     string
	}{
		{content: 42, exp: "42"},
		{content: float64(42), exp: "42"},
		{content: 2.5, exp: "2.5"},
		{content: "hello", exp: "hello"},
		{content: nil, exp: ""},
		{content: map[string]any{"rows": 1}, exp: `{"rows":1}`},
	}
	for _, tc := range tcases {
		r := types.ToolCallResult{CallID: "c1", Content: tc.content}
		assert.Equal(t, tc.exp, r.Text())
	}
}

func TestNewToolCallRequest(t *testing.T) {
	req := types.NewToolCallRequest("call_1", "add", `{"a":25,"b":17}`)
	require.NoError(t, req.ParseError)
	assert.Equal(t, "call_1", req.ID)
	assert.Equal(t, "add", req.Name)
	assert.Equal(t, map[string]any{"a": float64(25), "b": float64(17)}, req.Arguments)
	assert.Equal(t, `{"a":25,"b":17}`, req.ArgumentsJSON())

	empty := types.NewToolCallRequest("call_2", "add", "")
	require.NoError(t, empty.ParseError)
	assert.Empty(t, empty.Arguments)

	bad := types.NewToolCallRequest("call_3", "add", `{"a":`)
	assert.Error(t, bad.ParseError)
	assert.Nil(t, bad.Arguments)

	built := types.ToolCallRequest{ID: "x", Name: "add", Arguments: map[string]any{"a": 1}}
	assert.Equal(t, `{"a":1}`, built.ArgumentsJSON())
}

func TestToolDescriptor_Clone(t *testing.T) {
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
	c := d.Clone()
	assert.Equal(t, d, c)

	c.InputSchema.Properties["a"].(map[string]any)["type"] = "string"
	c.InputSchema.Required[0] = "b"
	assert.Equal(t, "integer", d.InputSchema.Properties["a"].(map[string]any)["type"])
	assert.Equal(t, []string{"a"}, d.InputSchema.Required)
}

func TestToolMessage(t *testing.T) {
	m := types.ToolMessage(types.ToolCallResult{CallID: "call_1", Content: 42})
	assert.Equal(t, types.RoleTool, m.Role)
	assert.Equal(t, "42", m.Content)
	assert.Equal(t, "call_1", m.ToolCallID)
}

func TestErrors(t *testing.T) {
	err := types.UnknownTool("nope")
	assert.True(t, errors.Is(err, types.ErrUnknownTool))
	assert.False(t, errors.Is(err, types.ErrInvalidArguments))
	assert.Equal(t, types.CodeUnknownTool, types.ErrorCode(err))

	err = types.InvalidArguments("add", "missing required argument %q", "a")
	assert.True(t, errors.Is(err, types.ErrInvalidArguments))
	assert.EqualError(t, err, `invalid arguments: add: missing required argument "a"`)
	assert.Equal(t, types.CodeInvalidArguments, types.ErrorCode(err))

	transport := &types.TransportError{Op: "call_tool", Err: errors.New("broken pipe")}
	failed := types.ToolExecutionFailed("add", transport)
	assert.True(t, errors.Is(failed, types.ErrToolExecution))
	assert.True(t, errors.Is(failed, types.ErrTransport))

	var te *types.ToolError
	require.True(t, errors.As(failed, &te))
	assert.Equal(t, "add", te.Tool)

	rebuilt := types.ErrorFromCode("add", types.CodeInvalidArguments, "bad")
	assert.True(t, errors.Is(rebuilt, types.ErrInvalidArguments))
	assert.True(t, errors.Is(types.ErrorFromCode("add", "other", "x"), types.ErrToolExecution))

	schemaErr := &types.SchemaError{Tool: "add", Construct: "oneOf"}
	assert.True(t, errors.Is(schemaErr, types.ErrSchemaAdaptation))

	cfgErr := &types.ConfigError{Field: "llm.model", Message: "required"}
	assert.True(t, errors.Is(cfgErr, types.ErrInvalidConfig))
}
