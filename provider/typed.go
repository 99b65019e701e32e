package provider

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	"github.com/sammcj/toolbridge/types"
)

// NewTool creates a tool whose input schema is reflected from T.
// Field names come from json tags, fields without omitempty are required.
func NewTool[T any](name, description string, fn func(ctx context.Context, args *T) (any, error)) (*Tool, error) {
	schema, err := ReflectSchema(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, errors.Wrapf(err, "tool %s", name)
	}

	d := types.ToolDescriptor{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}

	return NewRawTool(d, func(ctx context.Context, args map[string]any) (any, error) {
		in := new(T)
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, types.InvalidArguments(name, "encode arguments: %v", err)
		}
		if err := json.Unmarshal(raw, in); err != nil {
			return nil, types.InvalidArguments(name, "decode arguments: %v", err)
		}
		return fn(ctx, in)
	})
}

// ReflectSchema returns the input schema of a struct type, with nested types inlined
func ReflectSchema(t reflect.Type) (types.InputSchema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return types.InputSchema{}, errors.Newf("arguments type must be a struct, got %s", t.Kind())
	}

	r := &jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	s := r.ReflectFromType(t)

	// The ordered properties map is turned into plain JSON values
	props := map[string]any{}
	if s.Properties != nil && s.Properties.Len() > 0 {
		raw, err := json.Marshal(s.Properties)
		if err != nil {
			return types.InputSchema{}, errors.Wrap(err, "marshal properties")
		}
		if err := json.Unmarshal(raw, &props); err != nil {
			return types.InputSchema{}, errors.Wrap(err, "unmarshal properties")
		}
	}

	return types.InputSchema{
		Type:       "object",
		Properties: props,
		Required:   s.Required,
	}, nil
}
