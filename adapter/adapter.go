// Package adapter converts tool descriptors into the function schemas chat models expect.
package adapter

import (
	"sort"

	"github.com/sammcj/toolbridge/llm"
	"github.com/sammcj/toolbridge/types"
)

// unsupported lists the schema keywords function-calling models cannot resolve
var unsupported = []string{
	"$ref", "$defs", "definitions",
	"allOf", "anyOf", "oneOf", "not",
	"if", "then", "else",
	"patternProperties", "dependentSchemas",
}

// Adapt converts one descriptor. Name and description are copied verbatim.
func Adapt(d types.ToolDescriptor) (llm.Tool, error) {
	schema := d.InputSchema

	if schema.Type != "" && schema.Type != "object" {
		return llm.Tool{}, &types.SchemaError{Tool: d.Name, Construct: "type " + schema.Type}
	}
	if len(schema.Defs) > 0 {
		return llm.Tool{}, &types.SchemaError{Tool: d.Name, Construct: "$defs"}
	}

	// property names are checked in a stable order
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if construct := findUnsupported(schema.Properties[name]); construct != "" {
			return llm.Tool{}, &types.SchemaError{Tool: d.Name, Construct: construct}
		}
	}

	c := d.Clone()
	properties := c.InputSchema.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	required := c.InputSchema.Required
	if required == nil {
		required = []string{}
	}

	return llm.Tool{
		Type: "function",
		Function: llm.FunctionDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}, nil
}

// AdaptAll converts descriptors preserving their order.
// The first descriptor that cannot be represented fails the whole list.
func AdaptAll(descriptors []types.ToolDescriptor) ([]llm.Tool, error) {
	tools := make([]llm.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		t, err := Adapt(d)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// findUnsupported walks a property schema and returns the first unsupported keyword
func findUnsupported(v any) string {
	schema, ok := v.(map[string]any)
	if !ok {
		return ""
	}

	for _, keyword := range unsupported {
		if _, ok := schema[keyword]; ok {
			return keyword
		}
	}

	// nested properties are keyed by name, not keyword
	if props, ok := schema["properties"].(map[string]any); ok {
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if c := findUnsupported(props[name]); c != "" {
				return c
			}
		}
	}

	switch items := schema["items"].(type) {
	case map[string]any:
		if c := findUnsupported(items); c != "" {
			return c
		}
	case []any:
		for _, item := range items {
			if c := findUnsupported(item); c != "" {
				return c
			}
		}
	}

	if extra, ok := schema["additionalProperties"].(map[string]any); ok {
		if c := findUnsupported(extra); c != "" {
			return c
		}
	}

	return ""
}
