package provider

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/sammcj/toolbridge/types"
)

// validateArguments checks arguments against a tool input schema
func validateArguments(d types.ToolDescriptor, args map[string]any) error {
	schema := d.InputSchema

	// Check required fields
	for _, required := range schema.Required {
		if _, ok := args[required]; !ok {
			return types.InvalidArguments(d.Name, "missing required argument %q", required)
		}
	}

	// Sorted for a deterministic first error
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		propSchema, ok := schema.Properties[name]
		if !ok {
			return types.InvalidArguments(d.Name, "unknown argument %q", name)
		}

		prop, ok := propSchema.(map[string]any)
		if !ok {
			return types.InvalidArguments(d.Name, "invalid schema for argument %q", name)
		}

		if err := validateValue(args[name], prop); err != nil {
			return types.InvalidArguments(d.Name, "argument %q: %v", name, err)
		}
	}

	return nil
}

func validateValue(value any, prop map[string]any) error {
	if expected, ok := prop["type"].(string); ok {
		if err := validateType(value, expected); err != nil {
			return err
		}
	}

	if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
		for _, allowed := range enum {
			if reflect.DeepEqual(normalize(allowed), normalize(value)) {
				return nil
			}
		}
		return fmt.Errorf("value %v is not one of %v", value, enum)
	}

	return nil
}

// validateType validates a value against a JSON Schema type
func validateType(value any, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if isNumber(value) {
			return nil
		}
	case "integer":
		if isInteger(value) {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]any); ok {
			return nil
		}
	case "null":
		if value == nil {
			return nil
		}
	default:
		return fmt.Errorf("unsupported type: %s", expectedType)
	}
	return fmt.Errorf("expected %s, got %T", expectedType, value)
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float32, float64:
		return true
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return math.Trunc(float64(v)) == float64(v)
	case float64:
		return !math.IsInf(v, 0) && math.Trunc(v) == v
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

// normalize turns every JSON number representation into float64
func normalize(value any) any {
	if !isNumber(value) {
		return value
	}
	switch v := value.(type) {
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return reflect.ValueOf(v).Convert(reflect.TypeOf(float64(0))).Float()
	}
}
