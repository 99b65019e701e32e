// tools/arithmetic.go
package tools

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/sammcj/toolbridge/provider"
)

// IntPair holds the operands of an integer operation
type IntPair struct {
	A int `json:"a" jsonschema:"description=First operand"`
	B int `json:"b" jsonschema:"description=Second operand"`
}

// NumberPair holds the operands of a floating point operation
type NumberPair struct {
	A float64 `json:"a" jsonschema:"description=Dividend"`
	B float64 `json:"b" jsonschema:"description=Divisor"`
}

// ErrDivisionByZero is returned by divide when b is zero
var ErrDivisionByZero = errors.New("division by zero")

// Arithmetic returns the add, subtract, multiply and divide tools
func Arithmetic() ([]*provider.Tool, error) {
	var list []*provider.Tool

	add, err := provider.NewTool("add", "Add two numbers together", func(_ context.Context, in *IntPair) (any, error) {
		return in.A + in.B, nil
	})
	if err != nil {
		return nil, err
	}
	list = append(list, add)

	sub, err := provider.NewTool("subtract", "Subtract b from a", func(_ context.Context, in *IntPair) (any, error) {
		return in.A - in.B, nil
	})
	if err != nil {
		return nil, err
	}
	list = append(list, sub)

	mul, err := provider.NewTool("multiply", "Multiply two numbers", func(_ context.Context, in *IntPair) (any, error) {
		return in.A * in.B, nil
	})
	if err != nil {
		return nil, err
	}
	list = append(list, mul)

	div, err := provider.NewTool("divide", "Divide a by b", func(_ context.Context, in *NumberPair) (any, error) {
		if in.B == 0 {
			return nil, ErrDivisionByZero
		}
		return in.A / in.B, nil
	})
	if err != nil {
		return nil, err
	}
	list = append(list, div)

	return list, nil
}
