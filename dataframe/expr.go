package dataframe

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/aviral-bhardwaj/laktory/errors"
)

// BoolProgram is a compiled boolean row expression, as used by expectations
// and filter transforms. Missing columns evaluate to nil, and a nil result
// counts as false (matching SQL filter semantics).
type BoolProgram struct {
	prog *vm.Program
	src  string
}

// CompileBool compiles a boolean row expression.
func CompileBool(code string) (*BoolProgram, error) {
	prog, err := compile(code)
	if err != nil {
		return nil, err
	}
	return &BoolProgram{prog: prog, src: code}, nil
}

// Source returns the expression text.
func (p *BoolProgram) Source() string { return p.src }

// Eval evaluates the expression against one row.
func (p *BoolProgram) Eval(rec Record) (bool, error) {
	out, err := expr.Run(p.prog, rec)
	if err != nil {
		return false, errors.Expression(p.src, err)
	}
	switch v := out.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return false, errors.Expression(p.src, fmt.Errorf("expected boolean result, got %T", out))
	}
}

// ValueProgram is a compiled row expression producing a value, as used by
// computed columns.
type ValueProgram struct {
	prog *vm.Program
	src  string
}

// CompileValue compiles a value row expression.
func CompileValue(code string) (*ValueProgram, error) {
	prog, err := compile(code)
	if err != nil {
		return nil, err
	}
	return &ValueProgram{prog: prog, src: code}, nil
}

// Source returns the expression text.
func (p *ValueProgram) Source() string { return p.src }

// Eval evaluates the expression against one row.
func (p *ValueProgram) Eval(rec Record) (any, error) {
	out, err := expr.Run(p.prog, rec)
	if err != nil {
		return nil, errors.Expression(p.src, err)
	}
	return out, nil
}

func compile(code string) (*vm.Program, error) {
	prog, err := expr.Compile(code, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, errors.Expression(code, err)
	}
	return prog, nil
}
