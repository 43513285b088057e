// Package expr compiles and evaluates transition guard expressions.
//
// The language is deliberately small: literals, context lookups, comparisons
// and boolean connectives. There are no function calls, assignments or
// arithmetic, so evaluating a guard can never run arbitrary code or change
// the variables it reads.
//
// Example:
//
//	prog, err := expr.Compile(`amount > 100 && customer.tier == "gold"`)
//	if err != nil {
//	    return err
//	}
//	ok, err := prog.Eval(map[string]any{
//	    "amount":   250,
//	    "customer": map[string]any{"tier": "gold"},
//	})
package expr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmpty is returned by Compile for blank expressions.
var ErrEmpty = errors.New("expr: empty expression")

// ErrUndefined is returned when an expression references a context key or
// field that does not exist.
var ErrUndefined = errors.New("expr: undefined reference")

// ErrType is returned when operands cannot be ordered against each other,
// for example comparing a string with a number using "<".
var ErrType = errors.New("expr: type mismatch")

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	// Pos is the byte offset in the source where the problem was detected.
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr: syntax error at offset %d: %s", e.Pos, e.Msg)
}

// Program is a compiled guard expression. A Program is immutable and safe
// for concurrent use.
type Program struct {
	src   string
	root  node
	roots []string
}

// Compile parses src into a Program.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, ErrEmpty
	}
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected trailing input")
	}
	return &Program{src: src, root: root, roots: p.roots}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level fixtures.
func MustCompile(src string) *Program {
	prog, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return prog
}

// Eval evaluates the program against vars and reports the truthiness of
// the result. vars is only read.
func (p *Program) Eval(vars map[string]any) (bool, error) {
	v, err := p.root.eval(vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Vars returns the top-level context keys the expression reads, in order of
// first appearance.
func (p *Program) Vars() []string {
	out := make([]string, len(p.roots))
	copy(out, p.roots)
	return out
}

// String returns the source text.
func (p *Program) String() string { return p.src }

// Eval compiles and evaluates src in one step.
func Eval(src string, vars map[string]any) (bool, error) {
	prog, err := Compile(src)
	if err != nil {
		return false, err
	}
	return prog.Eval(vars)
}
