// Package filter compiles boolean expressions that select log requests to
// drop before sessionization.
package filter

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/szaher/sessionize/internal/session"
)

// Env is the evaluation environment of a filter expression.
type Env struct {
	IP       string            `expr:"ip"`
	Resource string            `expr:"resource"`
	Time     time.Time         `expr:"time"`
	Fields   map[string]string `expr:"fields"`
}

// Filter is a compiled expression. A request matches when the expression
// evaluates to true.
type Filter struct {
	Source  string
	program *vm.Program
}

// Compile validates and compiles source against Env. An empty source
// yields a nil Filter, which matches nothing.
func Compile(source string) (*Filter, error) {
	if source == "" {
		return nil, nil
	}

	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("filter compile error: %w", err)
	}

	return &Filter{
		Source:  source,
		program: program,
	}, nil
}

// ValidateSyntax checks that source compiles into a boolean filter.
func ValidateSyntax(source string) error {
	if source == "" {
		return fmt.Errorf("empty expression")
	}
	_, err := Compile(source)
	return err
}

// Match reports whether req should be dropped.
func (f *Filter) Match(req session.Request) (bool, error) {
	if f == nil {
		return false, nil
	}

	env := Env{
		IP:       req.ClientID,
		Resource: req.Resource,
		Time:     req.Time,
		Fields:   req.Fields,
	}
	if env.Fields == nil {
		env.Fields = map[string]string{}
	}

	result, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("filter eval error for %q: %w", f.Source, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, expected bool", f.Source, result)
	}
	return b, nil
}

// NeedsFields reports whether the filter may read per-column fields.
func (f *Filter) NeedsFields() bool {
	return f != nil
}
