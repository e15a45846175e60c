// Package secrets resolves secret references in configuration values and
// keeps resolved values out of log output.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Resolver resolves secret references to their values.
type Resolver interface {
	// Resolve looks up ref, for example "env(PG_DSN)", and returns its value.
	Resolve(ctx context.Context, ref string) (string, error)
}

// IsRef reports whether value is an env(...) or file(...) reference.
func IsRef(value string) bool {
	_, _, ok := parseRef(value)
	return ok
}

// Resolve returns value itself unless it is a reference, in which case r
// resolves it.
func Resolve(ctx context.Context, r Resolver, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	return r.Resolve(ctx, value)
}

func parseRef(value string) (kind, arg string, ok bool) {
	open := strings.IndexByte(value, '(')
	if open < 0 || !strings.HasSuffix(value, ")") {
		return "", "", false
	}
	kind, arg = value[:open], value[open+1:len(value)-1]
	if (kind != "env" && kind != "file") || arg == "" {
		return "", "", false
	}
	return kind, arg, true
}

// RefResolver resolves env(NAME) from the environment and file(PATH) from
// the file system, trimming surrounding whitespace from file contents.
type RefResolver struct {
	LookupEnv func(string) (string, bool)
	ReadFile  func(string) ([]byte, error)
}

// NewRefResolver returns a resolver backed by the process environment and
// the local file system.
func NewRefResolver() *RefResolver {
	return &RefResolver{LookupEnv: os.LookupEnv, ReadFile: os.ReadFile}
}

// Resolve implements Resolver.
func (r *RefResolver) Resolve(_ context.Context, ref string) (string, error) {
	kind, arg, ok := parseRef(ref)
	if !ok {
		return "", fmt.Errorf("unsupported secret reference %q (expected env(NAME) or file(PATH))", ref)
	}

	switch kind {
	case "env":
		value, ok := r.LookupEnv(arg)
		if !ok {
			return "", fmt.Errorf("environment variable %q not set", arg)
		}
		return value, nil
	default:
		data, err := r.ReadFile(arg)
		if err != nil {
			return "", fmt.Errorf("reading secret file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
}
