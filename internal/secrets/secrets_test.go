package secrets

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIsRef(t *testing.T) {
	tests := map[string]bool{
		"env(PG_DSN)":          true,
		"file(/run/secrets/x)": true,
		"env()":                false,
		"vault(x)":             false,
		"postgres://u:p@h/db":  false,
		"env(PG_DSN":           false,
		"":                     false,
	}
	for in, want := range tests {
		if got := IsRef(in); got != want {
			t.Errorf("IsRef(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRefResolver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsn")
	if err := os.WriteFile(path, []byte("postgres://file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	r := &RefResolver{
		LookupEnv: func(name string) (string, bool) {
			if name == "PG_DSN" {
				return "postgres://env", true
			}
			return "", false
		},
		ReadFile: os.ReadFile,
	}
	ctx := context.Background()

	got, err := Resolve(ctx, r, "env(PG_DSN)")
	if err != nil || got != "postgres://env" {
		t.Errorf("Resolve(env) = %q, %v", got, err)
	}
	got, err = Resolve(ctx, r, "file("+path+")")
	if err != nil || got != "postgres://file" {
		t.Errorf("Resolve(file) = %q, %v", got, err)
	}
	got, err = Resolve(ctx, r, "postgres://plain")
	if err != nil || got != "postgres://plain" {
		t.Errorf("Resolve(plain) = %q, %v", got, err)
	}

	if _, err := Resolve(ctx, r, "env(MISSING)"); err == nil {
		t.Error("Resolve of unset variable should fail")
	}
	if _, err := r.Resolve(ctx, "plain"); err == nil {
		t.Error("RefResolver.Resolve of a non-reference should fail")
	}
}

func TestRedactor(t *testing.T) {
	var buf bytes.Buffer
	red := NewRedactor(slog.NewTextHandler(&buf, nil))
	red.AddDSN("postgres://app:hunter2@db:5432/logs")
	logger := slog.New(red)

	logger.Info("connecting to postgres://app:hunter2@db:5432/logs",
		"password", "hunter2",
		slog.Group("pg", "dsn", "postgres://app:hunter2@db:5432/logs"),
		"error", errors.New("auth failed for hunter2"),
		"count", 3,
	)

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, Placeholder) || !strings.Contains(out, "count=3") {
		t.Errorf("output = %s", out)
	}
}

func TestRedactorWithAttrsSharesSecrets(t *testing.T) {
	var buf bytes.Buffer
	red := NewRedactor(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(red).With("component", "output")

	red.Add("s3cret")
	logger.Info("value s3cret")

	if strings.Contains(buf.String(), "s3cret") {
		t.Errorf("secret added after With leaked: %s", buf.String())
	}
}
