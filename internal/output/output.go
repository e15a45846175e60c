// Package output writes closed sessions to files, standard output, or
// PostgreSQL.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/szaher/sessionize/internal/config"
	"github.com/szaher/sessionize/internal/session"
)

// Writer is a session sink that buffers output.
type Writer interface {
	session.Sink
	// Flush pushes buffered rows to the destination.
	Flush() error
	// Close flushes and releases the destination.
	Close() error
}

// Options selects and configures a Writer.
type Options struct {
	Format     string
	TimeLayout string
	Header     bool
	Table      string
}

// OptionsFromConfig derives writer options from cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Format:     cfg.Format,
		TimeLayout: cfg.TimeLayout,
		Table:      cfg.Postgres.Table,
	}
}

// IsPostgres reports whether target is a PostgreSQL connection string.
func IsPostgres(target string) bool {
	return strings.HasPrefix(target, "postgres://") || strings.HasPrefix(target, "postgresql://")
}

// Open returns a Writer for target: "-" or "" for standard output, a
// postgres:// URL, or a file path (parent directories are created).
func Open(ctx context.Context, target string, opts Options) (Writer, error) {
	if IsPostgres(target) {
		conn, err := pgx.Connect(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		sink := NewPostgresSink(ctx, conn, opts.Table)
		sink.closer = func() error { return conn.Close(context.Background()) }
		if err := sink.EnsureTable(ctx); err != nil {
			_ = sink.Close()
			return nil, err
		}
		return sink, nil
	}

	var w io.Writer = os.Stdout
	var closer io.Closer
	if target != "" && target != "-" {
		if dir := filepath.Dir(target); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating output directory: %w", err)
			}
		}
		f, err := os.Create(target)
		if err != nil {
			return nil, fmt.Errorf("creating output: %w", err)
		}
		w, closer = f, f
	}
	return NewWriter(w, closer, opts)
}

// NewWriter returns a text Writer for opts.Format writing to w. closer, if
// not nil, is closed by Close.
func NewWriter(w io.Writer, closer io.Closer, opts Options) (Writer, error) {
	layout := opts.TimeLayout
	if layout == "" {
		layout = config.DefaultTimeLayout
	}
	switch opts.Format {
	case "", config.FormatCSV:
		return newCSVWriter(w, closer, layout, opts.Header), nil
	case config.FormatJSONL:
		return newJSONLWriter(w, closer), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", opts.Format)
	}
}
