package output

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/szaher/sessionize/internal/session"
)

// PGConn is the subset of *pgx.Conn and *pgxpool.Pool used by PostgresSink.
type PGConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// postgresColumns are the columns filled by PostgresSink, in row order.
var postgresColumns = []string{"ip", "session_start", "session_end", "duration_seconds", "request_count"}

// DefaultBatchSize is the number of rows buffered before an automatic copy.
const DefaultBatchSize = 5000

// PostgresSink buffers sessions and copies them into a table in batches.
type PostgresSink struct {
	ctx       context.Context
	conn      PGConn
	table     pgx.Identifier
	batchSize int
	rows      [][]any
	written   int64
	closer    func() error
}

// NewPostgresSink creates a sink copying into table through conn. Copies
// triggered by Emit run under ctx.
func NewPostgresSink(ctx context.Context, conn PGConn, table string) *PostgresSink {
	return &PostgresSink{
		ctx:       ctx,
		conn:      conn,
		table:     pgx.Identifier{table},
		batchSize: DefaultBatchSize,
	}
}

// SetBatchSize changes the automatic flush threshold.
func (p *PostgresSink) SetBatchSize(n int) {
	if n > 0 {
		p.batchSize = n
	}
}

// EnsureTable creates the sessions table if it does not exist.
func (p *PostgresSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	ip TEXT NOT NULL,
	session_start TIMESTAMP NOT NULL,
	session_end TIMESTAMP NOT NULL,
	duration_seconds BIGINT NOT NULL CHECK (duration_seconds >= 0),
	request_count INTEGER NOT NULL CHECK (request_count >= 1)
)`, p.table.Sanitize())
	if _, err := p.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating table %s: %w", p.table.Sanitize(), err)
	}
	return nil
}

// Emit implements session.Sink.
func (p *PostgresSink) Emit(row session.Row) error {
	p.rows = append(p.rows, []any{
		row.ClientID,
		row.Start,
		row.End,
		row.DurationSeconds,
		int32(row.Requests),
	})
	if len(p.rows) >= p.batchSize {
		return p.Flush()
	}
	return nil
}

// Flush copies buffered rows into the table.
func (p *PostgresSink) Flush() error {
	if len(p.rows) == 0 {
		return nil
	}
	n, err := p.conn.CopyFrom(p.ctx, p.table, postgresColumns, pgx.CopyFromRows(p.rows))
	if err != nil {
		return fmt.Errorf("copying sessions into %s: %w", p.table.Sanitize(), err)
	}
	p.written += n
	p.rows = p.rows[:0]
	return nil
}

// Written returns the number of rows copied so far.
func (p *PostgresSink) Written() int64 {
	return p.written
}

// Close flushes and closes the connection when the sink owns it.
func (p *PostgresSink) Close() error {
	err := p.Flush()
	if p.closer != nil {
		if cerr := p.closer(); err == nil {
			err = cerr
		}
	}
	return err
}
