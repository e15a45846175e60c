// Package parser reads EDGAR-style CSV access logs into session requests.
//
// The first line is a header naming the columns. The ip, date and time
// columns are required; cik, accession and extention, when present, form the
// requested resource. Every other column is kept in Request.Fields when field
// capture is enabled.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/szaher/sessionize/internal/session"
)

// Column names understood by the reader.
const (
	ColumnIP        = "ip"
	ColumnDate      = "date"
	ColumnTime      = "time"
	ColumnCIK       = "cik"
	ColumnAccession = "accession"
	ColumnExtention = "extention"
)

// DefaultLayout matches the date and time columns joined by a single space.
const DefaultLayout = "2006-01-02 15:04:05"

// Skip reasons reported in LineError.Reason.
const (
	ReasonColumns = "columns"
	ReasonIP      = "ip"
	ReasonTime    = "time"
	ReasonCSV     = "csv"
)

// ErrBadHeader is returned when the log has no usable header line.
var ErrBadHeader = errors.New("invalid log header")

// LineError describes a log line that was skipped.
type LineError struct {
	File    string
	Line    int
	Reason  string
	Message string
}

func (e *LineError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Reason, e.Message)
}

// Reader yields requests from a CSV access log.
type Reader struct {
	csv      *csv.Reader
	file     string
	layout   string
	location *time.Location
	fields   bool
	onSkip   func(*LineError)

	header  []string
	columns map[string]int
	need    int // minimum columns a row must have
}

// Option configures a Reader.
type Option func(*Reader)

// WithFile names the log in line errors.
func WithFile(name string) Option {
	return func(r *Reader) { r.file = name }
}

// WithLayout sets the time layout applied to "<date> <time>".
func WithLayout(layout string) Option {
	return func(r *Reader) { r.layout = layout }
}

// WithLocation sets the zone timestamps are interpreted in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(r *Reader) { r.location = loc }
}

// WithFields captures every column of a row in Request.Fields.
func WithFields() Option {
	return func(r *Reader) { r.fields = true }
}

// OnSkip registers a callback invoked for each skipped line.
func OnSkip(fn func(*LineError)) Option {
	return func(r *Reader) { r.onSkip = fn }
}

// NewReader reads the header line from in and returns a Reader positioned
// at the first data row.
func NewReader(in io.Reader, opts ...Option) (*Reader, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	r := &Reader{
		csv:      cr,
		layout:   DefaultLayout,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}

	rec, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: log is empty", ErrBadHeader)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}

	r.header = make([]string, len(rec))
	r.columns = make(map[string]int, len(rec))
	for i, name := range rec {
		name = strings.ToLower(strings.TrimSpace(name))
		r.header[i] = name
		if _, dup := r.columns[name]; !dup {
			r.columns[name] = i
		}
	}

	var missing []string
	for _, name := range []string{ColumnIP, ColumnDate, ColumnTime} {
		idx, ok := r.columns[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		r.need = max(r.need, idx+1)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing column(s) %s", ErrBadHeader, strings.Join(missing, ", "))
	}
	return r, nil
}

// Header returns the normalized column names.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next well-formed request, skipping malformed lines.
// It returns io.EOF after the last row.
func (r *Reader) Next() (session.Request, error) {
	for {
		rec, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return session.Request{}, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			r.skip(perr.StartLine, ReasonCSV, perr.Err.Error())
			continue
		}
		if err != nil {
			return session.Request{}, fmt.Errorf("reading log: %w", err)
		}

		line, _ := r.csv.FieldPos(0)
		req, lerr := r.parse(rec, line)
		if lerr != nil {
			r.skip(lerr.Line, lerr.Reason, lerr.Message)
			continue
		}
		return req, nil
	}
}

func (r *Reader) parse(rec []string, line int) (session.Request, *LineError) {
	if len(rec) < r.need {
		return session.Request{}, &LineError{Line: line, Reason: ReasonColumns,
			Message: fmt.Sprintf("got %d columns, want at least %d", len(rec), r.need)}
	}

	ip := strings.TrimSpace(rec[r.columns[ColumnIP]])
	if ip == "" {
		return session.Request{}, &LineError{Line: line, Reason: ReasonIP, Message: "empty ip"}
	}

	stamp := strings.TrimSpace(rec[r.columns[ColumnDate]]) + " " + strings.TrimSpace(rec[r.columns[ColumnTime]])
	ts, err := time.ParseInLocation(r.layout, stamp, r.location)
	if err != nil {
		return session.Request{}, &LineError{Line: line, Reason: ReasonTime, Message: err.Error()}
	}

	req := session.Request{
		ClientID: ip,
		Time:     ts,
		Resource: r.resource(rec),
	}
	if r.fields {
		req.Fields = make(map[string]string, len(r.header))
		for i, name := range r.header {
			if i < len(rec) {
				req.Fields[name] = rec[i]
			}
		}
	}
	return req, nil
}

func (r *Reader) resource(rec []string) string {
	var parts []string
	for _, name := range []string{ColumnCIK, ColumnAccession, ColumnExtention} {
		if idx, ok := r.columns[name]; ok && idx < len(rec) {
			parts = append(parts, strings.TrimSpace(rec[idx]))
		}
	}
	return strings.Join(parts, "/")
}

func (r *Reader) skip(line int, reason, msg string) {
	if r.onSkip != nil {
		r.onSkip(&LineError{File: r.file, Line: line, Reason: reason, Message: msg})
	}
}
