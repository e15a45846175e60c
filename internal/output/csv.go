package output

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/szaher/sessionize/internal/session"
)

// CSVHeader names the columns written by the CSV writer.
var CSVHeader = []string{"ip", "start", "end", "duration", "count"}

// CSVWriter writes one comma-separated line per session. Fields containing
// a comma or quote are quoted.
type CSVWriter struct {
	w      *csv.Writer
	closer io.Closer
	layout string
	header bool
	record []string
}

func newCSVWriter(w io.Writer, closer io.Closer, layout string, header bool) *CSVWriter {
	return &CSVWriter{
		w:      csv.NewWriter(w),
		closer: closer,
		layout: layout,
		header: header,
		record: make([]string, len(CSVHeader)),
	}
}

// Emit implements session.Sink.
func (c *CSVWriter) Emit(row session.Row) error {
	if c.header {
		c.header = false
		if err := c.w.Write(CSVHeader); err != nil {
			return err
		}
	}
	c.record[0] = row.ClientID
	c.record[1] = row.Start.Format(c.layout)
	c.record[2] = row.End.Format(c.layout)
	c.record[3] = strconv.FormatInt(row.DurationSeconds, 10)
	c.record[4] = strconv.Itoa(row.Requests)
	return c.w.Write(c.record)
}

// Flush implements Writer.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// Close implements Writer.
func (c *CSVWriter) Close() error {
	err := c.Flush()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
