package output

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/szaher/sessionize/internal/session"
)

// JSONLWriter writes one JSON object per session.
type JSONLWriter struct {
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

func newJSONLWriter(w io.Writer, closer io.Closer) *JSONLWriter {
	buf := bufio.NewWriter(w)
	return &JSONLWriter{
		buf:    buf,
		enc:    json.NewEncoder(buf),
		closer: closer,
	}
}

// Emit implements session.Sink.
func (j *JSONLWriter) Emit(row session.Row) error {
	return j.enc.Encode(row)
}

// Flush implements Writer.
func (j *JSONLWriter) Flush() error {
	return j.buf.Flush()
}

// Close implements Writer.
func (j *JSONLWriter) Close() error {
	err := j.Flush()
	if j.closer != nil {
		if cerr := j.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
