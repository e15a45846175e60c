// Package session groups time-ordered requests into per-client sessions
// separated by an inactivity threshold.
package session

import (
	"fmt"
	"time"
)

// Request is a single parsed log record.
type Request struct {
	ClientID string            `json:"ip"`
	Time     time.Time         `json:"time"`
	Resource string            `json:"resource"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Row is the output projection of a closed session.
type Row struct {
	ClientID        string    `json:"ip"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds int64     `json:"duration"`
	Requests        int       `json:"count"`
}

// Sink receives closed sessions in closure order.
type Sink interface {
	Emit(row Row) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(row Row) error

// Emit calls the function.
func (f SinkFunc) Emit(row Row) error { return f(row) }

// Session is one client's in-progress activity window.
type Session struct {
	ClientID   string
	Start      time.Time
	LastActive time.Time
	Requests   int
}

// New opens a session for clientID at ts.
func New(clientID string, ts time.Time) *Session {
	return &Session{
		ClientID:   clientID,
		Start:      ts,
		LastActive: ts,
		Requests:   1,
	}
}

// Touch extends the session with a request made at ts.
func (s *Session) Touch(ts time.Time) error {
	if ts.Before(s.LastActive) {
		return fmt.Errorf("client %s: request at %s precedes last activity %s: %w",
			s.ClientID, ts.Format(time.RFC3339), s.LastActive.Format(time.RFC3339), ErrOutOfOrder)
	}
	s.LastActive = ts
	s.Requests++
	return nil
}

// IsExpired reports whether more than threshold has elapsed between the
// last request and now. A gap of exactly threshold keeps the session open.
func (s *Session) IsExpired(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastActive) > threshold
}

// Duration returns the time between the first and the last request.
func (s *Session) Duration() time.Duration {
	d := s.LastActive.Sub(s.Start)
	if d < 0 {
		return 0
	}
	return d
}

// Row returns the output projection of the session.
func (s *Session) Row() Row {
	return Row{
		ClientID:        s.ClientID,
		Start:           s.Start,
		End:             s.LastActive,
		DurationSeconds: int64(s.Duration() / time.Second),
		Requests:        s.Requests,
	}
}
