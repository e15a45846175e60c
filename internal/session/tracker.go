package session

import (
	"container/list"
	"fmt"
	"log/slog"
	"time"
)

// Close reasons reported to an Observer.
const (
	ReasonExpired = "expired"
	ReasonFlushed = "flushed"
)

// Observer is notified about session lifecycle transitions.
type Observer interface {
	SessionOpened(clientID string)
	SessionClosed(reason string, duration time.Duration, requests int)
	// SessionsDiscarded reports n open sessions dropped without a row.
	SessionsDiscarded(n int)
}

// Tracker owns the open sessions of one log stream. It maps each client to
// its single open session and remembers the order in which sessions were
// opened, so that sessions expiring at the same instant are emitted in a
// stable order.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	threshold time.Duration

	// open maps a client ID to its element in order.
	open  map[string]*list.Element
	order *list.List // of *Session, oldest first

	now       time.Time
	started   bool
	finalized bool

	closed   []Row
	sink     Sink
	logger   *slog.Logger
	observer Observer
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithSink delivers closed sessions to sink instead of buffering them for Drain.
func WithSink(sink Sink) TrackerOption {
	return func(t *Tracker) { t.sink = sink }
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = logger }
}

// WithObserver registers an observer for open/close transitions.
func WithObserver(o Observer) TrackerOption {
	return func(t *Tracker) { t.observer = o }
}

// NewTracker creates a tracker that closes sessions idle for longer than threshold.
func NewTracker(threshold time.Duration, opts ...TrackerOption) (*Tracker, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidThreshold, threshold)
	}
	t := &Tracker{
		threshold: threshold,
		open:      make(map[string]*list.Element),
		order:     list.New(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Process folds one request into the tracker. Sessions that have been idle
// for longer than the threshold as of the request's time are closed first,
// in the order they were opened. The request then either extends its
// client's open session or opens a new one.
func (t *Tracker) Process(req Request) error {
	if t.finalized {
		return ErrFinalized
	}
	ts := req.Time
	if t.started && ts.Before(t.now) {
		return fmt.Errorf("request from %s at %s precedes %s: %w",
			req.ClientID, ts.Format(time.RFC3339), t.now.Format(time.RFC3339), ErrOutOfOrder)
	}

	// Nothing new can expire while the clock stands still.
	if !t.started || ts.After(t.now) {
		if err := t.sweep(ts); err != nil {
			return err
		}
	}
	t.now = ts
	t.started = true

	if el, ok := t.open[req.ClientID]; ok {
		return el.Value.(*Session).Touch(ts)
	}

	s := New(req.ClientID, ts)
	t.open[req.ClientID] = t.order.PushBack(s)
	if t.observer != nil {
		t.observer.SessionOpened(req.ClientID)
	}
	t.logger.Debug("session opened", "ip", req.ClientID, "at", ts)
	return nil
}

// Finalize closes every open session in opening order. The tracker is
// empty afterwards and rejects further calls. If the sink fails, the
// sessions not yet emitted are discarded and the sink error is returned.
func (t *Tracker) Finalize() error {
	if t.finalized {
		return ErrFinalized
	}
	t.finalized = true
	for el := t.order.Front(); el != nil; {
		next := el.Next()
		if err := t.close(el, ReasonFlushed); err != nil {
			t.Discard()
			return err
		}
		el = next
	}
	return nil
}

// Discard drops every open session without emitting it and returns how
// many were dropped. The tracker rejects further calls afterwards. It is
// a no-op on an empty finalized tracker.
func (t *Tracker) Discard() int {
	t.finalized = true
	n := t.order.Len()
	if n == 0 {
		return 0
	}
	t.order.Init()
	clear(t.open)
	if t.observer != nil {
		t.observer.SessionsDiscarded(n)
	}
	t.logger.Debug("sessions discarded", "count", n)
	return n
}

// Drain returns the sessions closed since the last call, in closure order.
// It is empty when a sink is configured.
func (t *Tracker) Drain() []Row {
	rows := t.closed
	t.closed = nil
	return rows
}

// Open returns the number of open sessions.
func (t *Tracker) Open() int {
	return len(t.open)
}

func (t *Tracker) sweep(now time.Time) error {
	for el := t.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*Session).IsExpired(now, t.threshold) {
			if err := t.close(el, ReasonExpired); err != nil {
				return err
			}
		}
		el = next
	}
	return nil
}

func (t *Tracker) close(el *list.Element, reason string) error {
	s := t.order.Remove(el).(*Session)
	delete(t.open, s.ClientID)

	t.logger.Debug("session closed",
		"ip", s.ClientID,
		"reason", reason,
		"requests", s.Requests,
		"duration", s.Duration(),
	)
	if t.observer != nil {
		t.observer.SessionClosed(reason, s.Duration(), s.Requests)
	}

	row := s.Row()
	if t.sink == nil {
		t.closed = append(t.closed, row)
		return nil
	}
	if err := t.sink.Emit(row); err != nil {
		return fmt.Errorf("emit session for %s: %w", s.ClientID, err)
	}
	return nil
}
