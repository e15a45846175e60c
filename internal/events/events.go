// Package events defines structured lifecycle events emitted while
// sessionizing log files.
package events

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Type represents the kind of event.
type Type string

const (
	RunStarted    Type = "run.started"
	FileStarted   Type = "file.started"
	FileCompleted Type = "file.completed"
	FileFailed    Type = "file.failed"
	RunCompleted  Type = "run.completed"
)

// Event is a structured event emitted during a run.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// New creates a new event with the given type and run ID.
func New(eventType Type, runID string) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
	}
}

// WithData adds data fields to the event and returns it for chaining.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// JSON returns the event serialized as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter is the interface for event consumers.
type Emitter interface {
	Emit(event *Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements Emitter by discarding the event.
func (NoopEmitter) Emit(*Event) {}

// CollectorEmitter collects events in memory for testing.
type CollectorEmitter struct {
	mu     sync.Mutex
	Events []*Event
}

// Emit appends the event to the collector.
func (c *CollectorEmitter) Emit(event *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events = append(c.Events, event)
}

// Types returns the types of the collected events in emission order.
func (c *CollectorEmitter) Types() []Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Type, len(c.Events))
	for i, e := range c.Events {
		out[i] = e.Type
	}
	return out
}

// JSONEmitter writes each event as one JSON line. Safe for concurrent use.
type JSONEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONEmitter creates an emitter writing to w.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{w: w}
}

// Emit implements Emitter. Write errors are dropped.
func (j *JSONEmitter) Emit(event *Event) {
	data, err := event.JSON()
	if err != nil {
		return
	}
	data = append(data, '\n')
	j.mu.Lock()
	defer j.mu.Unlock()
	_, _ = j.w.Write(data)
}

// Tee returns an emitter that forwards each event to every non-nil emitter.
func Tee(emitters ...Emitter) Emitter {
	var out teeEmitter
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type teeEmitter []Emitter

func (t teeEmitter) Emit(event *Event) {
	for _, e := range t {
		e.Emit(event)
	}
}
