package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is one audit record of a credential or recovery operation. EventType
// values are defined by the engine (login_success, recovery_request, ...);
// Metadata carries reasons and identifiers, never secret material.
type Event struct {
	EventID   string            `json:"event_id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Metadata keys whose values are masked before an event reaches a sink.
// Recovery codes and password material must never land in an audit trail,
// whatever an emitter put in Metadata.
var redactedMetaKeys = map[string]struct{}{
	"code":         {},
	"password":     {},
	"new_password": {},
	"token":        {},
}

// redacted returns the event with secret-bearing metadata values masked. The
// emitter's map is never mutated.
func (e Event) redacted() Event {
	var masked map[string]string
	for key := range e.Metadata {
		if _, hit := redactedMetaKeys[key]; !hit {
			continue
		}
		if masked == nil {
			masked = make(map[string]string, len(e.Metadata))
			for k, v := range e.Metadata {
				masked[k] = v
			}
		}
		masked[key] = "[redacted]"
	}
	if masked != nil {
		e.Metadata = masked
	}
	return e
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
