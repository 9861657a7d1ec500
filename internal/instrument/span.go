package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Span times one operation. It is written to the sink as a system event
// when End is called; events recorded under its context name it as parent.
type Span struct {
	trace     trace
	id        string
	source    string
	operation string
	started   time.Time

	mu         sync.Mutex
	subject    string
	documentID string
	actor      string
	failed     bool
	ended      bool
	notes      map[string]any
}

// StartSpan opens a span under ctx. The returned context carries the span
// as parent for anything recorded beneath it.
func StartSpan(ctx context.Context, source, operation string) (context.Context, *Span) {
	t := traceFrom(ctx)
	s := &Span{
		trace:     t,
		id:        uuid.NewString(),
		source:    source,
		operation: operation,
		started:   time.Now(),
	}
	child := t
	child.parent = s.id
	return child.into(ctx), s
}

func (s *Span) ID() string { return s.id }

// SetActor attributes the span to a user resolved after it started.
func (s *Span) SetActor(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actor = userID
}

// SetSubject records the content type and, optionally, the entry the span
// operates on.
func (s *Span) SetSubject(subject, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject = subject
	s.documentID = documentID
}

func (s *Span) Annotate(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notes == nil {
		s.notes = make(map[string]any)
	}
	s.notes[key] = value
}

// Fail marks the span's outcome as an error.
func (s *Span) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
}

// End closes the span. Only the first call emits an event.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	duration := float64(time.Since(s.started).Microseconds()) / 1000.0
	status := StatusOK
	if s.failed {
		status = StatusError
	}
	e := Event{
		SpanID:     s.id,
		EventType:  "system",
		Source:     s.source,
		Component:  s.source,
		Action:     s.operation,
		DurationMs: &duration,
		Status:     &status,
		Metadata:   s.notes,
	}
	if s.subject != "" {
		subject := s.subject
		e.Entity = &subject
	}
	if s.documentID != "" {
		documentID := s.documentID
		e.RecordID = &documentID
	}
	if s.actor != "" {
		actor := s.actor
		e.UserID = &actor
	}
	s.trace.emit(e)
}
