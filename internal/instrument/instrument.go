package instrument

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rocket-cms/internal/authz"
)

// Sink receives finished events. *EventBuffer is the production sink.
type Sink interface {
	Enqueue(event Event)
}

// Event represents a row in the _events table.
type Event struct {
	ID           string         `json:"id"`
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID *string        `json:"parent_span_id"`
	EventType    string         `json:"event_type"`
	Source       string         `json:"source"`
	Component    string         `json:"component"`
	Action       string         `json:"action"`
	Entity       *string        `json:"entity"`
	RecordID     *string        `json:"record_id"`
	UserID       *string        `json:"user_id"`
	DurationMs   *float64       `json:"duration_ms"`
	Status       *string        `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// EntryOp names a write to a content entry.
type EntryOp string

const (
	EntryCreated   EntryOp = "entry.create"
	EntryUpdated   EntryOp = "entry.update"
	EntryDeleted   EntryOp = "entry.delete"
	EntryPublished EntryOp = "entry.publish"
)

// DeniedAction is the event action recorded for refused checks.
const DeniedAction = "authz.denied"

// Denial is an authorization check that was refused.
type Denial struct {
	Action     string
	Subject    string
	DocumentID string
	Decision   authz.Decision
}

type traceKey struct{}

// trace is the per-request state carried in a context. Helpers that change
// it store a modified copy, so parent contexts are never affected.
type trace struct {
	id     string
	parent string
	userID string
	sink   Sink
}

func traceFrom(ctx context.Context) trace {
	t, _ := ctx.Value(traceKey{}).(trace)
	return t
}

func (t trace) into(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// emit fills in the trace fields and hands e to the sink. Without a sink
// (instrumentation off or the request sampled out) it does nothing.
func (t trace) emit(e Event) {
	if t.sink == nil {
		return
	}
	e.ID = uuid.NewString()
	e.TraceID = t.id
	e.CreatedAt = time.Now().UTC()
	if t.parent != "" {
		parent := t.parent
		e.ParentSpanID = &parent
	}
	if e.UserID == nil && t.userID != "" {
		user := t.userID
		e.UserID = &user
	}
	t.sink.Enqueue(e)
}

// Begin starts a trace. Spans and records made under the returned context
// are delivered to sink.
func Begin(ctx context.Context, traceID string, sink Sink) context.Context {
	return trace{id: traceID, sink: sink}.into(ctx)
}

// TraceID returns the id of the trace ctx belongs to, or "".
func TraceID(ctx context.Context) string {
	return traceFrom(ctx).id
}

// WithUserID attributes later spans and records to the given user.
func WithUserID(ctx context.Context, userID string) context.Context {
	t := traceFrom(ctx)
	t.userID = userID
	return t.into(ctx)
}

// RecordEntry records a successful write to a content entry. fields lists
// the attributes that were changed, if any.
func RecordEntry(ctx context.Context, op EntryOp, subject, documentID string, fields []string) {
	var meta map[string]any
	if len(fields) > 0 {
		meta = map[string]any{"fields": fields}
	}
	traceFrom(ctx).emit(business("content", string(op), subject, documentID, meta))
}

// RecordDenial records a refused authorization check with the reason and
// the permission that was examined.
func RecordDenial(ctx context.Context, d Denial) {
	traceFrom(ctx).emit(business("authz", DeniedAction, d.Subject, d.DocumentID, map[string]any{
		"action":     d.Action,
		"subject":    d.Subject,
		"reason":     string(d.Decision.Reason),
		"role":       d.Decision.Role,
		"permission": d.Decision.PermissionID,
	}))
}

func business(component, action, subject, documentID string, meta map[string]any) Event {
	e := Event{
		SpanID:    uuid.NewString(),
		EventType: "business",
		Source:    "business",
		Component: component,
		Action:    action,
		Metadata:  meta,
	}
	if subject != "" {
		e.Entity = &subject
	}
	if documentID != "" {
		e.RecordID = &documentID
	}
	return e
}
