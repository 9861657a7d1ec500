package authz

import (
	"sort"

	"go.uber.org/zap"
)

// PolicySource hands out the current policy snapshot. Implementations swap
// snapshots atomically; the engine reads one snapshot per operation.
type PolicySource interface {
	Policies() *PolicySet
}

// Engine is the single entry point request handlers use for authorization.
type Engine struct {
	source    PolicySource
	evaluator *Evaluator
	metrics   *Metrics
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for configuration warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics enables decision counters.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine wires an engine to a policy source and a condition registry.
func NewEngine(source PolicySource, conditions *ConditionRegistry, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.evaluator = NewEvaluator(conditions, e.logger, e.metrics)
	return e
}

// Decide reports whether actor may perform action on the entry of the given
// subject type. The actor is allowed when at least one of its permissions
// for (action, subject) has all of its conditions satisfied by the entry.
func (e *Engine) Decide(actor Actor, action, subject string, entry Entry) Decision {
	d := e.decide(e.snapshot(), actor, action, subject, entry)
	e.metrics.decision(action, d)
	return d
}

// DecideAll runs Decide for every entry against a single policy snapshot.
// The returned slice is index-aligned with entries.
func (e *Engine) DecideAll(actor Actor, action, subject string, entries []Entry) []Decision {
	ps := e.snapshot()
	out := make([]Decision, len(entries))
	for i, entry := range entries {
		out[i] = e.decide(ps, actor, action, subject, entry)
		e.metrics.decision(action, out[i])
	}
	return out
}

// Filter keeps the entries the actor may act on, in their input order.
func (e *Engine) Filter(actor Actor, action, subject string, entries []Entry) []Entry {
	decisions := e.DecideAll(actor, action, subject, entries)
	out := make([]Entry, 0, len(entries))
	for i, d := range decisions {
		if d.Allowed {
			out = append(out, entries[i])
		}
	}
	return out
}

// DecideEach is DecideAll for entries of mixed content types: each entry
// is decided against its own ContentType as the subject. All entries share
// one policy snapshot.
func (e *Engine) DecideEach(actor Actor, action string, entries []Entry) []Decision {
	ps := e.snapshot()
	out := make([]Decision, len(entries))
	for i, entry := range entries {
		out[i] = e.decide(ps, actor, action, entry.ContentType, entry)
		e.metrics.decision(action, out[i])
	}
	return out
}

// Can reports whether the actor holds any permission for (action, subject),
// conditional or not. It never inspects an entry.
func (e *Engine) Can(actor Actor, action, subject string) bool {
	return len(e.snapshot().candidates(actor.Roles, action, subject)) > 0
}

func (e *Engine) snapshot() *PolicySet {
	if e.source == nil {
		return emptyPolicySet
	}
	if ps := e.source.Policies(); ps != nil {
		return ps
	}
	return emptyPolicySet
}

var emptyPolicySet = NewPolicySet(nil)

func (e *Engine) decide(ps *PolicySet, actor Actor, action, subject string, entry Entry) Decision {
	candidates := ps.candidates(actor.Roles, action, subject)
	if len(candidates) == 0 {
		return Decision{Reason: ReasonNoCapability}
	}

	deny := Decision{
		Reason:       ReasonConditionFailed,
		Role:         candidates[0].Role,
		PermissionID: candidates[0].Permission.ID,
	}

	var granted *Decision
	fields := make(map[string]struct{})

	for _, c := range candidates {
		ev := e.evaluator.Evaluate(c.Permission.Conditions, actor, entry)
		if !ev.Passed {
			if len(ev.Unknown) > 0 {
				deny.Reason = ReasonUnknownCondition
			}
			continue
		}

		if granted == nil {
			granted = &Decision{
				Allowed:      true,
				Reason:       ReasonGranted,
				Role:         c.Role,
				PermissionID: c.Permission.ID,
			}
		}
		if c.Permission.Fields == nil {
			granted.Fields = nil
			return *granted
		}
		for _, f := range c.Permission.Fields {
			fields[f] = struct{}{}
		}
	}

	if granted == nil {
		return deny
	}

	granted.Fields = make([]string, 0, len(fields))
	for f := range fields {
		granted.Fields = append(granted.Fields, f)
	}
	sort.Strings(granted.Fields)
	return *granted
}
