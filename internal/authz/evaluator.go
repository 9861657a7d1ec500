package authz

import (
	"go.uber.org/zap"
)

// Evaluation is the result of checking one permission's conditions.
type Evaluation struct {
	Passed bool
	// Failed is the first condition that did not hold, if any.
	Failed string
	// Unknown lists condition ids that were not registered. They count as
	// false but are reported apart from ordinary failures.
	Unknown []string
}

// Evaluator checks condition sets against an actor and an entry.
type Evaluator struct {
	conditions *ConditionRegistry
	logger     *zap.Logger
	metrics    *Metrics
}

// NewEvaluator builds an evaluator backed by the given registry.
func NewEvaluator(conditions *ConditionRegistry, logger *zap.Logger, metrics *Metrics) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{conditions: conditions, logger: logger, metrics: metrics}
}

// Evaluate reports whether every condition holds. Conditions run in the
// given order and evaluation stops at the first false one. An empty set
// passes.
func (e *Evaluator) Evaluate(conditions []string, actor Actor, entry Entry) Evaluation {
	for _, id := range conditions {
		cond, err := e.conditions.Resolve(id)
		if err != nil {
			e.reportUnknown(id, entry)
			return Evaluation{Failed: id, Unknown: []string{id}}
		}
		if !cond.Evaluate(actor, entry) {
			return Evaluation{Failed: id}
		}
	}
	return Evaluation{Passed: true}
}

func (e *Evaluator) reportUnknown(id string, entry Entry) {
	e.logger.Warn("permission references unregistered condition",
		zap.String("condition", id),
		zap.String("content_type", entry.ContentType),
		zap.String("document_id", entry.DocumentID),
	)
	e.metrics.unknownCondition(id)
}
