package content

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"rocket-cms/internal/instrument"
	"rocket-cms/internal/metadata"
)

// ValidateEntry checks fields against the content type's attributes and
// rules. old is nil on create.
func ValidateEntry(ctx context.Context, ct *metadata.ContentType, fields, old map[string]any, isCreate bool) []ErrorDetail {
	_, span := instrument.StartSpan(ctx, "rules", "rules.evaluate")
	defer span.End()
	span.SetSubject(ct.UID, "")

	errs := ValidateAttributes(ct, fields, isCreate)
	if len(errs) > 0 {
		span.Fail()
		return errs
	}

	action := "update"
	if isCreate {
		action = "create"
	}
	env := map[string]any{
		"record": fields,
		"old":    old,
		"action": action,
	}

	// 1. Field rules
	for i := range ct.Rules {
		r := &ct.Rules[i]
		if r.Type != metadata.RuleField {
			continue
		}
		if detail := EvaluateFieldRule(r, fields); detail != nil {
			errs = append(errs, *detail)
			if r.StopOnFail {
				span.Fail()
				return errs
			}
		}
	}

	// 2. Expression rules
	for i := range ct.Rules {
		r := &ct.Rules[i]
		if r.Type != metadata.RuleExpression {
			continue
		}
		if detail := EvaluateExpressionRule(r, env); detail != nil {
			errs = append(errs, *detail)
			if r.StopOnFail {
				span.Fail()
				return errs
			}
		}
	}

	if len(errs) > 0 {
		span.Fail()
	}
	return errs
}

// ValidateAttributes checks attribute names, types, required flags and the
// min/max/maxLength constraints declared on attributes.
func ValidateAttributes(ct *metadata.ContentType, fields map[string]any, isCreate bool) []ErrorDetail {
	var errs []ErrorDetail

	for name := range fields {
		if !ct.HasAttribute(name) {
			errs = append(errs, ErrorDetail{Field: name, Rule: "unknown", Message: fmt.Sprintf("unknown attribute %s", name)})
		}
	}

	for _, name := range ct.AttributeNames() {
		attr := ct.Attributes[name]
		val, present := fields[name]
		if val == nil {
			if attr.Required && (isCreate || present) {
				errs = append(errs, ErrorDetail{Field: name, Rule: "required", Message: fmt.Sprintf("%s is required", name)})
			}
			continue
		}

		if !typeMatches(attr.Type, val) {
			errs = append(errs, ErrorDetail{Field: name, Rule: "type", Message: fmt.Sprintf("%s must be of type %s", name, attr.Type)})
			continue
		}

		if num, ok := toFloat64(val); ok {
			if attr.Min != nil && num < *attr.Min {
				errs = append(errs, ErrorDetail{Field: name, Rule: "min", Message: fmt.Sprintf("%s must be at least %g", name, *attr.Min)})
			}
			if attr.Max != nil && num > *attr.Max {
				errs = append(errs, ErrorDetail{Field: name, Rule: "max", Message: fmt.Sprintf("%s must be at most %g", name, *attr.Max)})
			}
		}
		if s, ok := val.(string); ok && attr.MaxLength > 0 && len([]rune(s)) > attr.MaxLength {
			errs = append(errs, ErrorDetail{Field: name, Rule: "max_length", Message: fmt.Sprintf("%s must be at most %d characters", name, attr.MaxLength)})
		}
	}
	return errs
}

func typeMatches(attrType string, val any) bool {
	switch attrType {
	case metadata.AttrString, metadata.AttrText:
		_, ok := val.(string)
		return ok
	case metadata.AttrInteger:
		num, ok := toFloat64(val)
		return ok && num == math.Trunc(num)
	case metadata.AttrFloat:
		_, ok := toFloat64(val)
		return ok
	case metadata.AttrBoolean:
		_, ok := val.(bool)
		return ok
	case metadata.AttrJSON:
		return true
	}
	return false
}

// EvaluateFieldRule evaluates a single field rule against a record.
// Returns nil if the rule passes, or an ErrorDetail if it fails.
func EvaluateFieldRule(rule *metadata.Rule, record map[string]any) *ErrorDetail {
	fieldName := rule.Field
	val, exists := record[fieldName]
	if !exists || val == nil {
		return nil // absent fields are not checked by field rules (use "required" for that)
	}

	op := rule.Operator
	msg := rule.Message
	if msg == "" {
		msg = fmt.Sprintf("field %s failed %s validation", fieldName, op)
	}

	switch op {
	case "min", "max":
		num, ok := toFloat64(val)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(rule.Value)
		if !ok {
			return nil
		}
		if (op == "min" && num < threshold) || (op == "max" && num > threshold) {
			return &ErrorDetail{Field: fieldName, Rule: op, Message: msg}
		}

	case "min_length", "max_length":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(rule.Value)
		if !ok {
			return nil
		}
		n := len([]rune(s))
		if (op == "min_length" && n < int(threshold)) || (op == "max_length" && n > int(threshold)) {
			return &ErrorDetail{Field: fieldName, Rule: op, Message: msg}
		}

	case "pattern":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		pattern, ok := rule.Value.(string)
		if !ok {
			return nil
		}
		matched, err := regexp.MatchString(pattern, s)
		if err != nil || !matched {
			return &ErrorDetail{Field: fieldName, Rule: "pattern", Message: msg}
		}
	}

	return nil
}

var programs sync.Map // expression -> *vm.Program

// CompileExpression compiles an expression string into an expr-lang program.
func CompileExpression(expression string) (*vm.Program, error) {
	if prog, ok := programs.Load(expression); ok {
		return prog.(*vm.Program), nil
	}
	prog, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	programs.Store(expression, prog)
	return prog, nil
}

// EvaluateExpressionRule evaluates an expression rule against an environment.
// The env should contain: record, old, action.
// Returns nil if the rule passes (expression is false), or an ErrorDetail if violated (expression is true).
func EvaluateExpressionRule(rule *metadata.Rule, env map[string]any) *ErrorDetail {
	prog, err := CompileExpression(rule.Expression)
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("compile error: %v", err)}
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("rule evaluation error: %v", err)}
	}

	violated, ok := result.(bool)
	if !ok {
		return nil
	}

	if violated {
		msg := rule.Message
		if msg == "" {
			msg = "Expression rule violated"
		}
		return &ErrorDetail{Rule: "expression", Message: msg}
	}

	return nil
}

// toFloat64 converts numeric types to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
