package authz

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Built-in condition identifiers.
const (
	ConditionIsCreator            = "admin::is-creator"
	ConditionHasSameRoleAsCreator = "admin::has-same-role-as-creator"
)

// ErrUnknownCondition is returned when a permission references a condition
// id that was never registered. It signals a configuration problem, not an
// access refusal.
var ErrUnknownCondition = errors.New("authz: unknown condition")

var (
	errEmptyConditionID = errors.New("authz: condition id is required")
	errNilCondition     = errors.New("authz: nil condition")
)

// Condition is a named predicate over an actor and an entry. Implementations
// must be pure and safe for concurrent use.
type Condition interface {
	Evaluate(actor Actor, entry Entry) bool
}

// ConditionFunc adapts an ordinary function to the Condition interface.
type ConditionFunc func(actor Actor, entry Entry) bool

func (f ConditionFunc) Evaluate(actor Actor, entry Entry) bool {
	return f(actor, entry)
}

// ConditionRegistry maps condition ids to predicates. It is filled at
// process start and only read afterwards.
type ConditionRegistry struct {
	mu         sync.RWMutex
	conditions map[string]Condition
}

// NewConditionRegistry returns a registry holding the built-in conditions.
func NewConditionRegistry() *ConditionRegistry {
	r := &ConditionRegistry{conditions: make(map[string]Condition)}
	r.conditions[ConditionIsCreator] = ConditionFunc(IsCreator)
	r.conditions[ConditionHasSameRoleAsCreator] = ConditionFunc(HasSameRoleAsCreator)
	return r
}

// Register adds a condition, replacing any previous one with the same id.
func (r *ConditionRegistry) Register(id string, cond Condition) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errEmptyConditionID
	}
	if cond == nil {
		return errNilCondition
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions[id] = cond
	return nil
}

// Resolve returns the condition registered under id. The error wraps
// ErrUnknownCondition when nothing is registered.
func (r *ConditionRegistry) Resolve(id string) (Condition, error) {
	r.mu.RLock()
	cond, ok := r.conditions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownCondition, id)
	}
	return cond, nil
}

// Has reports whether a condition is registered under id.
func (r *ConditionRegistry) Has(id string) bool {
	_, err := r.Resolve(id)
	return err == nil
}

// IDs returns the registered condition ids in sorted order.
func (r *ConditionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conditions))
	for id := range r.conditions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsCreator holds when the actor created the entry.
func IsCreator(actor Actor, entry Entry) bool {
	return entry.CreatedBy != "" && entry.CreatedBy == actor.ID
}

// HasSameRoleAsCreator holds when the actor currently holds at least one of
// the roles the creator held when the entry was created. The creator always
// satisfies it.
func HasSameRoleAsCreator(actor Actor, entry Entry) bool {
	if IsCreator(actor, entry) {
		return true
	}
	for _, creatorRole := range entry.CreatorRoles {
		if actor.HasRole(creatorRole) {
			return true
		}
	}
	return false
}
