// Package authz decides whether an actor may perform an action on a content
// entry. Decisions combine the permissions granted by the actor's roles with
// named conditions evaluated against the entry's creator snapshot.
//
// Everything in this package is a pure computation over values that are
// already in memory: it performs no I/O and never mutates its inputs.
package authz

// Actor is the authenticated caller of a request. Roles holds the role ids
// the actor holds at request time.
type Actor struct {
	ID    string
	Roles []string
}

// HasRole reports whether the actor currently holds the given role id.
func (a Actor) HasRole(roleID string) bool {
	for _, r := range a.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Entry is the content record an action targets.
//
// CreatedBy and CreatorRoles are the creator snapshot: captured once when the
// entry is written and never updated afterwards, even if the creator's roles
// change later. Conditions evaluate against this snapshot, not against the
// creator's current state.
type Entry struct {
	DocumentID   string
	ContentType  string
	CreatedBy    string
	CreatorRoles []string
	Fields       map[string]any
}

// Reason is a diagnostic tag explaining a decision. It is for logs and
// audit only; callers must not expose it to the actor.
type Reason string

const (
	ReasonGranted          Reason = "granted"
	ReasonNoCapability     Reason = "no-capability"
	ReasonConditionFailed  Reason = "condition-failed"
	ReasonUnknownCondition Reason = "unknown-condition"
)

// Decision is the outcome of a single authorization check.
type Decision struct {
	Allowed bool
	// Fields is the attribute restriction of the granting permission(s).
	// Nil means unrestricted.
	Fields []string
	Reason Reason
	// Role and PermissionID identify the first permission that qualified
	// (on ALLOW) or the first candidate examined (on DENY), for auditing.
	Role         string
	PermissionID string
}

// Restricted reports whether the decision limits the visible attributes.
func (d Decision) Restricted() bool {
	return d.Fields != nil
}

// FieldAllowed reports whether the named attribute is covered by the
// decision's field restriction.
func (d Decision) FieldAllowed(name string) bool {
	if d.Fields == nil {
		return true
	}
	for _, f := range d.Fields {
		if f == name {
			return true
		}
	}
	return false
}
