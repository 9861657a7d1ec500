package authz

import (
	"sort"
	"strings"
	"sync"
)

// Permission grants one action on one subject type, optionally limited to a
// set of attributes and gated by conditions. Fields == nil means the
// permission covers every attribute.
type Permission struct {
	ID         string   `json:"id"`
	RoleID     string   `json:"role"`
	Action     string   `json:"action"`
	Subject    string   `json:"subject"`
	Fields     []string `json:"fields"`
	Conditions []string `json:"conditions"`
}

// Role is a named bundle of permissions.
type Role struct {
	ID          string       `json:"id"`
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

// PolicySet is an immutable snapshot of roles and their permissions. It is
// built once per load and shared read-only between concurrent decisions.
type PolicySet struct {
	roles   map[string]*Role
	order   []string
	byRole  map[string]map[string][]Permission // role id -> action|subject -> permissions
	resolve sync.Map                           // memo: resolveKey -> []Candidate
}

// NewPolicySet copies roles into a new snapshot. Later changes to the
// argument do not affect the snapshot.
func NewPolicySet(roles []Role) *PolicySet {
	ps := &PolicySet{
		roles:  make(map[string]*Role, len(roles)),
		byRole: make(map[string]map[string][]Permission, len(roles)),
	}

	for _, role := range roles {
		cp := cloneRole(role)
		if _, exists := ps.roles[cp.ID]; !exists {
			ps.order = append(ps.order, cp.ID)
		}
		ps.roles[cp.ID] = &cp

		index := make(map[string][]Permission)
		for i := range cp.Permissions {
			cp.Permissions[i].RoleID = cp.ID
			perm := cp.Permissions[i]
			key := indexKey(perm.Action, perm.Subject)
			index[key] = append(index[key], perm)
		}
		ps.byRole[cp.ID] = index
	}

	return ps
}

// Role returns a copy of the role with the given id.
func (ps *PolicySet) Role(id string) (Role, bool) {
	role, ok := ps.roles[id]
	if !ok {
		return Role{}, false
	}
	return cloneRole(*role), true
}

// Roles returns copies of all roles in load order.
func (ps *PolicySet) Roles() []Role {
	out := make([]Role, 0, len(ps.order))
	for _, id := range ps.order {
		out = append(out, cloneRole(*ps.roles[id]))
	}
	return out
}

func indexKey(action, subject string) string {
	return action + "|" + subject
}

func cloneRole(role Role) Role {
	cp := role
	if role.Permissions != nil {
		cp.Permissions = make([]Permission, len(role.Permissions))
		for i, perm := range role.Permissions {
			cp.Permissions[i] = clonePermission(perm)
		}
	}
	return cp
}

func clonePermission(perm Permission) Permission {
	cp := perm
	if perm.Fields != nil {
		cp.Fields = append([]string{}, perm.Fields...)
	}
	if perm.Conditions != nil {
		cp.Conditions = append([]string{}, perm.Conditions...)
	}
	return cp
}

// resolveKey normalises the role set so that permutations of the same
// roles share a memo entry.
func resolveKey(roles []string, action, subject string) string {
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	var b strings.Builder
	for _, r := range sorted {
		b.WriteString(r)
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(indexKey(action, subject))
	return b.String()
}
