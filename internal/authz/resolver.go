package authz

// Candidate is a permission that matches a requested action and subject,
// together with the role that granted it.
type Candidate struct {
	Role       string
	Permission Permission
}

// Resolve returns every permission held through roles whose action and
// subject equal the requested ones. Matching is exact string equality.
//
// Candidates are ordered by role load order, then by the order permissions
// were declared on the role. Unknown and duplicate role ids are ignored. An
// empty result is a valid "no capability" answer, not an error.
func (ps *PolicySet) Resolve(roles []string, action, subject string) []Candidate {
	shared := ps.candidates(roles, action, subject)
	if len(shared) == 0 {
		return nil
	}
	return append([]Candidate(nil), shared...)
}

// candidates returns the memoised slice; callers must not modify it.
func (ps *PolicySet) candidates(roles []string, action, subject string) []Candidate {
	if len(roles) == 0 {
		return nil
	}

	key := resolveKey(roles, action, subject)
	if cached, ok := ps.resolve.Load(key); ok {
		return cached.([]Candidate)
	}

	held := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		held[r] = struct{}{}
	}

	var out []Candidate
	ik := indexKey(action, subject)
	for _, roleID := range ps.order {
		if _, ok := held[roleID]; !ok {
			continue
		}
		for _, perm := range ps.byRole[roleID][ik] {
			out = append(out, Candidate{Role: roleID, Permission: perm})
		}
	}

	actual, _ := ps.resolve.LoadOrStore(key, out)
	return actual.([]Candidate)
}
