package metadata

import (
	"sort"
	"sync"
	"sync/atomic"

	"rocket-cms/internal/authz"
)

// Registry holds the content types and role permissions currently in
// effect. Readers always see one complete snapshot: Load builds a new
// snapshot and swaps it in atomically.
type Registry struct {
	current atomic.Pointer[snapshot]

	// reloadMu serializes LoadAll so a slower reload can never overwrite
	// the snapshot of a later one.
	reloadMu sync.Mutex
}

type snapshot struct {
	contentTypes map[string]*ContentType
	policies     *authz.PolicySet
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{
		contentTypes: make(map[string]*ContentType),
		policies:     authz.NewPolicySet(nil),
	})
	return r
}

// GetContentType returns the content type with the given uid, or nil.
func (r *Registry) GetContentType(uid string) *ContentType {
	return r.current.Load().contentTypes[uid]
}

// AllContentTypes returns all registered content types sorted by uid.
func (r *Registry) AllContentTypes() []*ContentType {
	snap := r.current.Load()
	types := make([]*ContentType, 0, len(snap.contentTypes))
	for _, ct := range snap.contentTypes {
		types = append(types, ct)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].UID < types[j].UID })
	return types
}

// Policies returns the current role/permission snapshot. It satisfies
// authz.PolicySource.
func (r *Registry) Policies() *authz.PolicySet {
	return r.current.Load().policies
}

// Load replaces content types and roles in one step.
// Called during startup and after admin mutations.
func (r *Registry) Load(contentTypes []*ContentType, roles []authz.Role) {
	snap := &snapshot{
		contentTypes: make(map[string]*ContentType, len(contentTypes)),
		policies:     authz.NewPolicySet(roles),
	}
	for _, ct := range contentTypes {
		snap.contentTypes[ct.UID] = ct
	}
	r.current.Store(snap)
}
