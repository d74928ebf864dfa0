package metta

import (
	"sync"
	"sync/atomic"
)

// Environment owns the two legitimate process-wide caches named in
// ("Global state"): the state-cell table and named-space
// registry. Both are explicitly exempt from any space's Copy-on-Write
// semantics — : "States and named spaces are explicitly exempt
// from CoW ... true shared mutable cells with cross-clone visibility".
// Everything else "global-looking" (symbol interning, fuzzy/scope
// registries) is parameterized per Space for testability, as // requires.
type Environment struct {
	mu          sync.RWMutex
	states      map[uint64]Term
	namedSpaces map[string]*Space
	spacesByID  map[uint64]*Space

	nextStateID atomic.Uint64
	nextMemoID  atomic.Uint64
}

// NewEnvironment creates an environment with empty state and
// named-space tables.
func NewEnvironment() *Environment {
	return &Environment{
		states:      make(map[uint64]Term),
		namedSpaces: make(map[string]*Space),
		spacesByID:  make(map[uint64]*Space),
	}
}

// NewState allocates a fresh mutable cell holding initial, returning its
// handle. Cell contents are globally visible — no CoW on mutation,
// matching MeTTa's observable change-state! semantics.
func (e *Environment) NewState(initial Term) StateHandle {
	id := e.nextStateID.Add(1)
	e.mu.Lock()
	e.states[id] = initial
	e.mu.Unlock()
	return StateHandle{ID: id}
}

// GetState returns the current contents of h, or Empty if unknown.
func (e *Environment) GetState(h StateHandle) Term {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if t, ok := e.states[h.ID]; ok {
		return t
	}
	return Empty{}
}

// ChangeState overwrites the contents of h in place, visible to every
// handle sharing h.ID regardless of which fork performed the mutation.
func (e *Environment) ChangeState(h StateHandle, value Term) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[h.ID] = value
}

// RegisterSpace makes space queryable by name via the named-space
// registry. Registering the same name again replaces the previous
// binding.
func (e *Environment) RegisterSpace(name string, space *Space) SpaceHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	space.name = name
	e.namedSpaces[name] = space
	e.spacesByID[space.id] = space
	return space.Handle()
}

// LookupSpace resolves a named space registered with RegisterSpace.
func (e *Environment) LookupSpace(name string) (*Space, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.namedSpaces[name]
	return s, ok
}

// LookupSpaceByID resolves any space previously registered by ID, named
// or anonymous — in particular, a space produced by ForkSpaceForBranch,
// which only ever registers by ID since a branch fork has no name of its
// own.
func (e *Environment) LookupSpaceByID(id uint64) (*Space, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.spacesByID[id]
	return s, ok
}

// ForkSpaceForBranch produces an isolated copy of space for one
// nondeterministic branch and registers it by ID, so later handle
// lookups (vm.go's lookupSpaceByHandle) resolve to the isolated copy
// instead of the original space the branch forked from.
func (e *Environment) ForkSpaceForBranch(space *Space) *Space {
	fork := space.ForkForNondeterminism()
	e.mu.Lock()
	e.spacesByID[fork.id] = fork
	e.mu.Unlock()
	return fork
}

// NewMemoHandle allocates a fresh, uniquely identified memoization-table
// handle. Only the handle is allocated; no memo table is created or
// attached to its ID.
func (e *Environment) NewMemoHandle(name string) MemoHandle {
	id := e.nextMemoID.Add(1)
	return MemoHandle{ID: id, Name: name}
}

// ForkBindingsSpaceHandles rewrites every SpaceHandle embedded in
// bindings' bound values so that references to oldID instead resolve to
// newSpace, completing the fork_for_nondeterminism primitive required by
// invariant 7: "Forking additionally rewrites every
// space-handle contained in any value in the clone's bindings to point at
// an isolated space — this is the primitive that makes nondeterministic
// branches independent."
func (e *Environment) ForkBindingsSpaceHandles(bindings *Bindings, oldID uint64, newSpace *Space) *Bindings {
	if bindings == nil {
		return bindings
	}
	rewritten := NewBindings()
	for name, t := range bindings.values {
		rewritten.values[name] = rewriteSpaceHandle(t, oldID, newSpace)
	}
	return rewritten
}

// collectSpaceHandleIDs appends every distinct SpaceHandle ID reachable
// from t into *ids, using seen to dedupe across repeated calls over
// several terms/bindings that may share handles.
func collectSpaceHandleIDs(t Term, seen map[uint64]bool, ids *[]uint64) {
	switch v := t.(type) {
	case SpaceHandle:
		if !seen[v.ID] {
			seen[v.ID] = true
			*ids = append(*ids, v.ID)
		}
	case Expression:
		for _, it := range v.Items {
			collectSpaceHandleIDs(it, seen, ids)
		}
	case Conjunction:
		for _, it := range v.Items {
			collectSpaceHandleIDs(it, seen, ids)
		}
	}
}

func rewriteSpaceHandle(t Term, oldID uint64, newSpace *Space) Term {
	switch v := t.(type) {
	case SpaceHandle:
		if v.ID == oldID {
			return newSpace.Handle()
		}
		return v
	case Expression:
		items := make([]Term, len(v.Items))
		for i, it := range v.Items {
			items[i] = rewriteSpaceHandle(it, oldID, newSpace)
		}
		return Expression{Items: items}
	case Conjunction:
		items := make([]Term, len(v.Items))
		for i, it := range v.Items {
			items[i] = rewriteSpaceHandle(it, oldID, newSpace)
		}
		return Conjunction{Items: items}
	default:
		return t
	}
}
