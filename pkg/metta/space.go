package metta

import (
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Rule is the pair (lhs, rhs) of a rewrite rule, stored in the owning
// space as the expression `(= lhs rhs)` and indexed by (head(lhs),
// arity(lhs)) in the rule index.
type Rule struct {
	LHS Term
	RHS Term
}

// AsExpression returns the canonical `(= lhs rhs)` form that is the
// single source of truth stored in the space's trie.
func (r Rule) AsExpression() Expression {
	return NewExpression(NewSymbol("="), r.LHS, r.RHS)
}

type ruleKey struct {
	head  string
	arity int
}

func ruleKeyFor(lhs Term) (ruleKey, bool) {
	expr, ok := lhs.(Expression)
	if !ok {
		return ruleKey{}, false
	}
	head, ok := expr.HeadSymbol()
	if !ok {
		return ruleKey{}, false
	}
	return ruleKey{head: head, arity: expr.Arity()}, true
}

// ruleEntry pairs a Rule with its canonical encoding. Multiplicity is
// carried by repetition: asserting the same rule N times stores N entries
// in the rule index, so dispatch tries the rule N times.
type ruleEntry struct {
	rule       Rule
	bytes      string // canonical encoding of AsExpression(), used as the multiplicity key
}

// spaceData is the collection of owned tables behind a Space's
// shared-pointer. Grounded on pldb.go's Database, whose AddFact/
// RemoveFact clone the touched relationData while sharing untouched
// ones; here the whole bundle is copied as one unit on first write after
// a Clone() — deep-copy on first mutation, in-place thereafter.
//
// A finer-grained design could give the trie, rule index, multiplicity
// table, and bloom filter each their own RWLock. We use a single
// sync.RWMutex per Space instead, matching pldb.go's own idiom (its
// FactIndex, ConstraintStore, and Database types each use exactly one mu
// per struct) rather than a more granular table — none of Space's
// observable properties requires proving independent lock granularity,
// and a single lock keeps its invariants easy to audit.
type spaceData struct {
	trie         map[string]Term       // primary trie: canonical encoded bytes -> term
	fallback     map[FallbackKey]Term  // arity >= 64 fallback store
	ruleIndex    map[ruleKey][]*ruleEntry
	wildcard     []*ruleEntry
	multiplicity map[string]int // canonical rule bytes -> assertion count
	typeIndex    map[string]Term
	typeDirty    bool
	bloom        *bloomFilter
	patternLRU   *lru.Cache[string, []byte] // ground-pattern string -> encoded bytes
	symbols      map[string]string          // symbol registry (supplemented feature)
	fuzzy        map[string]string          // fuzzy-match registry (supplemented feature)
	scope        map[string]string          // scope-tracking registry (supplemented feature)
}

func newSpaceData() *spaceData {
	c, _ := lru.New[string, []byte](4096)
	return &spaceData{
		trie:         make(map[string]Term),
		fallback:     make(map[FallbackKey]Term),
		ruleIndex:    make(map[ruleKey][]*ruleEntry),
		multiplicity: make(map[string]int),
		typeIndex:    make(map[string]Term),
		bloom:        newBloomFilter(1024),
		patternLRU:   c,
		symbols:      make(map[string]string),
		fuzzy:        make(map[string]string),
		scope:        make(map[string]string),
	}
}

func (d *spaceData) clone() *spaceData {
	nd := &spaceData{
		trie:         make(map[string]Term, len(d.trie)),
		fallback:     make(map[FallbackKey]Term, len(d.fallback)),
		ruleIndex:    make(map[ruleKey][]*ruleEntry, len(d.ruleIndex)),
		multiplicity: make(map[string]int, len(d.multiplicity)),
		typeIndex:    make(map[string]Term, len(d.typeIndex)),
		typeDirty:    d.typeDirty,
		bloom:        d.bloom.clone(),
		symbols:      make(map[string]string, len(d.symbols)),
		fuzzy:        make(map[string]string, len(d.fuzzy)),
		scope:        make(map[string]string, len(d.scope)),
	}
	nc, _ := lru.New[string, []byte](4096)
	nd.patternLRU = nc
	for k, v := range d.trie {
		nd.trie[k] = v
	}
	for k, v := range d.fallback {
		nd.fallback[k] = v
	}
	for k, entries := range d.ruleIndex {
		cp := make([]*ruleEntry, len(entries))
		copy(cp, entries)
		nd.ruleIndex[k] = cp
	}
	nd.wildcard = make([]*ruleEntry, len(d.wildcard))
	copy(nd.wildcard, d.wildcard)
	for k, v := range d.multiplicity {
		nd.multiplicity[k] = v
	}
	for k, v := range d.typeIndex {
		nd.typeIndex[k] = v
	}
	for k, v := range d.symbols {
		nd.symbols[k] = v
	}
	for k, v := range d.fuzzy {
		nd.fuzzy[k] = v
	}
	for k, v := range d.scope {
		nd.scope[k] = v
	}
	return nd
}

// Space is a trie-backed content-addressed atom space.
// Cloning is O(1) (shares data); the first mutating call after a Clone
// deep-copies data via makeOwned, matching the Copy-on-Write contract.
type Space struct {
	mu    sync.RWMutex
	data  *spaceData
	owned bool

	id   uint64
	name string

	hasWildcardRules atomic.Bool // lets Dispatch skip the wildcard list when it is empty
}

var spaceIDCounter uint64

func nextSpaceID() uint64 { return atomic.AddUint64(&spaceIDCounter, 1) }

// NewSpace creates an empty, owned atom space.
func NewSpace(name string) *Space {
	return &Space{data: newSpaceData(), owned: true, id: nextSpaceID(), name: name}
}

// Handle returns the SpaceHandle term referring to this space.
func (s *Space) Handle() SpaceHandle { return SpaceHandle{ID: s.id, Name: s.name} }

// Clone returns an O(1) copy-on-write clone sharing data until the first
// mutation on either the clone or (if it mutates first) the original.
func (s *Space) Clone() *Space {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned = false // both sides must now copy-on-first-write
	clone := &Space{data: s.data, owned: false, id: nextSpaceID(), name: s.name}
	clone.hasWildcardRules.Store(s.hasWildcardRules.Load())
	return clone
}

// ForkForNondeterminism produces an isolated clone whose data is
// immediately private.
func (s *Space) ForkForNondeterminism() *Space {
	s.mu.RLock()
	dataCopy := s.data.clone()
	s.mu.RUnlock()
	fork := &Space{data: dataCopy, owned: true, id: nextSpaceID(), name: s.name}
	fork.hasWildcardRules.Store(s.hasWildcardRules.Load())
	return fork
}

// makeOwned must be called while holding s.mu (write lock) before any
// mutation; it is a no-op once this handle already owns a private copy.
func (s *Space) makeOwned() {
	if s.owned {
		return
	}
	s.data = s.data.clone()
	s.owned = true
}

// Add inserts a term into the space. If t is a rule expression `(= lhs
// rhs)`, it is additionally indexed by (head(lhs), arity(lhs)) and its
// multiplicity incremented.
func (s *Space) Add(t Term) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.makeOwned()
	s.insertLocked(t)
}

// AddBatch inserts many terms while holding the write lock once, a
// bulk-import path for loading a large fact set without a lock
// acquisition per term.
func (s *Space) AddBatch(terms []Term) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.makeOwned()
	for _, t := range terms {
		s.insertLocked(t)
	}
}

func (s *Space) insertLocked(t Term) {
	if HasOverflowArity(t) {
		key := NewFallbackKey(t)
		s.data.fallback[key] = t
	} else {
		key := string(EncodeTerm(t))
		s.data.trie[key] = t
	}

	if expr, ok := t.(Expression); ok && len(expr.Items) == 3 {
		if head, ok := expr.Items[0].(Symbol); ok && head.Name == "=" {
			rule := Rule{LHS: expr.Items[1], RHS: expr.Items[2]}
			s.indexRuleLocked(rule)
		}
	}
	if expr, ok := t.(Expression); ok && len(expr.Items) > 0 {
		if head, ok := expr.Items[0].(Symbol); ok && head.Name == ":" {
			s.data.typeDirty = true
		}
	}
	head, arity := dispatchKeyOf(t)
	s.data.bloom.Insert(head, arity)
}

func (s *Space) indexRuleLocked(rule Rule) {
	entry := &ruleEntry{rule: rule, bytes: string(EncodeTerm(rule.AsExpression()))}
	s.data.multiplicity[entry.bytes]++

	if key, ok := ruleKeyFor(rule.LHS); ok {
		s.data.ruleIndex[key] = append(s.data.ruleIndex[key], entry)
		return
	}
	s.data.wildcard = append(s.data.wildcard, entry)
	s.hasWildcardRules.Store(true)
}

// dispatchKeyOf returns the (head-bytes, arity) bloom key for a term.
func dispatchKeyOf(t Term) (string, int) {
	expr, ok := t.(Expression)
	if !ok {
		return t.String(), -1
	}
	if head, ok := expr.HeadSymbol(); ok {
		return head, expr.Arity()
	}
	return "", expr.Arity()
}

// Contains reports whether t is stored exactly (not up to unification).
func (s *Space) Contains(t Term) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if HasOverflowArity(t) {
		_, ok := s.data.fallback[NewFallbackKey(t)]
		return ok
	}
	_, ok := s.data.trie[string(EncodeTerm(t))]
	return ok
}

// Remove deletes the exact term t, if present, reporting whether it was.
func (s *Space) Remove(t Term) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.makeOwned()
	var existed bool
	if HasOverflowArity(t) {
		key := NewFallbackKey(t)
		_, existed = s.data.fallback[key]
		delete(s.data.fallback, key)
	} else {
		key := string(EncodeTerm(t))
		_, existed = s.data.trie[key]
		delete(s.data.trie, key)
	}
	if !existed {
		return false
	}
	s.removeRuleIndexLocked(t)
	head, arity := dispatchKeyOf(t)
	s.data.bloom.NoteDeletion(head, arity)
	return true
}

func (s *Space) removeRuleIndexLocked(t Term) {
	expr, ok := t.(Expression)
	if !ok || len(expr.Items) != 3 {
		return
	}
	head, ok := expr.Items[0].(Symbol)
	if !ok || head.Name != "=" {
		return
	}
	rule := Rule{LHS: expr.Items[1], RHS: expr.Items[2]}
	bytes := string(EncodeTerm(rule.AsExpression()))
	if s.data.multiplicity[bytes] > 0 {
		s.data.multiplicity[bytes]--
	}
	if key, ok := ruleKeyFor(rule.LHS); ok {
		entries := s.data.ruleIndex[key]
		for i, e := range entries {
			if e.bytes == bytes {
				s.data.ruleIndex[key] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		return
	}
	for i, e := range s.data.wildcard {
		if e.bytes == bytes {
			s.data.wildcard = append(s.data.wildcard[:i], s.data.wildcard[i+1:]...)
			break
		}
	}
	s.hasWildcardRules.Store(len(s.data.wildcard) > 0)
}

// RemoveMatching removes every term matching pattern, returning the
// removed terms. Implemented as match(pattern, pattern) followed by
// remove(each).
func (s *Space) RemoveMatching(pattern Term) []Term {
	matches := s.Match(pattern, pattern)
	for _, m := range matches {
		s.Remove(m)
	}
	return matches
}

// All returns every term stored in the space (primary trie + fallback),
// in an unspecified but stable-within-a-call order.
func (s *Space) All() []Term {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Term, 0, len(s.data.trie)+len(s.data.fallback))
	keys := make([]string, 0, len(s.data.trie))
	for k := range s.data.trie {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, s.data.trie[k])
	}
	for _, v := range s.data.fallback {
		out = append(out, v)
	}
	return out
}

// Match unifies pattern against every stored term and, for each success,
// applies the resulting bindings to template, collecting the results
//.
func (s *Space) Match(pattern, template Term) []Term {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head, arity := dispatchKeyOf(pattern)
	if head != "" && !s.data.bloom.MaybeContains(head, arity) {
		return nil
	}

	var results []Term
	for _, stored := range s.data.trie {
		if bindings, ok := Unify(pattern, stored, NewBindings()); ok {
			results = append(results, bindings.Apply(template))
		}
	}
	for _, stored := range s.data.fallback {
		if bindings, ok := Unify(pattern, stored, NewBindings()); ok {
			results = append(results, bindings.Apply(template))
		}
	}
	return results
}

// MatchFirst returns the first match (if any), short-circuiting the scan.
func (s *Space) MatchFirst(pattern, template Term) (Term, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head, arity := dispatchKeyOf(pattern)
	if head != "" && !s.data.bloom.MaybeContains(head, arity) {
		return nil, false
	}
	for _, stored := range s.data.trie {
		if bindings, ok := Unify(pattern, stored, NewBindings()); ok {
			return bindings.Apply(template), true
		}
	}
	for _, stored := range s.data.fallback {
		if bindings, ok := Unify(pattern, stored, NewBindings()); ok {
			return bindings.Apply(template), true
		}
	}
	return nil, false
}

// MatchExists reports whether any stored term unifies with pattern,
// skipping template application entirely.
func (s *Space) MatchExists(pattern Term) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head, arity := dispatchKeyOf(pattern)
	if head != "" && !s.data.bloom.MaybeContains(head, arity) {
		return false
	}
	for _, stored := range s.data.trie {
		if _, ok := Unify(pattern, stored, NewBindings()); ok {
			return true
		}
	}
	for _, stored := range s.data.fallback {
		if _, ok := Unify(pattern, stored, NewBindings()); ok {
			return true
		}
	}
	return false
}

// Dispatch returns every rule whose LHS unifies with expr, paired with
// the bindings produced. It tries the head/arity-indexed candidates
// first, then every wildcard rule (whose LHS head is itself a variable)
// — the fast-path flag skips the wildcard list entirely when no wildcard
// rules exist. The read lock is taken either way.
func (s *Space) Dispatch(expr Expression) []DispatchMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, _ := ruleKeyFor(expr)
	var candidates []*ruleEntry
	candidates = append(candidates, s.data.ruleIndex[key]...)
	if s.hasWildcardRules.Load() {
		candidates = append(candidates, s.data.wildcard...)
	}

	var out []DispatchMatch
	for _, c := range candidates {
		if bindings, ok := Unify(c.rule.LHS, expr, NewBindings()); ok {
			out = append(out, DispatchMatch{Rule: c.rule, Bindings: bindings})
		}
	}
	return out
}

// DispatchMatch pairs a candidate rule with the bindings produced by
// unifying its LHS against the call expression.
type DispatchMatch struct {
	Rule     Rule
	Bindings *Bindings
}

// Multiplicity returns how many times rule has been asserted.
func (s *Space) Multiplicity(rule Rule) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.multiplicity[string(EncodeTerm(rule.AsExpression()))]
}

// RegisterSymbol, RegisterFuzzyMatcher, and RegisterScope implement
// symbol/fuzzy-match/scope-tracking registries, owned per-space and
// CoW-cloned with the rest of the data.
func (s *Space) RegisterSymbol(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.makeOwned()
	s.data.symbols[name] = value
}

func (s *Space) LookupSymbol(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data.symbols[name]
	return v, ok
}

func (s *Space) RegisterFuzzyMatcher(name, pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.makeOwned()
	s.data.fuzzy[name] = pattern
}

func (s *Space) RegisterScope(name, scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.makeOwned()
	s.data.scope[name] = scope
}
