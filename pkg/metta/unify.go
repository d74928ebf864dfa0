package metta

// Bindings is a variable substitution produced by unification: a single
// flat map from variable name to bound term, with no separate
// order-independent constraint layer.
type Bindings struct {
	values map[string]Term
}

// NewBindings returns an empty binding set.
func NewBindings() *Bindings {
	return &Bindings{values: make(map[string]Term)}
}

// Get returns the term bound to name, if any.
func (b *Bindings) Get(name string) (Term, bool) {
	t, ok := b.values[name]
	return t, ok
}

// with returns a new Bindings with name bound to t, leaving b untouched —
// Unify threads bindings functionally so a failed branch never corrupts
// the caller's view, matching primitives.go's "clone the store" pattern
// without needing a full store clone for just a map.
func (b *Bindings) with(name string, t Term) *Bindings {
	nb := &Bindings{values: make(map[string]Term, len(b.values)+1)}
	for k, v := range b.values {
		nb.values[k] = v
	}
	nb.values[name] = t
	return nb
}

// Walk follows a chain of variable bindings to its final value, the way
// primitives.go's Substitution.Walk does.
func (b *Bindings) Walk(t Term) Term {
	for {
		v, ok := t.(Variable)
		if !ok || v.IsWildcard() {
			return t
		}
		bound, ok := b.Get(v.Name)
		if !ok {
			return t
		}
		t = bound
	}
}

// Apply substitutes every bound variable in t with its walked value,
// recursively. Unbound variables (including wildcards) are left as-is.
func (b *Bindings) Apply(t Term) Term {
	t = b.Walk(t)
	switch v := t.(type) {
	case Expression:
		items := make([]Term, len(v.Items))
		for i, it := range v.Items {
			items[i] = b.Apply(it)
		}
		return Expression{Items: items}
	case Conjunction:
		items := make([]Term, len(v.Items))
		for i, it := range v.Items {
			items[i] = b.Apply(it)
		}
		return Conjunction{Items: items}
	case TypeTerm:
		return TypeTerm{Inner: b.Apply(v.Inner)}
	default:
		return t
	}
}

// Unify performs structural unification between a and b against an
// existing binding set, returning the extended bindings on success.
// Rules:
//   - two symbols unify iff identical
//   - two ground values (ints/floats/bools/strings) unify iff value-equal
//   - a variable vs. a term binds the variable, unless already bound —
//     then the bound value and the term are unified recursively
//   - the wildcard `_` always succeeds without binding
//   - two expressions unify iff same arity and positionwise unifiable
//   - errors unify only structurally (opaque, like any other term)
//
// No occurs check is performed, matching MeTTa semantics.
func Unify(a, b Term, bindings *Bindings) (*Bindings, bool) {
	wa := bindings.Walk(a)
	wb := bindings.Walk(b)

	if av, ok := wa.(Variable); ok {
		if av.IsWildcard() {
			return bindings, true
		}
		if bound, ok := bindings.Get(av.Name); ok {
			return Unify(bound, wb, bindings)
		}
		return bindEnsuringNoSelfCycle(av, wb, bindings)
	}
	if bv, ok := wb.(Variable); ok {
		if bv.IsWildcard() {
			return bindings, true
		}
		if bound, ok := bindings.Get(bv.Name); ok {
			return Unify(wa, bound, bindings)
		}
		return bindEnsuringNoSelfCycle(bv, wa, bindings)
	}

	if ea, ok := wa.(Expression); ok {
		eb, ok := wb.(Expression)
		if !ok || len(ea.Items) != len(eb.Items) {
			return bindings, false
		}
		cur := bindings
		for i := range ea.Items {
			var ok bool
			cur, ok = Unify(ea.Items[i], eb.Items[i], cur)
			if !ok {
				return bindings, false
			}
		}
		return cur, true
	}
	if _, ok := wb.(Expression); ok {
		return bindings, false // arity/shape mismatch against a non-expression
	}

	return bindings, wa.Equal(wb)
}

// bindEnsuringNoSelfCycle binds v to t unless t is the same variable
// (which would be a no-op binding, not a cycle — occurs check is
// intentionally skipped).
func bindEnsuringNoSelfCycle(v Variable, t Term, bindings *Bindings) (*Bindings, bool) {
	if tv, ok := t.(Variable); ok && tv.Name == v.Name && !tv.IsWildcard() {
		return bindings, true
	}
	return bindings.with(v.Name, t), true
}
