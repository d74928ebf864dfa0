// Package metta implements the evaluation core of a MeTTa term-rewriting
// system: an atom space, a structural unifier and rule dispatcher, a
// bytecode compiler and stack VM with backtracking, a tiered compilation
// cache, and a peephole/DCE bytecode optimizer.
package metta

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TermKind is the closed set of term variants. Unlike the Term
// interface (String/Equal/IsVar/Clone with no enum), this requires a
// fixed sum type so the trie encoder, unifier, and VM can switch
// exhaustively on variant without a type assertion chain.
type TermKind int

const (
	KindSymbol TermKind = iota
	KindVariable
	KindInteger
	KindFloat
	KindBool
	KindString
	KindNil
	KindUnit
	KindEmpty
	KindExpression
	KindError
	KindType
	KindSpaceHandle
	KindStateHandle
	KindMemoHandle
	KindConjunction
)

func (k TermKind) String() string {
	switch k {
	case KindSymbol:
		return "Symbol"
	case KindVariable:
		return "Variable"
	case KindInteger:
		return "Integer"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	case KindString:
		return "String"
	case KindNil:
		return "Nil"
	case KindUnit:
		return "Unit"
	case KindEmpty:
		return "Empty"
	case KindExpression:
		return "Expression"
	case KindError:
		return "Error"
	case KindType:
		return "Type"
	case KindSpaceHandle:
		return "SpaceHandle"
	case KindStateHandle:
		return "StateHandle"
	case KindMemoHandle:
		return "MemoHandle"
	case KindConjunction:
		return "Conjunction"
	default:
		return "Unknown"
	}
}

// Term is any MeTTa value. All variants are immutable; compound variants
// (Expression, Conjunction, Type, Error) hold Terms, never pointers back
// into mutable engine state, so Terms can be freely shared across spaces
// and goroutines without locking.
type Term interface {
	Kind() TermKind
	String() string
	Equal(other Term) bool
}

// AnonymousVar is the name used for the wildcard variable `_`, which is
// distinct from every other variable and never binds.
const AnonymousVar = "_"

// Symbol is an interned atomic name.
type Symbol struct{ Name string }

func NewSymbol(name string) Symbol        { return Symbol{Name: name} }
func (s Symbol) Kind() TermKind           { return KindSymbol }
func (s Symbol) String() string           { return s.Name }
func (s Symbol) Equal(other Term) bool {
	o, ok := other.(Symbol)
	return ok && o.Name == s.Name
}

// Variable is a pattern/binding variable, written `$name` in source. The
// anonymous wildcard `_` is represented with Name == AnonymousVar and
// compares unequal to every other Variable, including another wildcard —
// `_` is an anonymous wildcard distinct from every other variable.
type Variable struct{ Name string }

func NewVariable(name string) Variable { return Variable{Name: name} }
func (v Variable) Kind() TermKind      { return KindVariable }
func (v Variable) String() string      { return "$" + v.Name }
func (v Variable) IsWildcard() bool    { return v.Name == AnonymousVar }
func (v Variable) Equal(other Term) bool {
	o, ok := other.(Variable)
	if !ok {
		return false
	}
	if v.IsWildcard() || o.IsWildcard() {
		return false
	}
	return v.Name == o.Name
}

// Integer is a 64-bit signed integer value.
type Integer struct{ Value int64 }

func NewInteger(v int64) Integer { return Integer{Value: v} }
func (i Integer) Kind() TermKind { return KindInteger }
func (i Integer) String() string { return strconv.FormatInt(i.Value, 10) }
func (i Integer) Equal(other Term) bool {
	o, ok := other.(Integer)
	return ok && o.Value == i.Value
}

// Float is a 64-bit IEEE floating point value.
type Float struct{ Value float64 }

func NewFloat(v float64) Float  { return Float{Value: v} }
func (f Float) Kind() TermKind  { return KindFloat }
func (f Float) String() string  { return strconv.FormatFloat(f.Value, 'g', -1, 64) }
func (f Float) Equal(other Term) bool {
	o, ok := other.(Float)
	return ok && o.Value == f.Value
}

// Bool is a boolean value.
type Bool struct{ Value bool }

func NewBool(v bool) Bool      { return Bool{Value: v} }
func (b Bool) Kind() TermKind  { return KindBool }
func (b Bool) String() string {
	if b.Value {
		return "true"
	}
	return "false"
}
func (b Bool) Equal(other Term) bool {
	o, ok := other.(Bool)
	return ok && o.Value == b.Value
}

// String is a textual value, printed with surrounding double quotes.
type String struct{ Value string }

func NewString(v string) String { return String{Value: v} }
func (s String) Kind() TermKind { return KindString }
func (s String) String() string { return strconv.Quote(s.Value) }
func (s String) Equal(other Term) bool {
	o, ok := other.(String)
	return ok && o.Value == s.Value
}

// Nil is the empty-list sentinel (an Expression of arity 0 decodes to Nil).
type Nil struct{}

func (Nil) Kind() TermKind        { return KindNil }
func (Nil) String() string        { return "()" }
func (Nil) Equal(other Term) bool { _, ok := other.(Nil); return ok }

// Unit is the unit value (side-effecting operations that return "nothing
// meaningful" yield Unit, distinct from Nil and from Empty).
type Unit struct{}

func (Unit) Kind() TermKind        { return KindUnit }
func (Unit) String() string        { return "Unit" }
func (Unit) Equal(other Term) bool { _, ok := other.(Unit); return ok }

// Empty is the sentinel meaning "no results" (e.g. match with no hits and
// no default).
type Empty struct{}

func (Empty) Kind() TermKind        { return KindEmpty }
func (Empty) String() string        { return "Empty" }
func (Empty) Equal(other Term) bool { _, ok := other.(Empty); return ok }

// Expression is an ordered sequence of terms `(t0 t1 ... tn-1)`. Head()
// and Arity() give the dispatch key used by the rule index.
type Expression struct{ Items []Term }

func NewExpression(items ...Term) Expression { return Expression{Items: items} }

func (e Expression) Kind() TermKind { return KindExpression }

func (e Expression) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, it := range e.Items {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(it.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (e Expression) Equal(other Term) bool {
	o, ok := other.(Expression)
	if !ok || len(o.Items) != len(e.Items) {
		return false
	}
	for i := range e.Items {
		if !e.Items[i].Equal(o.Items[i]) {
			return false
		}
	}
	return true
}

// Arity returns the number of elements after the head. An empty
// Expression also reports arity 0 (it is not the same as Nil, which
// callers should use directly); callers that build expressions
// from parsed/decoded data normalize arity-0 forms to Nil themselves.
func (e Expression) Arity() int {
	if len(e.Items) == 0 {
		return 0
	}
	return len(e.Items) - 1
}

// Head returns the first element, or nil if the expression is empty.
func (e Expression) Head() Term {
	if len(e.Items) == 0 {
		return nil
	}
	return e.Items[0]
}

// HeadSymbol returns the head's symbol name and true, or ("", false) if
// the expression is empty or its head is not a concrete Symbol (e.g. a
// Variable head makes this a wildcard-rule candidate, see Space.Dispatch).
func (e Expression) HeadSymbol() (string, bool) {
	h := e.Head()
	if h == nil {
		return "", false
	}
	s, ok := h.(Symbol)
	return s.Name, ok
}

// ErrorTerm is a sticky failure value that propagates through reductions
// until consumed by JumpIfError/catch or returned as a final result.
type ErrorTerm struct {
	Message string
	Payload Term
}

func NewError(message string, payload Term) ErrorTerm {
	if payload == nil {
		payload = Unit{}
	}
	return ErrorTerm{Message: message, Payload: payload}
}

func (e ErrorTerm) Kind() TermKind { return KindError }
func (e ErrorTerm) String() string { return fmt.Sprintf("(Error %q %s)", e.Message, e.Payload) }
func (e ErrorTerm) Equal(other Term) bool {
	o, ok := other.(ErrorTerm)
	return ok && o.Message == e.Message && o.Payload.Equal(e.Payload)
}

// TypeTerm wraps a term representing a type assertion's right-hand side.
type TypeTerm struct{ Inner Term }

func NewType(inner Term) TypeTerm { return TypeTerm{Inner: inner} }
func (t TypeTerm) Kind() TermKind { return KindType }
func (t TypeTerm) String() string { return "(: " + t.Inner.String() + ")" }
func (t TypeTerm) Equal(other Term) bool {
	o, ok := other.(TypeTerm)
	return ok && o.Inner.Equal(t.Inner)
}

// SpaceHandle is an owning or borrowed reference to an atom space. Id
// identifies the underlying Space for fork/CoW bookkeeping; Name is the
// handle's optional registered name (see environment.go's named-space registry).
type SpaceHandle struct {
	ID   uint64
	Name string
}

func (h SpaceHandle) Kind() TermKind { return KindSpaceHandle }
func (h SpaceHandle) String() string {
	if h.Name != "" {
		return "&" + h.Name
	}
	return fmt.Sprintf("&space#%d", h.ID)
}
func (h SpaceHandle) Equal(other Term) bool {
	o, ok := other.(SpaceHandle)
	return ok && o.ID == h.ID
}

// StateHandle is a mutable cell identity; the cell's contents live in the
// process-wide state table (see environment.go), not in the term itself.
type StateHandle struct{ ID uint64 }

func (h StateHandle) Kind() TermKind { return KindStateHandle }
func (h StateHandle) String() string { return fmt.Sprintf("(State #%d)", h.ID) }
func (h StateHandle) Equal(other Term) bool {
	o, ok := other.(StateHandle)
	return ok && o.ID == h.ID
}

// MemoHandle is a memoization-table identity.
type MemoHandle struct {
	ID   uint64
	Name string
}

func (h MemoHandle) Kind() TermKind { return KindMemoHandle }
func (h MemoHandle) String() string { return fmt.Sprintf("(Memo %s#%d)", h.Name, h.ID) }
func (h MemoHandle) Equal(other Term) bool {
	o, ok := other.(MemoHandle)
	return ok && o.ID == h.ID
}

// Conjunction is a finite multiset of alternative terms produced by a
// grounded operation's nondeterministic result set — a set of
// alternative results. Equality is order-independent: a multiset
// compares by sorted string form.
type Conjunction struct{ Items []Term }

func NewConjunction(items ...Term) Conjunction { return Conjunction{Items: items} }
func (c Conjunction) Kind() TermKind           { return KindConjunction }

func (c Conjunction) String() string {
	var b strings.Builder
	b.WriteString("(, ")
	for i, it := range c.Items {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(it.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (c Conjunction) Equal(other Term) bool {
	o, ok := other.(Conjunction)
	if !ok || len(o.Items) != len(c.Items) {
		return false
	}
	a := make([]string, len(c.Items))
	b := make([]string, len(o.Items))
	for i := range c.Items {
		a[i] = c.Items[i].String()
		b[i] = o.Items[i].String()
	}
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IsVariable reports whether t is a Variable (bound or not) — convenience
// used throughout the unifier and compiler instead of a type switch.
func IsVariable(t Term) (Variable, bool) {
	v, ok := t.(Variable)
	return v, ok
}
