package metta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	terms := []Term{
		NewSymbol("foo"),
		NewInteger(42),
		NewInteger(-7),
		NewFloat(3.5),
		NewBool(true),
		NewString("hello world"),
		Nil{},
		Unit{},
		Empty{},
		// The decoder names variables a, b, ... in order of appearance, so
		// these use those names to round-trip exactly.
		NewExpression(NewSymbol("f"), NewInteger(1), NewVariable("a")),
		NewExpression(NewSymbol("f"), NewVariable("a"), NewVariable("a")),
	}
	for _, term := range terms {
		encoded := EncodeTerm(term)
		decoded, n := DecodeTerm(encoded)
		assert.Equal(t, len(encoded), n)
		assert.True(t, term.Equal(decoded), "round trip mismatch for %s: got %s", term.String(), decoded.String())
	}
}

func TestEncodeAlphaEquivalenceCollapses(t *testing.T) {
	a := NewExpression(NewSymbol("f"), NewVariable("x"), NewVariable("x"))
	b := NewExpression(NewSymbol("f"), NewVariable("y"), NewVariable("y"))
	assert.Equal(t, EncodeTerm(a), EncodeTerm(b), "alpha-equivalent expressions must encode identically")
}

func TestEncodeDistinctVariablesDoNotCollapse(t *testing.T) {
	a := NewExpression(NewSymbol("f"), NewVariable("x"), NewVariable("y"))
	b := NewExpression(NewSymbol("f"), NewVariable("x"), NewVariable("x"))
	assert.NotEqual(t, EncodeTerm(a), EncodeTerm(b))
}

func TestEncodeWildcardNeverAliasesNamedVariable(t *testing.T) {
	// (f _ $x $x): position 1 is a unique wildcard, positions 2 and 3
	// must alias each other and must not alias the wildcard.
	term := NewExpression(NewSymbol("f"), NewVariable(AnonymousVar), NewVariable("x"), NewVariable("x"))
	encoded := EncodeTerm(term)
	decoded, n := DecodeTerm(encoded)
	assert.Equal(t, len(encoded), n)

	expr, ok := decoded.(Expression)
	if !assert.True(t, ok) {
		return
	}
	wildcard, ok := expr.Items[1].(Variable)
	if !assert.True(t, ok) {
		return
	}
	assert.True(t, wildcard.IsWildcard())

	x1, ok := expr.Items[2].(Variable)
	if !assert.True(t, ok) {
		return
	}
	x2, ok := expr.Items[3].(Variable)
	if !assert.True(t, ok) {
		return
	}
	assert.Equal(t, x1.Name, x2.Name, "the two $x occurrences must decode to the same variable")
	assert.NotEqual(t, wildcard.Name, x1.Name, "the wildcard must not alias the named variable")
}

func TestEncodeTwoWildcardsDoNotShiftNamedVariableIndex(t *testing.T) {
	// (f _ _ $x $x): two independent wildcards must not consume de-Bruijn
	// indices, so the $x occurrences still alias each other.
	term := NewExpression(NewSymbol("f"), NewVariable(AnonymousVar), NewVariable(AnonymousVar), NewVariable("x"), NewVariable("x"))
	encoded := EncodeTerm(term)
	decoded, n := DecodeTerm(encoded)
	assert.Equal(t, len(encoded), n)

	expr := decoded.(Expression)
	x1 := expr.Items[3].(Variable)
	x2 := expr.Items[4].(Variable)
	assert.Equal(t, x1.Name, x2.Name)
}

func TestHasOverflowArityFallback(t *testing.T) {
	items := make([]Term, 65)
	for i := range items {
		items[i] = NewInteger(int64(i))
	}
	wide := Expression{Items: items}
	assert.True(t, HasOverflowArity(wide))

	encoded := EncodeFallback(wide)
	got, n := DecodeFallback(encoded)
	assert.Equal(t, len(encoded), n)
	assert.True(t, wide.Equal(got))
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0)}
	for _, v := range values {
		buf := EncodeVarint(v)
		got, n := DecodeVarint(buf)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, v, got)
	}
}
