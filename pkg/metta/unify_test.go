package metta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifyGroundValues(t *testing.T) {
	_, ok := Unify(NewInteger(1), NewInteger(1), NewBindings())
	assert.True(t, ok)

	_, ok = Unify(NewInteger(1), NewInteger(2), NewBindings())
	assert.False(t, ok)
}

func TestUnifyBindsVariable(t *testing.T) {
	bindings, ok := Unify(NewVariable("x"), NewInteger(5), NewBindings())
	require.True(t, ok)
	v, ok := bindings.Get("x")
	require.True(t, ok)
	assert.Equal(t, NewInteger(5), v)
}

func TestUnifyWildcardNeverBinds(t *testing.T) {
	bindings, ok := Unify(NewVariable(AnonymousVar), NewInteger(5), NewBindings())
	require.True(t, ok)
	_, bound := bindings.Get(AnonymousVar)
	assert.False(t, bound)
}

func TestUnifySharedVariableForcesEquality(t *testing.T) {
	pattern := NewExpression(NewSymbol("pair"), NewVariable("x"), NewVariable("x"))

	_, ok := Unify(pattern, NewExpression(NewSymbol("pair"), NewInteger(1), NewInteger(1)), NewBindings())
	assert.True(t, ok)

	_, ok = Unify(pattern, NewExpression(NewSymbol("pair"), NewInteger(1), NewInteger(2)), NewBindings())
	assert.False(t, ok)
}

func TestUnifyArityMismatchFails(t *testing.T) {
	a := NewExpression(NewSymbol("f"), NewInteger(1))
	b := NewExpression(NewSymbol("f"), NewInteger(1), NewInteger(2))
	_, ok := Unify(a, b, NewBindings())
	assert.False(t, ok)
}

func TestBindingsApplySubstitutesRecursively(t *testing.T) {
	bindings := NewBindings()
	bindings, ok := Unify(NewVariable("x"), NewInteger(7), bindings)
	require.True(t, ok)

	applied := bindings.Apply(NewExpression(NewSymbol("f"), NewVariable("x"), NewVariable("y")))
	assert.Equal(t, NewExpression(NewSymbol("f"), NewInteger(7), NewVariable("y")), applied)
}
