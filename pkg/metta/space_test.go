package metta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpaceAddContainsRemove(t *testing.T) {
	s := NewSpace("test")
	fact := NewExpression(NewSymbol("likes"), NewSymbol("alice"), NewSymbol("bob"))
	assert.False(t, s.Contains(fact))

	s.Add(fact)
	assert.True(t, s.Contains(fact))

	assert.True(t, s.Remove(fact))
	assert.False(t, s.Contains(fact))
	assert.False(t, s.Remove(fact), "removing an absent term reports false")
}

func TestSpaceCloneIsCopyOnWrite(t *testing.T) {
	original := NewSpace("test")
	shared := NewExpression(NewSymbol("shared"))
	original.Add(shared)

	clone := original.Clone()
	assert.True(t, clone.Contains(shared), "clone must see pre-existing data")

	onlyInClone := NewExpression(NewSymbol("only-in-clone"))
	clone.Add(onlyInClone)

	assert.False(t, original.Contains(onlyInClone), "mutating the clone must not leak into the original")
	assert.True(t, clone.Contains(onlyInClone))

	onlyInOriginal := NewExpression(NewSymbol("only-in-original"))
	original.Add(onlyInOriginal)
	assert.False(t, clone.Contains(onlyInOriginal), "mutating the original after clone must not leak into the clone")
}

func TestSpaceForkForNondeterminismIsIsolated(t *testing.T) {
	original := NewSpace("test")
	original.Add(NewExpression(NewSymbol("base-fact")))

	fork := original.ForkForNondeterminism()
	fork.Add(NewExpression(NewSymbol("fork-only")))

	assert.False(t, original.Contains(NewExpression(NewSymbol("fork-only"))))
	assert.True(t, fork.Contains(NewExpression(NewSymbol("base-fact"))))
}

func TestSpaceRuleMultiplicity(t *testing.T) {
	s := NewSpace("test")
	rule := NewExpression(NewSymbol("="), NewExpression(NewSymbol("p"), NewVariable("x")), NewSymbol("ok"))
	s.Add(rule)
	s.Add(rule)

	matches := s.Dispatch(NewExpression(NewSymbol("p"), NewInteger(1)))
	require.Len(t, matches, 2, "asserting the same rule twice must make dispatch try it twice")
}

func TestSpaceDispatchTriesWildcardRulesToo(t *testing.T) {
	s := NewSpace("test")
	s.Add(NewExpression(NewSymbol("="),
		NewExpression(NewSymbol("known"), NewInteger(1)),
		NewSymbol("specific")))
	s.Add(NewExpression(NewSymbol("="),
		NewExpression(NewVariable("anything"), NewVariable("arg")),
		NewSymbol("generic")))

	matches := s.Dispatch(NewExpression(NewSymbol("known"), NewInteger(1)))
	require.Len(t, matches, 2)
}

func TestSpaceMatchAppliesBindings(t *testing.T) {
	s := NewSpace("test")
	s.Add(NewExpression(NewSymbol("age"), NewSymbol("alice"), NewInteger(30)))
	s.Add(NewExpression(NewSymbol("age"), NewSymbol("bob"), NewInteger(25)))

	results := s.Match(
		NewExpression(NewSymbol("age"), NewVariable("who"), NewVariable("n")),
		NewVariable("who"),
	)
	require.Len(t, results, 2)
}
