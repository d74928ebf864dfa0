package metta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPushChoicePointIsolatesSpaceHandles exercises isolateChoiceSpaces
// through the real funnel (pushChoicePoint) rather than calling it
// directly: two alternatives both reference the same space handle in
// their bindings, and after the point is pushed each alternative must
// resolve to its own isolated fork, not the shared original.
func TestPushChoicePointIsolatesSpaceHandles(t *testing.T) {
	env := NewEnvironment()
	shared := NewSpace("shared")
	handle := env.RegisterSpace("shared", shared)
	shared.Add(NewSymbol("seed"))

	bindA := NewBindings()
	bindA.values["space"] = handle
	bindB := NewBindings()
	bindB.values["space"] = handle

	vm := NewVM(env, shared, DefaultConfig())
	vm.frames = append(vm.frames, frame{bindings: bindA})

	alts := []altChoice{
		{term: NewSymbol("branch-a"), bindings: bindA},
		{term: NewSymbol("branch-b"), bindings: bindB},
	}
	vm.pushChoicePoint(&vm.frames[len(vm.frames)-1], alts)

	require.Len(t, vm.points, 1)
	stored := vm.points[0].alternatives
	require.Len(t, stored, 2)

	handleA, ok := stored[0].bindings.values["space"].(SpaceHandle)
	require.True(t, ok)
	handleB, ok := stored[1].bindings.values["space"].(SpaceHandle)
	require.True(t, ok)

	assert.NotEqual(t, handle.ID, handleA.ID, "branch a must not keep the shared handle")
	assert.NotEqual(t, handle.ID, handleB.ID, "branch b must not keep the shared handle")
	assert.NotEqual(t, handleA.ID, handleB.ID, "the two branches must not share a fork")

	spaceA, ok := vm.lookupSpaceByHandle(handleA)
	require.True(t, ok)
	spaceB, ok := vm.lookupSpaceByHandle(handleB)
	require.True(t, ok)

	spaceA.Add(NewSymbol("only-in-a"))
	assert.True(t, spaceA.Contains(NewSymbol("only-in-a")))
	assert.False(t, spaceB.Contains(NewSymbol("only-in-a")), "branch b's fork must not see branch a's mutation")
	assert.False(t, shared.Contains(NewSymbol("only-in-a")), "the parent space must not see the branch's mutation")
}

// TestPushChoicePointLeavesSpaceFreeAlternativesUntouched confirms the
// common case — no alternative references a space handle at all — pays
// no forking cost and alternatives pass through unchanged.
func TestPushChoicePointLeavesSpaceFreeAlternativesUntouched(t *testing.T) {
	env := NewEnvironment()
	space := NewSpace("root")
	env.RegisterSpace("root", space)

	bindings := NewBindings()
	vm := NewVM(env, space, DefaultConfig())
	vm.frames = append(vm.frames, frame{bindings: bindings})

	alts := []altChoice{
		{term: NewExpression(NewSymbol("+"), NewInteger(1), NewInteger(2)), bindings: bindings},
	}
	vm.pushChoicePoint(&vm.frames[len(vm.frames)-1], alts)

	require.Len(t, vm.points, 1)
	stored := vm.points[0].alternatives
	require.Len(t, stored, 1)
	assert.Equal(t, bindings, stored[0].bindings)
	assert.Equal(t, alts[0].term, stored[0].term)
}
