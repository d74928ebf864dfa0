package metta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExecTailCallReusesFrameInPlace is a mechanism-level test: issuing a
// tail call must not push a new frame, only swap the current one's chunk.
func TestExecTailCallReusesFrameInPlace(t *testing.T) {
	env := NewEnvironment()
	space := NewSpace("test")
	cfg := DefaultConfig()
	vm := NewVM(env, space, cfg)

	firstChunk, err := Compile(NewInteger(0))
	require.NoError(t, err)
	vm.frames = append(vm.frames, frame{chunk: firstChunk, ip: 0, base: 0, bindings: NewBindings()})

	before := len(vm.frames)
	f := vm.curFrame()
	err = vm.execTailCall(f, NewExpression(NewSymbol("+"), NewInteger(1), NewInteger(2)))
	require.NoError(t, err)

	assert.Equal(t, before, len(vm.frames), "a tail call must not grow the frame stack")
	assert.NotSame(t, firstChunk, vm.curFrame().chunk, "the frame's chunk must be replaced with the tail target")
	assert.Equal(t, 0, vm.curFrame().ip)
}

// TestTailRecursiveRuleDoesNotGrowFrameStack exercises a fully
// tail-recursive rule (the recursive call is the entire RHS, nothing
// wraps it) through many iterations end to end: frame count must stay
// at 1 throughout, and the accumulated result must be correct.
func TestTailRecursiveRuleDoesNotGrowFrameStack(t *testing.T) {
	space := NewSpace("test")
	// (= (count 0 $acc) $acc)
	space.Add(NewExpression(NewSymbol("="),
		NewExpression(NewSymbol("count"), NewInteger(0), NewVariable("acc")),
		NewVariable("acc")))
	// (= (count $n $acc) (count (- $n 1) (+ $acc 1)))
	space.Add(NewExpression(NewSymbol("="),
		NewExpression(NewSymbol("count"), NewVariable("n"), NewVariable("acc")),
		NewExpression(NewSymbol("count"),
			NewExpression(NewSymbol("-"), NewVariable("n"), NewInteger(1)),
			NewExpression(NewSymbol("+"), NewVariable("acc"), NewInteger(1)))))

	env := NewEnvironment()
	cfg := DefaultConfig()
	chunk, err := Compile(NewExpression(NewSymbol("count"), NewInteger(5000), NewInteger(0)))
	require.NoError(t, err)

	vm := NewVM(env, space, cfg)
	maxFrames := 0
	vm.frames = append(vm.frames, frame{chunk: chunk, ip: 0, base: 0, bindings: NewBindings()})
	vm.points = vm.points[:0]

	var result Term
	for {
		if len(vm.frames) == 0 {
			break
		}
		if len(vm.frames) > maxFrames {
			maxFrames = len(vm.frames)
		}
		f := vm.curFrame()
		op := Opcode(f.chunk.Code[f.ip])
		f.ip++
		done, r, execErr := vm.exec(op, f)
		require.NoError(t, execErr)
		if done {
			result = r
			break
		}
	}

	assert.Equal(t, 1, maxFrames, "a chain of tail calls must never push a second frame")
	assert.Equal(t, NewInteger(5000), result)
}
