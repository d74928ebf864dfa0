package metta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeepholeCancelsDupPop(t *testing.T) {
	chunk := NewChunk("<test>")
	emit(chunk, OpPushTrue)
	emit(chunk, OpDup)
	emit(chunk, OpPop)
	emit(chunk, OpReturn)

	out := Optimize(chunk, DefaultConfig())
	assert.Equal(t, []byte{byte(OpPushTrue), byte(OpReturn)}, out.Code)
}

func TestPeepholeCancelsDoubleNot(t *testing.T) {
	chunk := NewChunk("<test>")
	emit(chunk, OpPushTrue)
	emit(chunk, OpNot)
	emit(chunk, OpNot)
	emit(chunk, OpReturn)

	out := Optimize(chunk, DefaultConfig())
	assert.Equal(t, []byte{byte(OpPushTrue), byte(OpReturn)}, out.Code)
}

func TestDeadCodeEliminationDropsUnreachableBlock(t *testing.T) {
	chunk := NewChunk("<test>")
	emit(chunk, OpPushTrue)
	jmp := emitJumpPlaceholder(chunk, OpJump)
	emit(chunk, OpPushFalse) // unreachable: nothing jumps here, no fallthrough reaches it
	emit(chunk, OpPop)
	patchJump(chunk, jmp)
	emit(chunk, OpReturn)

	out := Optimize(chunk, DefaultConfig())
	for _, in := range decodeInstrs(out.Code) {
		assert.NotEqual(t, OpPushFalse, in.op, "dead branch must be eliminated")
	}
}

func TestOptimizerPreservesJumpSemanticsAcrossDCE(t *testing.T) {
	cfg := DefaultConfig()

	// if true then 1 else (dead code) end; return
	term := NewExpression(NewSymbol("if"), NewBool(true), NewInteger(1), NewInteger(2))
	chunk, err := Compile(term)
	require.NoError(t, err)

	optimized := Optimize(chunk, cfg)

	env := NewEnvironment()
	space := NewSpace("test")
	vm := NewVM(env, space, cfg)
	result, err := vm.Run(optimized)
	require.NoError(t, err)
	assert.Equal(t, NewInteger(1), result)
}

func TestPeepholeFoldsAddZeroIdentity(t *testing.T) {
	// [PushLongSmall 5, PushLongSmall 0, Add, Return] -> [PushLongSmall 5, Return]
	chunk := NewChunk("<test>")
	emit(chunk, OpPushLongSmall)
	chunk.Code = append(chunk.Code, byte(5))
	emit(chunk, OpPushLongSmall)
	chunk.Code = append(chunk.Code, byte(0))
	emit(chunk, OpAdd)
	emit(chunk, OpReturn)

	out := Optimize(chunk, DefaultConfig())
	assert.Equal(t, []byte{byte(OpPushLongSmall), 5, byte(OpReturn)}, out.Code)
}

func TestPeepholeFoldsMulOneIdentity(t *testing.T) {
	chunk := NewChunk("<test>")
	emit(chunk, OpPushLongSmall)
	chunk.Code = append(chunk.Code, byte(9))
	emit(chunk, OpPushLongSmall)
	chunk.Code = append(chunk.Code, byte(1))
	emit(chunk, OpMul)
	emit(chunk, OpReturn)

	out := Optimize(chunk, DefaultConfig())
	assert.Equal(t, []byte{byte(OpPushLongSmall), 9, byte(OpReturn)}, out.Code)
}

func TestPeepholeCancelsDoubleNeg(t *testing.T) {
	chunk := NewChunk("<test>")
	emit(chunk, OpPushLongSmall)
	chunk.Code = append(chunk.Code, byte(3))
	emit(chunk, OpNeg)
	emit(chunk, OpNeg)
	emit(chunk, OpReturn)

	out := Optimize(chunk, DefaultConfig())
	assert.Equal(t, []byte{byte(OpPushLongSmall), 3, byte(OpReturn)}, out.Code)
}

func TestPeepholeFoldsComparisonNegation(t *testing.T) {
	chunk := NewChunk("<test>")
	emit(chunk, OpLt)
	emit(chunk, OpNot)
	emit(chunk, OpReturn)

	out := Optimize(chunk, DefaultConfig())
	assert.Equal(t, []byte{byte(OpGe), byte(OpReturn)}, out.Code)
}

func TestPeepholeFoldsConstantBranchNeverTaken(t *testing.T) {
	chunk := NewChunk("<test>")
	emit(chunk, OpPushTrue)
	jmp := emitJumpPlaceholder(chunk, OpJumpIfFalse)
	emit(chunk, OpPushLongSmall)
	chunk.Code = append(chunk.Code, byte(1))
	patchJump(chunk, jmp)
	emit(chunk, OpReturn)

	out := Optimize(chunk, DefaultConfig())
	for _, in := range decodeInstrs(out.Code) {
		assert.NotEqual(t, OpJumpIfFalse, in.op, "resolved branch must not remain conditional")
	}
}

func TestPeepholeFoldsConstantBranchAlwaysTaken(t *testing.T) {
	chunk := NewChunk("<test>")
	emit(chunk, OpPushFalse)
	jmp := emitJumpPlaceholder(chunk, OpJumpIfFalse)
	emit(chunk, OpPushLongSmall) // dead: branch is always taken
	chunk.Code = append(chunk.Code, byte(1))
	patchJump(chunk, jmp)
	emit(chunk, OpReturn)

	out := Optimize(chunk, DefaultConfig())
	for _, in := range decodeInstrs(out.Code) {
		assert.NotEqual(t, OpPushLongSmall, in.op, "branch always taken: dead arm must be eliminated")
	}
}

func TestPeepholeDedupesRepeatedLoadLocal(t *testing.T) {
	chunk := NewChunk("<test>")
	emit(chunk, OpLoadLocal)
	chunk.Code = append(chunk.Code, byte(2))
	emit(chunk, OpLoadLocal)
	chunk.Code = append(chunk.Code, byte(2))
	emit(chunk, OpReturn)

	out := Optimize(chunk, DefaultConfig())
	assert.Equal(t, []byte{byte(OpLoadLocal), 2, byte(OpDup), byte(OpReturn)}, out.Code)
}

func TestOptimizerIsIdempotentOnAlreadyOptimalCode(t *testing.T) {
	chunk := NewChunk("<test>")
	emit(chunk, OpPushLongSmall)
	chunk.Code = append(chunk.Code, byte(7))
	emit(chunk, OpReturn)

	cfg := DefaultConfig()
	once := Optimize(chunk, cfg)
	twice := Optimize(once, cfg)
	assert.Equal(t, once.Code, twice.Code)
}
