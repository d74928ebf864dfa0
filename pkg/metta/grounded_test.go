package metta

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalGrounded(t *testing.T, term Term) Term {
	t.Helper()
	ev := NewEvaluator("test", DefaultConfig())
	defer ev.Close()
	result, err := ev.Eval(term)
	require.NoError(t, err)
	return result
}

func TestArithmeticIntegerOverflowBecomesError(t *testing.T) {
	result := evalGrounded(t, NewExpression(NewSymbol("+"), NewInteger(math.MaxInt64), NewInteger(1)))
	errTerm, ok := result.(ErrorTerm)
	require.True(t, ok, "expected an error term, got %s", result.String())
	assert.Equal(t, ExecArithmetic.String(), errTerm.Payload.String())
}

func TestArithmeticMinInt64DivNegOneOverflows(t *testing.T) {
	result := evalGrounded(t, NewExpression(NewSymbol("/"), NewInteger(math.MinInt64), NewInteger(-1)))
	_, ok := result.(ErrorTerm)
	assert.True(t, ok)
}

func TestArithmeticMinInt64ModNegOneIsZero(t *testing.T) {
	result := evalGrounded(t, NewExpression(NewSymbol("%"), NewInteger(math.MinInt64), NewInteger(-1)))
	assert.Equal(t, NewInteger(0), result)
}

func TestArithmeticMixedIntFloatWidensToFloat(t *testing.T) {
	result := evalGrounded(t, NewExpression(NewSymbol("+"), NewInteger(1), NewFloat(0.5)))
	assert.Equal(t, NewFloat(1.5), result)
}

func TestArithmeticModByZeroIsError(t *testing.T) {
	result := evalGrounded(t, NewExpression(NewSymbol("%"), NewInteger(10), NewInteger(0)))
	_, ok := result.(ErrorTerm)
	assert.True(t, ok)
}

func TestBooleanOperators(t *testing.T) {
	assert.Equal(t, NewBool(true), evalGrounded(t, NewExpression(NewSymbol("and"), NewBool(true), NewBool(true))))
	assert.Equal(t, NewBool(false), evalGrounded(t, NewExpression(NewSymbol("and"), NewBool(true), NewBool(false))))
	assert.Equal(t, NewBool(true), evalGrounded(t, NewExpression(NewSymbol("or"), NewBool(false), NewBool(true))))
	assert.Equal(t, NewBool(true), evalGrounded(t, NewExpression(NewSymbol("xor"), NewBool(true), NewBool(false))))
	assert.Equal(t, NewBool(false), evalGrounded(t, NewExpression(NewSymbol("not"), NewBool(true))))
}

func TestComparisonOperators(t *testing.T) {
	assert.Equal(t, NewBool(true), evalGrounded(t, NewExpression(NewSymbol("<"), NewInteger(1), NewInteger(2))))
	assert.Equal(t, NewBool(false), evalGrounded(t, NewExpression(NewSymbol(">"), NewInteger(1), NewInteger(2))))
	assert.Equal(t, NewBool(true), evalGrounded(t, NewExpression(NewSymbol("=="), NewInteger(3), NewInteger(3))))
	assert.Equal(t, NewBool(true), evalGrounded(t, NewExpression(NewSymbol("!="), NewInteger(3), NewInteger(4))))
}
