package metta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatorArithmetic(t *testing.T) {
	ev := NewEvaluator("test", DefaultConfig())
	defer ev.Close()

	result, err := ev.Eval(NewExpression(NewSymbol("+"), NewInteger(2), NewExpression(NewSymbol("*"), NewInteger(3), NewInteger(4))))
	require.NoError(t, err)
	assert.Equal(t, NewInteger(14), result)
}

func TestEvaluatorDivisionByZero(t *testing.T) {
	ev := NewEvaluator("test", DefaultConfig())
	defer ev.Close()

	result, err := ev.Eval(NewExpression(NewSymbol("/"), NewInteger(1), NewInteger(0)))
	require.NoError(t, err)
	errTerm, ok := result.(ErrorTerm)
	require.True(t, ok, "expected an ErrorTerm, got %s", result.String())
	assert.Contains(t, errTerm.Message, "division by zero")
}

func TestEvaluatorIfLet(t *testing.T) {
	ev := NewEvaluator("test", DefaultConfig())
	defer ev.Close()

	// (if (> 3 2) (let $x 10 (+ $x 1)) 0)
	term := NewExpression(NewSymbol("if"),
		NewExpression(NewSymbol(">"), NewInteger(3), NewInteger(2)),
		NewExpression(NewSymbol("let"), NewVariable("x"), NewInteger(10),
			NewExpression(NewSymbol("+"), NewVariable("x"), NewInteger(1))),
		NewInteger(0))

	result, err := ev.Eval(term)
	require.NoError(t, err)
	assert.Equal(t, NewInteger(11), result)
}

func TestEvaluatorRuleDispatchFactorial(t *testing.T) {
	ev := NewEvaluator("test", DefaultConfig())
	defer ev.Close()

	// (= (fact 0) 1)
	ev.AddRule(NewExpression(NewSymbol("="),
		NewExpression(NewSymbol("fact"), NewInteger(0)),
		NewInteger(1)))
	// (= (fact $n) (* $n (fact (- $n 1))))
	ev.AddRule(NewExpression(NewSymbol("="),
		NewExpression(NewSymbol("fact"), NewVariable("n")),
		NewExpression(NewSymbol("*"), NewVariable("n"),
			NewExpression(NewSymbol("fact"), NewExpression(NewSymbol("-"), NewVariable("n"), NewInteger(1))))))

	result, err := ev.Eval(NewExpression(NewSymbol("fact"), NewInteger(5)))
	require.NoError(t, err)
	assert.Equal(t, NewInteger(120), result)
}

func TestEvaluatorNondeterminismFixedPoint(t *testing.T) {
	ev := NewEvaluator("test", DefaultConfig())
	defer ev.Close()

	// (= (color) red), (= (color) green), (= (color) blue)
	for _, c := range []string{"red", "green", "blue"} {
		ev.AddRule(NewExpression(NewSymbol("="),
			NewExpression(NewSymbol("color")),
			NewSymbol(c)))
	}

	results, err := ev.EvalAll(NewExpression(NewSymbol("color")), -1)
	require.NoError(t, err)
	require.Len(t, results, 3)

	seen := map[string]bool{}
	for _, r := range results {
		seen[r.String()] = true
	}
	assert.True(t, seen["red"] && seen["green"] && seen["blue"])
}

func TestEvaluatorSuperpose(t *testing.T) {
	ev := NewEvaluator("test", DefaultConfig())
	defer ev.Close()

	term := NewExpression(NewSymbol("superpose"),
		NewExpression(NewInteger(1), NewInteger(2), NewInteger(3)))

	results, err := ev.EvalAll(term, -1)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.ElementsMatch(t, []Term{NewInteger(1), NewInteger(2), NewInteger(3)}, results)
}

func TestEvaluatorCaseMatchesFirstClause(t *testing.T) {
	ev := NewEvaluator("test", DefaultConfig())
	defer ev.Close()

	// (case 2 ((1 one) (2 two) (%void% other)))
	term := NewExpression(NewSymbol("case"), NewInteger(2),
		NewExpression(
			NewExpression(NewInteger(1), NewSymbol("one")),
			NewExpression(NewInteger(2), NewSymbol("two")),
			NewExpression(NewSymbol("%void%"), NewSymbol("other")),
		))

	result, err := ev.Eval(term)
	require.NoError(t, err)
	assert.Equal(t, NewSymbol("two"), result)
}

func TestEvaluatorMapAtom(t *testing.T) {
	ev := NewEvaluator("test", DefaultConfig())
	defer ev.Close()

	// (map-atom (1 2 3) $x (* $x $x))
	term := NewExpression(NewSymbol("map-atom"),
		NewExpression(NewInteger(1), NewInteger(2), NewInteger(3)),
		NewVariable("x"),
		NewExpression(NewSymbol("*"), NewVariable("x"), NewVariable("x")))

	result, err := ev.Eval(term)
	require.NoError(t, err)
	assert.Equal(t, NewExpression(NewInteger(1), NewInteger(4), NewInteger(9)), result)
}

func TestEvaluatorChunkCacheReusesChunk(t *testing.T) {
	ev := NewEvaluator("test", DefaultConfig())
	defer ev.Close()

	term := NewExpression(NewSymbol("+"), NewInteger(1), NewInteger(1))
	c1, err := ev.chunkFor(term)
	require.NoError(t, err)
	c2, err := ev.chunkFor(term)
	require.NoError(t, err)
	assert.Same(t, c1, c2, "structurally identical expressions should share one cached chunk")
}

func TestTieredCachePromotesAcrossThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JIT1Threshold = 3
	cfg.JIT2Threshold = 6
	cfg.SamplingInterval = 1

	ev := NewEvaluator("test", cfg)
	defer ev.Close()

	term := NewExpression(NewSymbol("+"), NewInteger(1), NewInteger(1))
	for i := 0; i < 10; i++ {
		result, err := ev.Eval(term)
		require.NoError(t, err)
		assert.Equal(t, NewInteger(2), result)
	}

	chunk, ok := ev.tiered.Lookup(hashTerm(term))
	require.True(t, ok)
	assert.GreaterOrEqual(t, chunk.Profile.execCount.Load(), int64(10))
}
