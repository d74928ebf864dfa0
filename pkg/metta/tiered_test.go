package metta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScheduleCompileUsesSequentialPoolBelowThreshold exercises the
// default state (no evaluation in flight) and confirms a scheduled
// compile still promotes the tier, i.e. the sequential-mode lightweight
// pool path works end to end.
func TestScheduleCompileUsesSequentialPoolBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	tc := NewTieredCache(cfg)
	defer tc.Close()

	chunk := NewChunk("<test>")
	require.Zero(t, tc.activeEvals.Load())

	tc.scheduleCompile(chunk, tierJIT1)
	require.Eventually(t, func() bool {
		return chunk.Profile.jit1Tier.load() == tierReady
	}, time.Second, time.Millisecond, "sequential-mode compile never completed")
}

// TestScheduleCompileUsesPriorityPoolAtThreshold drives activeEvals to
// cfg.SequentialEvalThreshold and confirms the compile still completes,
// this time routed through the priority scheduler's background lane.
func TestScheduleCompileUsesPriorityPoolAtThreshold(t *testing.T) {
	cfg := DefaultConfig()
	tc := NewTieredCache(cfg)
	defer tc.Close()

	for i := int64(0); i < cfg.SequentialEvalThreshold; i++ {
		tc.BeginEval()
	}
	defer func() {
		for i := int64(0); i < cfg.SequentialEvalThreshold; i++ {
			tc.EndEval()
		}
	}()

	chunk := NewChunk("<test>")
	tc.scheduleCompile(chunk, tierJIT2)
	require.Eventually(t, func() bool {
		return chunk.Profile.jit2Tier.load() == tierReady
	}, time.Second, time.Millisecond, "concurrent-mode compile never completed")
}

// TestEvaluatorEvalAllTracksActiveEvals confirms BeginEval/EndEval stay
// balanced across a normal Eval call, since scheduleCompile's mode
// decision depends on this counter never drifting.
func TestEvaluatorEvalAllTracksActiveEvals(t *testing.T) {
	ev := NewEvaluator("root", DefaultConfig())
	defer ev.Close()

	result, err := ev.Eval(NewExpression(NewSymbol("+"), NewInteger(1), NewInteger(2)))
	require.NoError(t, err)
	assert.Equal(t, NewInteger(3), result)
	assert.Zero(t, ev.tiered.activeEvals.Load())
}
