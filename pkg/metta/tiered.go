package metta

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/metta-run/metta-core/internal/parallel"
)

// TieredCache is tiered compilation cache: a map from an
// expression's structural hash to the Chunk compiled for it, plus the
// background-compile machinery that promotes a hot chunk from bytecode to
// JIT1 to JIT2 as its JITProfile's execution counter crosses
// Config-supplied thresholds. Entries are kept in an LRU so a
// long-running process doesn't grow the cache unboundedly, mirroring the
// bounded-history convention internal/parallel's ExecutionStats already
// follows for its own counters.
type TieredCache struct {
	cfg   Config
	jit   JIT
	pool  parallel.WorkerPoolInterface
	bg    *parallel.PriorityPool
	group singleflight.Group

	entries *lru.Cache[uint64, *Chunk]

	// activeEvals counts in-flight Evaluator.EvalAll calls. scheduleCompile
	// reads it to pick sequential mode (below cfg.SequentialEvalThreshold:
	// route to pool, the lightweight dynamic pool) or concurrent mode (at
	// or above it: route to bg at PriorityBackgroundCompile, strictly below
	// whatever priority interactive evaluation would run at).
	activeEvals atomic.Int64
}

// NewTieredCache builds a cache using DefaultJIT and a dynamically
// scaling worker pool (internal/parallel's WorkerPool) for background
// compile tasks. Compile bursts are bursty by nature — a hot loop
// crosses both thresholds for a whole family of call-site chunks within
// a handful of samples — so the pool scales workers up under queue
// pressure and back down once the burst drains, rather than paying for
// a fixed worker count at idle.
func NewTieredCache(cfg Config) *TieredCache {
	return NewTieredCacheWithJIT(cfg, DefaultJIT)
}

// NewTieredCacheWithJIT is NewTieredCache with an explicit JIT
// collaborator, for callers substituting a real machine-code backend.
func NewTieredCacheWithJIT(cfg Config, jit JIT) *TieredCache {
	capacity := 4096
	cache, err := lru.New[uint64, *Chunk](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, which capacity
		// above never is.
		panic(fmt.Sprintf("metta: building tiered cache: %v", err))
	}
	return &TieredCache{
		cfg:     cfg,
		jit:     jit,
		pool:    parallel.NewDynamicWorkerPool(4, 1),
		bg:      parallel.NewPriorityPool(2),
		entries: cache,
	}
}

// BeginEval marks one more evaluation as in flight; callers must defer
// EndEval. Evaluator.EvalAll brackets the VM run with this pair so
// scheduleCompile can tell sequential single-evaluation callers apart
// from concurrent ones.
func (tc *TieredCache) BeginEval() { tc.activeEvals.Add(1) }

// EndEval marks one in-flight evaluation as finished.
func (tc *TieredCache) EndEval() { tc.activeEvals.Add(-1) }

// Stats exposes the background compile pool's execution counters, for
// callers that want to log or export them alongside the rest of the
// evaluator's metrics.
func (tc *TieredCache) Stats() *parallel.ExecutionStats {
	return tc.pool.GetStats()
}

// Lookup returns the cached chunk for hash, if any.
func (tc *TieredCache) Lookup(hash uint64) (*Chunk, bool) {
	return tc.entries.Get(hash)
}

// Store installs chunk under its own ExprHash, replacing whatever was
// cached for that hash before.
func (tc *TieredCache) Store(chunk *Chunk) {
	tc.entries.Add(chunk.ExprHash, chunk)
}

// RecordExecution is called once per invocation of chunk (vm.go's
// runLoop does this via chunk.Profile.execCount, mirrored here so the
// cache's promotion decisions and the profile's raw counter never
// diverge). It samples the counter every Config.SamplingInterval
// executions and, crossing a tier's threshold for the first time, spawns
// an async compile task via the worker pool — CAS against the tier's
// atomicTier state is what makes "first time" safe under concurrent
// callers "exactly one compile task in flight per
// tier per chunk" invariant.
func (tc *TieredCache) RecordExecution(chunk *Chunk) {
	count := chunk.Profile.execCount.Add(1)
	if tc.cfg.SamplingInterval > 1 && count%tc.cfg.SamplingInterval != 0 {
		return
	}

	if count >= tc.cfg.JIT2Threshold && chunk.Profile.jit2Tier.cas(tierNotStarted, tierCompiling) {
		tc.scheduleCompile(chunk, tierJIT2)
		return
	}
	if count >= tc.cfg.JIT1Threshold && chunk.Profile.jit1Tier.cas(tierNotStarted, tierCompiling) {
		tc.scheduleCompile(chunk, tierJIT1)
	}
}

type tierKind int

const (
	tierJIT1 tierKind = iota
	tierJIT2
)

// scheduleCompile submits a background compile task for chunk's tier.
// singleflight keys on (hash, tier) so a burst of RecordExecution calls
// crossing the threshold concurrently still only dedupes to one actual
// compile — the CAS above already prevents re-submission once a tier
// leaves NotStarted, singleflight guards the narrower window between the
// CAS succeeding and the task actually running.
//
// Below cfg.SequentialEvalThreshold concurrent evaluations, this is
// "sequential mode": the task goes to the lightweight dynamic pool,
// which scales workers with queue depth. At or above the threshold,
// "concurrent mode" routes the task to the priority scheduler instead,
// at PriorityBackgroundCompile — a priority strictly below interactive
// evaluation — so a burst of concurrent Eval callers never has its CPU
// time eaten by background compiles.
func (tc *TieredCache) scheduleCompile(chunk *Chunk, tier tierKind) {
	key := fmt.Sprintf("%d:%d", chunk.ExprHash, tier)
	task := func() {
		tc.group.Do(key, func() (interface{}, error) {
			tc.compileTier(chunk, tier)
			return nil, nil
		})
	}

	var submitErr error
	if tc.activeEvals.Load() < tc.cfg.SequentialEvalThreshold {
		submitErr = tc.pool.Submit(context.Background(), task)
	} else {
		submitErr = tc.bg.Submit(context.Background(), parallel.PriorityBackgroundCompile, task)
	}
	if submitErr != nil {
		logger.Sugar().Debugw("tiered cache: compile task not submitted", "error", submitErr, "chunk", chunk.Name)
		tc.failTier(chunk, tier)
	}
}

func (tc *TieredCache) compileTier(chunk *Chunk, tier tierKind) {
	var (
		artifact *NativeArtifact
		ready    bool
	)
	taskID := fmt.Sprintf("compile:%d:%d", chunk.ExprHash, tier)
	err := tc.pool.GetDeadlockDetector().ExecuteWithDeadlockProtection(
		context.Background(), taskID, fmt.Sprintf("compile %s tier %d", chunk.Name, tier),
		func(context.Context) error {
			var compileErr error
			switch tier {
			case tierJIT1:
				ready = tc.jit.CanCompileStage1(chunk)
				if ready {
					artifact, compileErr = tc.jit.CompileStage1(chunk)
				}
			case tierJIT2:
				ready = tc.jit.CanCompileStage2(chunk)
				if ready {
					artifact, compileErr = tc.jit.CompileStage2(chunk)
				}
			}
			return compileErr
		},
	)
	if !ready || err != nil {
		tc.failTier(chunk, tier)
		return
	}
	switch tier {
	case tierJIT1:
		chunk.Profile.jit1Artifact.Store(artifact)
		chunk.Profile.jit1Tier.store(tierReady)
	case tierJIT2:
		chunk.Profile.jit2Artifact.Store(artifact)
		chunk.Profile.jit2Tier.store(tierReady)
	}
}

func (tc *TieredCache) failTier(chunk *Chunk, tier tierKind) {
	switch tier {
	case tierJIT1:
		chunk.Profile.jit1Tier.store(tierFailed)
	case tierJIT2:
		chunk.Profile.jit2Tier.store(tierFailed)
	}
}

// BestArtifact returns the highest tier currently ready for chunk — JIT2
// over JIT1 over nothing — always dispatching to the most-compiled
// ready tier and falling back to bytecode otherwise. A nil return means
// the VM should run chunk's bytecode directly.
func (tc *TieredCache) BestArtifact(chunk *Chunk) *NativeArtifact {
	if chunk.Profile.jit2Tier.load() == tierReady {
		if a := chunk.Profile.jit2Artifact.Load(); a != nil {
			return a
		}
	}
	if chunk.Profile.jit1Tier.load() == tierReady {
		if a := chunk.Profile.jit1Artifact.Load(); a != nil {
			return a
		}
	}
	return nil
}

// Close releases the cache's background worker pool. Callers that build
// a TieredCache for the lifetime of a process don't need to call this;
// it matters for short-lived embeddings (tests, one-shot evaluations)
// that want the pool's goroutines torn down promptly.
func (tc *TieredCache) Close() {
	tc.pool.Shutdown()
	tc.bg.Shutdown()
}
