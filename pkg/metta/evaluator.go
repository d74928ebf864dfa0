package metta

// Evaluator is the system-level entry point: an Atom Space plus the
// Rule Dispatcher, Bytecode Compiler, VM, Tiered Compilation Cache and
// Optimizer wired together into one "evaluate an expression against a
// space" operation. Everything below it is usable standalone (Compile,
// NewVM, Optimize are all exported on their own) — Evaluator is the
// convenience façade: a single constructor wiring its collaborators,
// exposing one or two verbs.
type Evaluator struct {
	Env   *Environment
	Space *Space
	Cfg   Config

	tiered *TieredCache
}

// NewEvaluator builds an evaluator over a fresh space named rootSpaceName,
// sharing a fresh Environment (state cells + named-space registry) and
// cfg's tiered-cache thresholds/optimizer toggles.
func NewEvaluator(rootSpaceName string, cfg Config) *Evaluator {
	env := NewEnvironment()
	space := NewSpace(rootSpaceName)
	env.RegisterSpace(rootSpaceName, space)
	return &Evaluator{
		Env:    env,
		Space:  space,
		Cfg:    cfg,
		tiered: NewTieredCache(cfg),
	}
}

// Close releases the evaluator's background compile workers.
func (e *Evaluator) Close() { e.tiered.Close() }

// Eval compiles term (reusing a cached chunk when term's structural hash
// already has one), optimizes it per cfg, and runs it to its first
// result — the single-result entry point.
func (e *Evaluator) Eval(term Term) (Term, error) {
	results, err := e.EvalAll(term, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return Empty{}, nil
	}
	return results[0], nil
}

// EvalAll compiles and runs term, collecting up to max results (max<=0
// for unbounded) by backtracking through every pending nondeterministic
// choice point.
func (e *Evaluator) EvalAll(term Term, max int) ([]Term, error) {
	e.tiered.BeginEval()
	defer e.tiered.EndEval()

	chunk, err := e.chunkFor(term)
	if err != nil {
		return nil, err
	}
	vm := NewVM(e.Env, e.Space, e.Cfg)
	vm.SetTieredCache(e.tiered)
	return vm.RunAll(chunk, max)
}

// chunkFor returns the optimized chunk for term, compiling (and caching)
// it on a miss. The tiered cache is keyed by term's structural hash
// (hashTerm, compiler.go) so repeated evaluation of the same expression —
// e.g. a recursive rule's body — reuses one chunk and one JITProfile
// across calls, which is what lets that profile's execution counter ever
// cross a promotion threshold.
func (e *Evaluator) chunkFor(term Term) (*Chunk, error) {
	hash := hashTerm(term)
	if chunk, ok := e.tiered.Lookup(hash); ok {
		return chunk, nil
	}
	chunk, err := Compile(term)
	if err != nil {
		return nil, err
	}
	chunk.ExprHash = hash
	chunk = Optimize(chunk, e.Cfg)
	e.tiered.Store(chunk)
	return chunk, nil
}

// AddRule installs a rule (or fact) into the evaluator's root space.
func (e *Evaluator) AddRule(t Term) { e.Space.Add(t) }
