package metta

// JIT is the external machine-code-generation collaborator: given a
// chunk, produce a NativeArtifact satisfying the native-call ABI, or an
// error. CanCompileStage1/CanCompileStage2 gate whether a stage's
// compilation is even attempted. This core ships no real native-code
// backend — only the gate/promotion state machine around the JIT needs
// to be exercised end-to-end, not actual machine code — so both stages
// below are a deterministic closure that runs the same Chunk the
// bytecode tier already runs on a nested bytecode VM, wrapped to satisfy
// the NativeArtifact ABI.
type JIT interface {
	CanCompileStage1(chunk *Chunk) bool
	CompileStage1(chunk *Chunk) (*NativeArtifact, error)
	CanCompileStage2(chunk *Chunk) bool
	CompileStage2(chunk *Chunk) (*NativeArtifact, error)
}

// fallbackJIT is the closure implementation of JIT described
// above. Both stages produce the same kind of artifact; stage 2 exists as
// a distinct method only so the tiered cache's promotion ladder has a
// second, independently-gated rung to promote into, matching the
// three-tier (bytecode, JIT1, JIT2) structure.
type fallbackJIT struct{}

// DefaultJIT is the JIT collaborator wired into NewTieredCache by
// default; callers with a real machine-code backend can substitute their
// own JIT implementation.
var DefaultJIT JIT = fallbackJIT{}

func (fallbackJIT) CanCompileStage1(chunk *Chunk) bool { return !chunk.HasNondeterminism }
func (fallbackJIT) CanCompileStage2(chunk *Chunk) bool { return !chunk.HasNondeterminism }

func (fallbackJIT) CompileStage1(chunk *Chunk) (*NativeArtifact, error) {
	return compileFallbackArtifact(chunk)
}

func (fallbackJIT) CompileStage2(chunk *Chunk) (*NativeArtifact, error) {
	return compileFallbackArtifact(chunk)
}

// compileFallbackArtifact builds a NativeArtifact whose Run method simply
// re-enters the VM's ordinary bytecode loop on a fresh nested frame for
// chunk — the "native code" is indistinguishable from bytecode
// execution, by design, since no real code generator exists here.
func compileFallbackArtifact(chunk *Chunk) (*NativeArtifact, error) {
	return &NativeArtifact{
		Run: func(vm *VM, baseSP, baseBindings int) (NativeOutcome, error) {
			inner := NewVM(vm.env, vm.space, vm.cfg)
			inner.values = append(inner.values, vm.values[baseSP:]...)
			bindings := NewBindings()
			if baseBindings >= 0 && baseBindings < len(vm.frames) {
				bindings = vm.frames[baseBindings].bindings
			}
			inner.frames = append(inner.frames, frame{chunk: chunk, ip: 0, base: 0, bindings: bindings})
			result, err := inner.runLoop()
			if err != nil {
				return NativeOutcome{Kind: NativeError}, err
			}
			vm.values = vm.values[:baseSP]
			vm.push(result)
			return NativeOutcome{Kind: NativeContinue}, nil
		},
	}, nil
}
