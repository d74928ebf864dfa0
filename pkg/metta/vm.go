package metta

const (
	defaultValueStackSize = 4096
	defaultCallStackSize  = 1024
	defaultChoiceStackCap = 256
)

// frame is one call's activation record: the chunk being executed, the
// instruction pointer into it, the value-stack base this call's locals
// are relative to, and the Bindings in effect at entry (pattern variables
// resolved via OpPushVariable read through this, not through locals).
// Grounded on other_examples/kristofer-smog__pkg-vm-vm.go's frame struct
// (chunk + ip + stack-base fields), generalized with a Bindings pointer
// since MeTTa's dynamic pattern variables have no stack-slot analogue.
type frame struct {
	chunk    *Chunk
	ip       int
	base     int
	bindings *Bindings
}

// choicePoint is a snapshot the VM can backtrack to: the exact value- and
// call-stack depths, the resume ip/frame, and the remaining alternatives
// from the Fork that created it. Backtracking is modeled explicitly via
// a choice-point stack of saved (ip, stack depth, frame, bindings)
// snapshots — not via goroutines/channels — because Fail must
// deterministically resume exactly one alternative on the same goroutine.
type choicePoint struct {
	frameIdx     int
	resumeIP     int
	valueDepth   int
	callDepth    int
	bindings     *Bindings
	alternatives []altChoice // remaining alternatives, tried in order
}

// altChoice pairs a pending alternative's value with the bindings in
// effect when it was recorded — rule-dispatch alternatives each carry
// their own unification bindings, while a bare Fork's alternatives all
// share the forking frame's bindings.
type altChoice struct {
	term     Term
	bindings *Bindings
}

// VM is a single-goroutine bytecode interpreter with explicit
// backtracking support. A VM is not safe for concurrent use; callers run
// one VM per goroutine, matching single-threaded
// evaluation model (parallelism lives in the tiered-cache scheduler, not
// inside one evaluation).
type VM struct {
	values []Term
	frames []frame
	points []choicePoint

	env   *Environment
	space *Space

	cfg Config

	tiered *TieredCache // optional; nil means every call runs chunk's bytecode directly

	collectMarks []int // choice-point-stack depths recorded by BeginNondet, consulted by Collect
}

// NewVM creates a VM evaluating against space, sharing env's global state
// cells and named-space registry.
func NewVM(env *Environment, space *Space, cfg Config) *VM {
	return &VM{
		values: make([]Term, 0, defaultValueStackSize),
		frames: make([]frame, 0, defaultCallStackSize),
		points: make([]choicePoint, 0, defaultChoiceStackCap),
		env:    env,
		space:  space,
		cfg:    cfg,
	}
}

// SetTieredCache attaches a tiered compilation cache: runLoop will record
// every invocation against it and, once a chunk's JIT1/JIT2 tier is
// ready, dispatch to its compiled artifact instead of walking bytecode.
func (vm *VM) SetTieredCache(tc *TieredCache) { vm.tiered = tc }

func (vm *VM) push(t Term) { vm.values = append(vm.values, t) }

func (vm *VM) pop() (Term, error) {
	if len(vm.values) == 0 {
		return nil, newVmError(ErrStackUnderflow, "pop on empty value stack")
	}
	t := vm.values[len(vm.values)-1]
	vm.values = vm.values[:len(vm.values)-1]
	return t, nil
}

func (vm *VM) peek() (Term, error) {
	if len(vm.values) == 0 {
		return nil, newVmError(ErrStackUnderflow, "peek on empty value stack")
	}
	return vm.values[len(vm.values)-1], nil
}

func (vm *VM) curFrame() *frame { return &vm.frames[len(vm.frames)-1] }

// Run executes an already compiled chunk to completion from the top level,
// returning its single result. Chunks containing nondeterminism may
// leave additional choice points pending; callers that need every
// solution should call RunAll instead.
func (vm *VM) Run(chunk *Chunk) (Term, error) {
	results, err := vm.RunAll(chunk, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return Empty{}, nil
	}
	return results[0], nil
}

// RunAll executes chunk, collecting up to max results (max<=0 means
// unbounded) by backtracking into any pending choice points after each
// result nondeterministic-evaluation contract.
func (vm *VM) RunAll(chunk *Chunk, max int) ([]Term, error) {
	vm.values = vm.values[:0]
	vm.frames = append(vm.frames[:0], frame{chunk: chunk, ip: 0, base: 0, bindings: NewBindings()})
	vm.points = vm.points[:0]

	var results []Term
	for {
		result, err := vm.runLoop()
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if max > 0 && len(results) >= max {
			return results, nil
		}
		if !vm.backtrack() {
			return results, nil
		}
	}
}

// runLoop executes until a Return at the top frame produces a value, or a
// fatal error occurs. It records one execution against the chunk's
// JITProfile on entry "each invocation, successful or
// not, counts toward promotion".
func (vm *VM) runLoop() (Term, error) {
	if len(vm.frames) == 0 {
		return nil, newVmError(ErrHalted, "no active frame")
	}
	entryChunk := vm.curFrame().chunk
	if vm.tiered != nil {
		vm.tiered.RecordExecution(entryChunk)
		if artifact := vm.tiered.BestArtifact(entryChunk); artifact != nil {
			baseSP := len(vm.values) - entryChunk.Arity
			if baseSP < 0 {
				baseSP = 0
			}
			outcome, err := artifact.Run(vm, baseSP, len(vm.frames)-1)
			if err != nil {
				return nil, err
			}
			switch outcome.Kind {
			case NativeContinue:
				vm.frames = vm.frames[:len(vm.frames)-1]
				return vm.pop()
			case NativeBail:
				vm.curFrame().ip = outcome.ResumeIP
			}
		}
	} else {
		entryChunk.Profile.execCount.Add(1)
	}

	for {
		if len(vm.frames) == 0 {
			return vm.pop()
		}
		f := vm.curFrame()
		if f.ip >= len(f.chunk.Code) {
			return nil, newVmError(ErrInvalidOpcode, "ip ran off the end of %s", f.chunk.Name)
		}
		op := Opcode(f.chunk.Code[f.ip])
		f.ip++

		done, result, err := vm.exec(op, f)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
	}
}

// exec executes a single opcode against the current frame f, returning
// (true, result, nil) when evaluation is complete (a top-level Return),
// or (false, nil, nil) to keep looping. Organized by // opcode categories.
func (vm *VM) exec(op Opcode, f *frame) (bool, Term, error) {
	switch {
	case op <= OpSwap:
		return vm.execStack(op)
	case op <= OpPushQuoted:
		return false, nil, vm.execPushValue(op, f)
	case op <= OpPushVariable:
		return false, nil, vm.execVariable(op, f)
	case op <= OpMakeSExprLarge:
		return false, nil, vm.execMakeSExpr(op, f)
	case op <= OpHalt:
		return vm.execControlFlow(op, f)
	case op <= OpMatchArity:
		return false, nil, vm.execPatternMatch(op, f)
	case op <= OpTailCall:
		return false, nil, vm.execDispatch(op, f)
	case op <= OpNe:
		return false, nil, vm.execArithCompare(op)
	case op <= OpXor:
		return false, nil, vm.execBoolean(op)
	case op <= OpUnwrapType:
		return false, nil, vm.execType(op)
	case op <= OpCommit:
		return vm.execNondet(op, f)
	case op <= OpFoldlAtom:
		return false, nil, vm.execHigherOrder(op, f)
	case op == OpEvalEval || op == OpEvalMatch:
		return false, nil, vm.execSpecialForm(op, f)
	case op <= OpChangeState:
		return false, nil, vm.execSpaceState(op)
	case op == OpDebugLine:
		f.ip += 2
		return false, nil, nil
	default:
		return false, nil, newVmError(ErrInvalidOpcode, "unrecognized opcode %d", op)
	}
}

func (vm *VM) execStack(op Opcode) (bool, Term, error) {
	switch op {
	case OpNop:
		return false, nil, nil
	case OpPop:
		_, err := vm.pop()
		return false, nil, err
	case OpDup:
		t, err := vm.peek()
		if err != nil {
			return false, nil, err
		}
		vm.push(t)
		return false, nil, nil
	case OpSwap:
		if len(vm.values) < 2 {
			return false, nil, newVmError(ErrStackUnderflow, "swap needs 2 values")
		}
		n := len(vm.values)
		vm.values[n-1], vm.values[n-2] = vm.values[n-2], vm.values[n-1]
		return false, nil, nil
	}
	return false, nil, newVmError(ErrInvalidOpcode, "not a stack op: %d", op)
}

func readU16(code []byte, at int) int { return int(code[at])<<8 | int(code[at+1]) }

func (vm *VM) execPushValue(op Opcode, f *frame) error {
	switch op {
	case OpPushLongSmall:
		v := int8(f.chunk.Code[f.ip])
		f.ip++
		vm.push(NewInteger(int64(v)))
	case OpPushLong, OpPushFloat, OpPushString, OpPushAtom, OpPushQuoted:
		idx := readU16(f.chunk.Code, f.ip)
		f.ip += 2
		if idx >= len(f.chunk.Constants) {
			return newVmError(ErrInvalidConstant, "constant index %d out of range", idx)
		}
		vm.push(f.chunk.Constants[idx])
	case OpPushTrue:
		vm.push(NewBool(true))
	case OpPushFalse:
		vm.push(NewBool(false))
	case OpPushNil:
		vm.push(Nil{})
	case OpPushUnit:
		vm.push(Unit{})
	case OpPushEmptyTerm:
		vm.push(Empty{})
	default:
		return newVmError(ErrInvalidOpcode, "not a value-push op: %d", op)
	}
	return nil
}

func (vm *VM) execVariable(op Opcode, f *frame) error {
	switch op {
	case OpLoadLocal:
		slot := int(f.chunk.Code[f.ip])
		f.ip++
		idx := f.base + slot
		if idx < 0 || idx >= len(vm.values) {
			return newVmError(ErrInvalidLocal, "local slot %d out of range", slot)
		}
		vm.push(vm.values[idx])
	case OpStoreLocal:
		slot := int(f.chunk.Code[f.ip])
		f.ip++
		v, err := vm.pop()
		if err != nil {
			return err
		}
		idx := f.base + slot
		for idx >= len(vm.values) {
			vm.values = append(vm.values, Unit{})
		}
		vm.values[idx] = v
	case OpLoadUpvalue:
		// A sub-chunk runs standalone with no enclosing frame to read
		// through, so upvalues are not supported at runtime. The compiler
		// emits this opcode when a nested map/filter/foldl template refers
		// to an enclosing template's parameter; such a template fails
		// here with ErrInvalidLocal.
		f.ip++
		return newVmError(ErrInvalidLocal, "upvalue capture unsupported at runtime")
	case OpPushVariable:
		idx := readU16(f.chunk.Code, f.ip)
		f.ip += 2
		if idx >= len(f.chunk.Constants) {
			return newVmError(ErrInvalidConstant, "constant index %d out of range", idx)
		}
		name, ok := f.chunk.Constants[idx].(Variable)
		if !ok {
			return newVmError(ErrInvalidConstant, "constant %d is not a variable", idx)
		}
		vm.push(f.bindings.Walk(name))
	default:
		return newVmError(ErrInvalidOpcode, "not a variable op: %d", op)
	}
	return nil
}

func (vm *VM) execMakeSExpr(op Opcode, f *frame) error {
	var n int
	switch op {
	case OpMakeSExpr:
		n = int(f.chunk.Code[f.ip])
		f.ip++
	case OpMakeSExprLarge:
		idx := readU16(f.chunk.Code, f.ip)
		f.ip += 2
		lit, ok := f.chunk.Constants[idx].(Integer)
		if !ok {
			return newVmError(ErrInvalidConstant, "MakeSExprLarge count constant is not an integer")
		}
		n = int(lit.Value)
	default:
		return newVmError(ErrInvalidOpcode, "not a make-sexpr op: %d", op)
	}
	if len(vm.values) < n {
		return newVmError(ErrStackUnderflow, "MakeSExpr needs %d values", n)
	}
	items := make([]Term, n)
	copy(items, vm.values[len(vm.values)-n:])
	vm.values = vm.values[:len(vm.values)-n]
	vm.push(Expression{Items: items})
	return nil
}

func (vm *VM) execControlFlow(op Opcode, f *frame) (bool, Term, error) {
	switch op {
	case OpJump:
		off := int16(readU16(f.chunk.Code, f.ip))
		f.ip += 2 + int(off)
		return false, nil, nil
	case OpJumpShort:
		off := int8(f.chunk.Code[f.ip])
		f.ip += 1 + int(off)
		return false, nil, nil
	case OpJumpIfFalse, OpJumpIfTrue:
		off := int16(readU16(f.chunk.Code, f.ip))
		f.ip += 2
		t, err := vm.pop()
		if err != nil {
			return false, nil, err
		}
		b, _ := t.(Bool)
		cond := b.Value
		if op == OpJumpIfFalse {
			cond = !cond
		}
		if cond {
			f.ip += int(off)
		}
		return false, nil, nil
	case OpJumpIfNil:
		off := int16(readU16(f.chunk.Code, f.ip))
		f.ip += 2
		t, err := vm.peek()
		if err != nil {
			return false, nil, err
		}
		if _, isNil := t.(Nil); isNil {
			f.ip += int(off)
		}
		return false, nil, nil
	case OpJumpIfError:
		off := int16(readU16(f.chunk.Code, f.ip))
		f.ip += 2
		t, err := vm.peek()
		if err != nil {
			return false, nil, err
		}
		if _, isErr := t.(ErrorTerm); isErr {
			f.ip += int(off)
		}
		return false, nil, nil
	case OpReturn:
		return vm.doReturn()
	case OpReturnMulti:
		return vm.doReturn()
	case OpHalt:
		result, _ := vm.peek()
		return true, result, nil
	}
	return false, nil, newVmError(ErrInvalidOpcode, "not a control-flow op: %d", op)
}

// doReturn pops the current frame. A return from the outermost frame ends
// evaluation; otherwise execution resumes in the caller.
func (vm *VM) doReturn() (bool, Term, error) {
	result, err := vm.pop()
	if err != nil {
		return false, nil, err
	}
	vm.values = vm.values[:vm.curFrame().base]
	vm.frames = vm.frames[:len(vm.frames)-1]
	if len(vm.frames) == 0 {
		return true, result, nil
	}
	vm.push(result)
	return false, nil, nil
}

func (vm *VM) execPatternMatch(op Opcode, f *frame) error {
	switch op {
	case OpMatch, OpMatchBind:
		pattern, err := vm.pop()
		if err != nil {
			return err
		}
		value, err := vm.pop()
		if err != nil {
			return err
		}
		bindings, ok := Unify(pattern, value, f.bindings)
		if ok && op == OpMatchBind {
			f.bindings = bindings
		}
		vm.push(NewBool(ok))
		return nil
	case OpUnifyBind:
		b, err := vm.pop()
		if err != nil {
			return err
		}
		a, err := vm.pop()
		if err != nil {
			return err
		}
		bindings, ok := Unify(a, b, f.bindings)
		if ok {
			f.bindings = bindings
		}
		vm.push(NewBool(ok))
		return nil
	case OpMatchHead:
		idx := readU16(f.chunk.Code, f.ip)
		f.ip += 2
		sym, _ := f.chunk.Constants[idx].(Symbol)
		t, err := vm.peek()
		if err != nil {
			return err
		}
		expr, ok := t.(Expression)
		match := ok
		if match {
			h, hok := expr.HeadSymbol()
			match = hok && h == sym.Name
		}
		vm.push(NewBool(match))
		return nil
	case OpMatchArity:
		arity := int(f.chunk.Code[f.ip])
		f.ip++
		t, err := vm.peek()
		if err != nil {
			return err
		}
		expr, ok := t.(Expression)
		vm.push(NewBool(ok && expr.Arity() == arity))
		return nil
	}
	return newVmError(ErrInvalidOpcode, "not a pattern-match op: %d", op)
}

func (vm *VM) execDispatch(op Opcode, f *frame) error {
	headIdx := readU16(f.chunk.Code, f.ip)
	f.ip += 2
	arity := int(f.chunk.Code[f.ip])
	f.ip++

	sym, _ := f.chunk.Constants[headIdx].(Symbol)
	if len(vm.values) < arity {
		return newVmError(ErrStackUnderflow, "call needs %d arguments", arity)
	}
	argStart := len(vm.values) - arity
	items := make([]Term, arity+1)
	items[0] = sym
	copy(items[1:], vm.values[argStart:])
	vm.values = vm.values[:argStart]
	call := Expression{Items: items}

	matches := vm.space.Dispatch(call)
	if len(matches) == 0 {
		vm.push(NewExecError(ExecRuntime, "no rule matches %s", call.String()))
		return nil
	}
	chosen := matches[0]
	if len(matches) > 1 {
		alts := make([]altChoice, len(matches)-1)
		for i, m := range matches[1:] {
			alts[i] = altChoice{term: m.Bindings.Apply(m.Rule.RHS), bindings: m.Bindings}
		}
		vm.pushChoicePoint(f, alts)
	}

	result := chosen.Bindings.Apply(chosen.Rule.RHS)
	if op == OpTailCall {
		return vm.execTailCall(f, result)
	}
	vm.push(result)
	return vm.forceEval(f)
}

// execTailCall installs result as the current frame's next computation in
// place of recursing: a tail-position call's bytecode already ends in
// Return right after the Call/TailCall instruction, so overwriting f's
// chunk/ip here and letting runLoop's outer loop continue has exactly the
// effect of returning result, without pushing a new frame or recursing
// through Go's call stack. A chain of tail calls therefore runs in O(1)
// frames regardless of how many rules fire.
//
// result needs no further reduction when it is already a ground value or
// an unresolved Variable; only an Expression requires compiling a fresh
// chunk to keep evaluating.
func (vm *VM) execTailCall(f *frame, result Term) error {
	switch v := result.(type) {
	case Expression:
		chunk, err := Compile(f.bindings.Apply(v))
		if err != nil {
			return err
		}
		f.chunk = chunk
		f.ip = 0
		f.base = len(vm.values)
		f.bindings = NewBindings()
		return nil
	case Variable:
		vm.push(f.bindings.Walk(v))
		return nil
	default:
		vm.push(v)
		return nil
	}
}

// pushChoicePoint installs a choice point at frame f's current position so
// that a later Fail/backtrack resumes evaluation with the next
// alternative nondeterministic dispatch/Fork model. Every alternative's
// space handles are isolated first (see isolateChoiceSpaces), so two
// branches recorded in the same choice point never observe each other's
// mutations to a space they both reference.
func (vm *VM) pushChoicePoint(f *frame, alternatives []altChoice) {
	alternatives = vm.isolateChoiceSpaces(alternatives)
	vm.points = append(vm.points, choicePoint{
		frameIdx:     len(vm.frames) - 1,
		resumeIP:     f.ip,
		valueDepth:   len(vm.values),
		callDepth:    len(vm.frames),
		bindings:     f.bindings,
		alternatives: alternatives,
	})
}

// isolateChoiceSpaces rewrites each alternative so that any space handle
// it references (in its term or its bindings) points at a branch-private
// fork instead of the space the choice point as a whole was created
// from. This is the fork-isolation half of the nondeterminism model:
// without it, two alternatives of the same choice point that both hold a
// handle to the same space would see each other's Space.Add/Remove calls
// once one of them ran, defeating the independence backtracking is
// supposed to provide. Alternatives with no space handle anywhere in
// their term or bindings are left untouched — most choice points (plain
// arithmetic rule dispatch, for instance) never reference a space at
// all, so the common case pays nothing for this.
func (vm *VM) isolateChoiceSpaces(alternatives []altChoice) []altChoice {
	for i, alt := range alternatives {
		seen := make(map[uint64]bool)
		var ids []uint64
		collectSpaceHandleIDs(alt.term, seen, &ids)
		if alt.bindings != nil {
			for _, v := range alt.bindings.values {
				collectSpaceHandleIDs(v, seen, &ids)
			}
		}
		if len(ids) == 0 {
			continue
		}
		term := alt.term
		bindings := alt.bindings
		for _, id := range ids {
			space, ok := vm.lookupSpaceByHandle(SpaceHandle{ID: id})
			if !ok {
				continue
			}
			fork := vm.env.ForkSpaceForBranch(space)
			term = rewriteSpaceHandle(term, id, fork)
			bindings = vm.env.ForkBindingsSpaceHandles(bindings, id, fork)
		}
		alternatives[i] = altChoice{term: term, bindings: bindings}
	}
	return alternatives
}

// forceEval re-enters a value sitting on top of the stack when it is
// itself an unreduced Expression whose head is now resolvable — the
// shared mechanic behind OpEvalEval, rule-body results, and Fork
// resumption. Ground values and already-evaluated compounds pass through
// unchanged.
func (vm *VM) forceEval(f *frame) error {
	t, err := vm.pop()
	if err != nil {
		return err
	}
	reduced, err := vm.reduce(t, f.bindings)
	if err != nil {
		return err
	}
	vm.push(reduced)
	return nil
}

// reduce fully evaluates t against space/env without growing the VM's own
// frame stack, by compiling it into a disposable chunk and running it on
// a nested VM — which does recurse through Go's call stack, one level
// per non-tail evaluation. This is the interpreter's "force a
// quoted/returned term" primitive for genuinely non-tail uses
// (OpEvalEval, Fork branch resumption, a non-tail Call's rule-body
// result); a tail-position Call instead goes through execTailCall, which
// reuses the current frame in place and never recurses.
func (vm *VM) reduce(t Term, bindings *Bindings) (Term, error) {
	switch v := t.(type) {
	case Integer, Float, Bool, String, Nil, Unit, Empty, ErrorTerm, SpaceHandle, StateHandle, MemoHandle, Symbol:
		return v, nil
	case Variable:
		return bindings.Walk(v), nil
	case Expression:
		chunk, err := Compile(bindings.Apply(v))
		if err != nil {
			return nil, err
		}
		sub := NewVM(vm.env, vm.space, vm.cfg)
		return sub.Run(chunk)
	default:
		return t, nil
	}
}

func (vm *VM) execHigherOrder(op Opcode, f *frame) error {
	idx := readU16(f.chunk.Code, f.ip)
	f.ip += 2
	sub := f.chunk.SubChunks[idx]

	switch op {
	case OpMapAtom:
		coll, err := vm.pop()
		if err != nil {
			return err
		}
		items, ok := asItemList(coll)
		if !ok {
			vm.push(NewExecError(ExecTypeError, "map-atom: not a collection: %s", coll.String()))
			return nil
		}
		out := make([]Term, len(items))
		for i, it := range items {
			r, err := vm.callSubChunk(sub, []Term{it})
			if err != nil {
				return err
			}
			out[i] = r
		}
		vm.push(Expression{Items: out})
		return nil
	case OpFilterAtom:
		coll, err := vm.pop()
		if err != nil {
			return err
		}
		items, ok := asItemList(coll)
		if !ok {
			vm.push(NewExecError(ExecTypeError, "filter-atom: not a collection: %s", coll.String()))
			return nil
		}
		var out []Term
		for _, it := range items {
			r, err := vm.callSubChunk(sub, []Term{it})
			if err != nil {
				return err
			}
			if b, ok := r.(Bool); ok && b.Value {
				out = append(out, it)
			}
		}
		vm.push(Expression{Items: out})
		return nil
	case OpFoldlAtom:
		initVal, err := vm.pop()
		if err != nil {
			return err
		}
		coll, err := vm.pop()
		if err != nil {
			return err
		}
		items, ok := asItemList(coll)
		if !ok {
			vm.push(NewExecError(ExecTypeError, "foldl-atom: not a collection: %s", coll.String()))
			return nil
		}
		acc := initVal
		for _, it := range items {
			acc, err = vm.callSubChunk(sub, []Term{acc, it})
			if err != nil {
				return err
			}
		}
		vm.push(acc)
		return nil
	}
	return newVmError(ErrInvalidOpcode, "not a higher-order op: %d", op)
}

func asItemList(t Term) ([]Term, bool) {
	switch v := t.(type) {
	case Expression:
		return v.Items, true
	case Nil:
		return nil, true
	}
	return nil, false
}

// callSubChunk runs sub as a nested call with args bound to its declared
// parameter locals (slots 0..len(args)-1), sharing the caller's
// env/space/cfg but its own frame/value region.
func (vm *VM) callSubChunk(sub *Chunk, args []Term) (Term, error) {
	inner := NewVM(vm.env, vm.space, vm.cfg)
	inner.values = append(inner.values, args...)
	inner.frames = append(inner.frames, frame{chunk: sub, ip: 0, base: 0, bindings: NewBindings()})
	return inner.runLoop()
}

func (vm *VM) execSpecialForm(op Opcode, f *frame) error {
	switch op {
	case OpEvalEval:
		return vm.forceEval(f)
	case OpEvalMatch:
		def, err := vm.pop()
		if err != nil {
			return err
		}
		template, err := vm.pop()
		if err != nil {
			return err
		}
		pattern, err := vm.pop()
		if err != nil {
			return err
		}
		handle, err := vm.pop()
		if err != nil {
			return err
		}
		sh, ok := handle.(SpaceHandle)
		target := vm.space
		if ok {
			if named, found := vm.lookupSpaceByHandle(sh); found {
				target = named
			}
		}
		results := target.Match(pattern, template)
		if len(results) == 0 {
			vm.push(def)
			return nil
		}
		if len(results) == 1 {
			vm.push(results[0])
			return nil
		}
		alts := make([]altChoice, len(results)-1)
		for i, r := range results[1:] {
			alts[i] = altChoice{term: r, bindings: f.bindings}
		}
		vm.pushChoicePoint(f, alts)
		vm.push(results[0])
		return nil
	}
	return newVmError(ErrInvalidOpcode, "not a special form op: %d", op)
}

func (vm *VM) lookupSpaceByHandle(h SpaceHandle) (*Space, bool) {
	// ID-registered lookup first: a branch fork (see isolateChoiceSpaces)
	// only ever registers by ID, and checking it ahead of the name
	// registry keeps two branches that forked the same named space from
	// both resolving back to whichever fork registered its name last.
	if s, ok := vm.env.LookupSpaceByID(h.ID); ok {
		return s, true
	}
	if h.Name != "" {
		return vm.env.LookupSpace(h.Name)
	}
	if vm.space != nil && vm.space.id == h.ID {
		return vm.space, true
	}
	return nil, false
}

func (vm *VM) execSpaceState(op Opcode) error {
	switch op {
	case OpSpaceAdd:
		t, err := vm.pop()
		if err != nil {
			return err
		}
		vm.space.Add(t)
		vm.push(Unit{})
		return nil
	case OpSpaceRemove:
		t, err := vm.pop()
		if err != nil {
			return err
		}
		vm.push(NewBool(vm.space.Remove(t)))
		return nil
	case OpSpaceMatch:
		template, err := vm.pop()
		if err != nil {
			return err
		}
		pattern, err := vm.pop()
		if err != nil {
			return err
		}
		results := vm.space.Match(pattern, template)
		vm.push(Expression{Items: results})
		return nil
	case OpSpaceGetAtoms:
		vm.push(Expression{Items: vm.space.All()})
		return nil
	case OpNewState:
		initial, err := vm.pop()
		if err != nil {
			return err
		}
		vm.push(vm.env.NewState(initial))
		return nil
	case OpGetState:
		t, err := vm.pop()
		if err != nil {
			return err
		}
		h, ok := t.(StateHandle)
		if !ok {
			vm.push(NewExecError(ExecTypeError, "get-state: not a state handle: %s", t.String()))
			return nil
		}
		vm.push(vm.env.GetState(h))
		return nil
	case OpChangeState:
		value, err := vm.pop()
		if err != nil {
			return err
		}
		t, err := vm.pop()
		if err != nil {
			return err
		}
		h, ok := t.(StateHandle)
		if !ok {
			vm.push(NewExecError(ExecTypeError, "change-state!: not a state handle: %s", t.String()))
			return nil
		}
		vm.env.ChangeState(h, value)
		vm.push(Unit{})
		return nil
	}
	return newVmError(ErrInvalidOpcode, "not a space/state op: %d", op)
}

func (vm *VM) execType(op Opcode) error {
	t, err := vm.pop()
	if err != nil {
		return err
	}
	switch op {
	case OpWrapType:
		vm.push(NewType(t))
	case OpUnwrapType:
		if tt, ok := t.(TypeTerm); ok {
			vm.push(tt.Inner)
		} else {
			vm.push(t)
		}
	default:
		return newVmError(ErrInvalidOpcode, "not a type op: %d", op)
	}
	return nil
}
