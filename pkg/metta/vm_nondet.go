package metta

// execNondet implements the nondeterminism opcode family: Fork creates a
// choice point and commits to its first alternative; Fail/Backtrack
// resume the most recent one; Cut/Commit discard pending alternatives
// (committing to the current branch); Collect/CollectN drain every
// remaining alternative into a result list; BeginNondet/EndNondet
// bracket a region Collect can scope to; Yield and Amb/Guard round out
// the instruction set the opcode table reserves even though this
// compiler's surface forms only ever emit Fork directly.
func (vm *VM) execNondet(op Opcode, f *frame) (bool, Term, error) {
	switch op {
	case OpFork:
		return false, nil, vm.execFork(f)
	case OpYield:
		return false, nil, nil // cooperative suspension has no observable effect in this single-pass core
	case OpCollect:
		return false, nil, vm.execCollect(f, -1)
	case OpCollectN:
		n := int(f.chunk.Code[f.ip])
		f.ip++
		return false, nil, vm.execCollect(f, n)
	case OpBeginNondet:
		vm.collectMarks = append(vm.collectMarks, len(vm.points))
		return false, nil, nil
	case OpEndNondet:
		if len(vm.collectMarks) > 0 {
			vm.collectMarks = vm.collectMarks[:len(vm.collectMarks)-1]
		}
		return false, nil, nil
	case OpCut, OpCommit:
		vm.points = vm.points[:0]
		return false, nil, nil
	case OpFail, OpBacktrack:
		if vm.backtrack() {
			return false, nil, nil
		}
		return true, Empty{}, nil
	case OpAmb:
		b, err := vm.pop()
		if err != nil {
			return false, nil, err
		}
		a, err := vm.pop()
		if err != nil {
			return false, nil, err
		}
		vm.pushChoicePoint(f, []altChoice{{term: b, bindings: f.bindings}})
		vm.push(a)
		return false, nil, nil
	case OpGuard:
		cond, err := vm.pop()
		if err != nil {
			return false, nil, err
		}
		b, _ := cond.(Bool)
		if b.Value {
			return false, nil, nil
		}
		if vm.backtrack() {
			return false, nil, nil
		}
		return true, Empty{}, nil
	}
	return false, nil, newVmError(ErrInvalidOpcode, "not a nondeterminism op: %d", op)
}

// execFork reads Fork's `n idx0 idx1 ... idxN-1` immediate, installs a
// choice point for alternatives 1..N-1, and force-evaluates alternative 0.
func (vm *VM) execFork(f *frame) error {
	n := int(f.chunk.Code[f.ip])
	f.ip++
	alts := make([]Term, n)
	for i := 0; i < n; i++ {
		idx := readU16(f.chunk.Code, f.ip)
		f.ip += 2
		if idx >= len(f.chunk.Constants) {
			return newVmError(ErrInvalidConstant, "Fork alternative index %d out of range", idx)
		}
		alts[i] = f.chunk.Constants[idx]
	}
	if n == 0 {
		vm.push(Empty{})
		return nil
	}
	if n > 1 {
		rest := make([]altChoice, n-1)
		for i, t := range alts[1:] {
			rest[i] = altChoice{term: t, bindings: f.bindings}
		}
		vm.pushChoicePoint(f, rest)
	}
	reduced, err := vm.reduce(alts[0], f.bindings)
	if err != nil {
		return err
	}
	vm.push(reduced)
	return nil
}

// execCollect pops the in-progress branch's current result, then
// repeatedly backtracks into remaining choice points — fully re-running
// each resumed branch to completion — accumulating every result (bounded
// to n when n>=0) into a single Expression pushed back on the stack. This
// is the "drain to a list" half of superpose's nondeterminism, the
// counterpart to RunAll draining to multiple top-level results.
func (vm *VM) execCollect(f *frame, n int) error {
	first, err := vm.pop()
	if err != nil {
		return err
	}
	results := []Term{first}
	for (n < 0 || len(results) < n) && len(vm.points) > 0 {
		if !vm.backtrack() {
			break
		}
		r, err := vm.runLoop()
		if err != nil {
			return err
		}
		results = append(results, r)
	}
	vm.push(Expression{Items: results})
	return nil
}

// backtrack restores the VM to the most recent choice point's snapshot
// and commits to its next alternative, leaving that alternative's
// force-evaluated value on top of the stack. It reports false once no
// choice points remain.
func (vm *VM) backtrack() bool {
	for len(vm.points) > 0 {
		cp := vm.points[len(vm.points)-1]
		vm.points = vm.points[:len(vm.points)-1]
		if len(cp.alternatives) == 0 {
			continue
		}
		next := cp.alternatives[0]
		rest := cp.alternatives[1:]

		vm.values = vm.values[:cp.valueDepth]
		vm.frames = vm.frames[:cp.callDepth]
		if cp.frameIdx >= len(vm.frames) {
			continue // the frame that forked has since returned; this point is stale
		}
		vm.frames[cp.frameIdx].ip = cp.resumeIP
		vm.frames[cp.frameIdx].bindings = cp.bindings

		if len(rest) > 0 {
			cp.alternatives = rest
			vm.points = append(vm.points, cp)
		}

		reduced, err := vm.reduce(next.term, next.bindings)
		if err != nil {
			vm.push(NewExecError(ExecRuntime, "backtrack: %s", err.Error()))
			return true
		}
		vm.push(reduced)
		return true
	}
	return false
}
