package metta

// compileSuperpose lowers (superpose (e1 e2 ... en)) — and, leniently,
// the bare (superpose e1 e2 ... en) form some callers use — to OpFork.
// Each alternative is quoted as a literal term constant. OpFork's shape
// is imm8 n, followed by n idx16 constant indices, so the alternatives
// are resolved to data here at compile time and force-evaluated by the
// VM when each branch is entered (the same force-evaluation OpEvalEval
// performs for a bare eval).
func compileSuperpose(ctx *compilerCtx, args []Term) error {
	var items []Term
	if len(args) == 1 {
		if list, ok := args[0].(Expression); ok {
			items = list.Items
		}
	}
	if items == nil {
		items = args
	}
	if len(items) == 0 {
		return newCompileError(ErrInvalidArity, "superpose requires at least one alternative")
	}
	if len(items) > 255 {
		return newCompileError(ErrInvalidArity, "superpose supports at most 255 alternatives, got %d", len(items))
	}

	indices := make([]int, len(items))
	for i, alt := range items {
		idx, err := ctx.chunk.ConstantIndex(alt)
		if err != nil {
			return err
		}
		indices[i] = idx
	}

	emit(ctx.chunk, OpFork)
	ctx.chunk.Code = append(ctx.chunk.Code, byte(len(indices)))
	for _, idx := range indices {
		ctx.chunk.Code = append(ctx.chunk.Code, byte(idx>>8), byte(idx))
	}
	return nil
}

// compileTemplateSubChunk compiles template in a fresh child context whose
// locals are exactly params, in order, bound to consecutive frame-base
// slots by the VM's calling convention for sub-chunks (the callee frame
// base is the first argument's slot, so no explicit store opcode is
// needed: each parameter is declared as the local whose slot its
// argument already occupies).
func compileTemplateSubChunk(parent *compilerCtx, name string, params []string, template Term) (*Chunk, error) {
	sub := NewChunk(name)
	sub.Arity = len(params)
	subCtx := newCompilerCtx(parent, sub)
	subCtx.tailPos = true
	for _, p := range params {
		subCtx.declareLocal(p)
	}
	if err := compileTerm(subCtx, template); err != nil {
		return nil, err
	}
	emit(sub, OpReturn)
	sub.recomputeNondeterminism()
	sub.ExprHash = hashTerm(template)
	return sub, nil
}

// compileMapAtom lowers (map-atom collection $var template): collection is
// evaluated, template is compiled into a one-parameter sub-chunk the VM
// applies to every element.
func compileMapAtom(ctx *compilerCtx, args []Term) error {
	if len(args) != 3 {
		return newCompileError(ErrInvalidArity, "map-atom expects 3 arguments, got %d", len(args))
	}
	return compileHigherOrderList(ctx, args[0], []Term{args[1]}, args[2], OpMapAtom, "<map-atom>")
}

// compileFilterAtom lowers (filter-atom collection $var predicate):
// identical shape to map-atom, but the sub-chunk's result is interpreted
// by the VM as a keep/drop Bool rather than a replacement value.
func compileFilterAtom(ctx *compilerCtx, args []Term) error {
	if len(args) != 3 {
		return newCompileError(ErrInvalidArity, "filter-atom expects 3 arguments, got %d", len(args))
	}
	return compileHigherOrderList(ctx, args[0], []Term{args[1]}, args[2], OpFilterAtom, "<filter-atom>")
}

// compileFoldlAtom lowers (foldl-atom collection init $acc $elem template):
// collection and init are evaluated, and template is compiled into a
// two-parameter ($acc, $elem) sub-chunk the VM threads left-to-right.
func compileFoldlAtom(ctx *compilerCtx, args []Term) error {
	if len(args) != 5 {
		return newCompileError(ErrInvalidArity, "foldl-atom expects 5 arguments, got %d", len(args))
	}
	accVar, ok1 := args[2].(Variable)
	elemVar, ok2 := args[3].(Variable)
	if !ok1 || !ok2 {
		return newCompileError(ErrInvalidExpression, "foldl-atom: third and fourth arguments must be variables")
	}

	saved := ctx.tailPos
	ctx.tailPos = false
	if err := compileTerm(ctx, args[0]); err != nil {
		ctx.tailPos = saved
		return err
	}
	if err := compileTerm(ctx, args[1]); err != nil {
		ctx.tailPos = saved
		return err
	}
	ctx.tailPos = saved

	sub, err := compileTemplateSubChunk(ctx, "<foldl-atom>", []string{accVar.Name, elemVar.Name}, args[4])
	if err != nil {
		return err
	}
	idx := ctx.chunk.SubChunkIndex(sub)
	emit16(ctx.chunk, OpFoldlAtom, idx)
	return nil
}

// compileHigherOrderList is the shared scaffold behind map-atom and
// filter-atom: evaluate collection, compile a one-parameter sub-chunk, and
// emit the opcode referencing it.
func compileHigherOrderList(ctx *compilerCtx, collection Term, paramVars []Term, template Term, op Opcode, subName string) error {
	params := make([]string, len(paramVars))
	for i, pv := range paramVars {
		v, ok := pv.(Variable)
		if !ok {
			return newCompileError(ErrInvalidExpression, "%s: parameter must be a variable", subName)
		}
		params[i] = v.Name
	}

	saved := ctx.tailPos
	ctx.tailPos = false
	if err := compileTerm(ctx, collection); err != nil {
		ctx.tailPos = saved
		return err
	}
	ctx.tailPos = saved

	sub, err := compileTemplateSubChunk(ctx, subName, params, template)
	if err != nil {
		return err
	}
	idx := ctx.chunk.SubChunkIndex(sub)
	emit16(ctx.chunk, op, idx)
	return nil
}
