package metta

// compileMatch lowers (match space pattern template [default]): space is
// evaluated to a SpaceHandle, pattern/template are quoted as data (the VM
// substitutes bindings into template per match), and an
// optional fourth argument supplies the nondeterministic result when
// nothing matches (defaults to Empty).
func compileMatch(ctx *compilerCtx, args []Term) error {
	if len(args) != 3 && len(args) != 4 {
		return newCompileError(ErrInvalidArity, "match expects 3 or 4 arguments, got %d", len(args))
	}
	saved := ctx.tailPos
	ctx.tailPos = false
	if err := compileTerm(ctx, args[0]); err != nil {
		ctx.tailPos = saved
		return err
	}
	ctx.tailPos = saved
	if err := emitQuoted(ctx.chunk, args[1]); err != nil {
		return err
	}
	if err := emitQuoted(ctx.chunk, args[2]); err != nil {
		return err
	}
	if len(args) == 4 {
		if err := emitQuoted(ctx.chunk, args[3]); err != nil {
			return err
		}
	} else {
		emit(ctx.chunk, OpPushEmptyTerm)
	}
	emit(ctx.chunk, OpEvalMatch)
	return nil
}

// compileUnify lowers (unify a b then else): a and b are evaluated, then
// structurally unified with bindings installed on success.
func compileUnify(ctx *compilerCtx, args []Term) error {
	if len(args) != 4 {
		return newCompileError(ErrInvalidArity, "unify expects 4 arguments, got %d", len(args))
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

	emit(ctx.chunk, OpUnifyBind)
	elseJump := emitJumpPlaceholder(ctx.chunk, OpJumpIfFalse)
	if err := compileTerm(ctx, args[2]); err != nil {
		return err
	}
	endJump := emitJumpPlaceholder(ctx.chunk, OpJump)
	patchJump(ctx.chunk, elseJump)
	if err := compileTerm(ctx, args[3]); err != nil {
		return err
	}
	patchJump(ctx.chunk, endJump)
	return nil
}

// compileCase lowers (case value ((pattern1 branch1) ... (%void% default))):
// value is evaluated once and duplicated for each pattern attempt; the
// first matching clause's branch runs with that clause's bindings
// installed, after a Pop drops the residual value. A %void%-headed
// clause is the default: its branch runs when no earlier clause matched.
// With no match and no default the value is dropped and the result is
// Empty, matching the "no match, no default" convention used elsewhere.
func compileCase(ctx *compilerCtx, args []Term) error {
	if len(args) != 2 {
		return newCompileError(ErrInvalidArity, "case expects 2 arguments, got %d", len(args))
	}
	clausesExpr, ok := args[1].(Expression)
	if !ok {
		return newCompileError(ErrInvalidExpression, "case: second argument must be a clause list")
	}

	saved := ctx.tailPos
	ctx.tailPos = false
	if err := compileTerm(ctx, args[0]); err != nil {
		ctx.tailPos = saved
		return err
	}
	ctx.tailPos = saved

	var endJumps []int
	for _, c := range clausesExpr.Items {
		pair, ok := c.(Expression)
		if !ok || len(pair.Items) != 2 {
			return newCompileError(ErrInvalidExpression, "case: each clause must be (pattern branch)")
		}
		if sym, ok := pair.Items[0].(Symbol); ok && sym.Name == "%void%" {
			emit(ctx.chunk, OpPop) // drop the residual value, default always applies
			if err := compileTerm(ctx, pair.Items[1]); err != nil {
				return err
			}
			endJumps = append(endJumps, emitJumpPlaceholder(ctx.chunk, OpJump))
			break
		}

		emit(ctx.chunk, OpDup)
		if err := emitQuoted(ctx.chunk, pair.Items[0]); err != nil {
			return err
		}
		emit(ctx.chunk, OpMatchBind)
		nextJump := emitJumpPlaceholder(ctx.chunk, OpJumpIfFalse)
		emit(ctx.chunk, OpPop) // drop the residual value before the branch runs
		if err := compileTerm(ctx, pair.Items[1]); err != nil {
			return err
		}
		endJumps = append(endJumps, emitJumpPlaceholder(ctx.chunk, OpJump))
		patchJump(ctx.chunk, nextJump)
	}
	// No clause matched (or no %void% default present): drop the residual
	// value and yield Empty.
	emit(ctx.chunk, OpPop)
	emit(ctx.chunk, OpPushEmptyTerm)
	for _, j := range endJumps {
		patchJump(ctx.chunk, j)
	}
	return nil
}

// compileCatch lowers (catch body $err handler): body runs normally; if
// its result is an ErrorTerm, $err is bound to it (always succeeds, being
// a bare variable pattern) and handler runs instead, per the rule that
// first-class Error terms are catchable like any other value.
func compileCatch(ctx *compilerCtx, args []Term) error {
	if len(args) != 3 {
		return newCompileError(ErrInvalidArity, "catch expects 3 arguments, got %d", len(args))
	}
	errVar, ok := args[1].(Variable)
	if !ok {
		return newCompileError(ErrInvalidExpression, "catch: second argument must be a variable")
	}

	saved := ctx.tailPos
	ctx.tailPos = false
	if err := compileTerm(ctx, args[0]); err != nil {
		ctx.tailPos = saved
		return err
	}
	ctx.tailPos = saved

	handlerJump := emitJumpPlaceholder(ctx.chunk, OpJumpIfError)
	noErrJump := emitJumpPlaceholder(ctx.chunk, OpJump)
	patchJump(ctx.chunk, handlerJump)

	if err := emitQuoted(ctx.chunk, errVar); err != nil {
		return err
	}
	emit(ctx.chunk, OpMatchBind)
	emit(ctx.chunk, OpPop) // always true for a bare variable pattern; discard the bool
	if err := compileTerm(ctx, args[2]); err != nil {
		return err
	}
	patchJump(ctx.chunk, noErrJump)
	return nil
}
