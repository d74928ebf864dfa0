package metta

// compileIf lowers (if cond then [else]): cond is evaluated in non-tail
// position, then/else inherit the enclosing tail position. A missing
// else compiles to Unit — no else means "nothing to return on the false
// branch".
func compileIf(ctx *compilerCtx, args []Term) error {
	if len(args) != 2 && len(args) != 3 {
		return newCompileError(ErrInvalidArity, "if expects 2 or 3 arguments, got %d", len(args))
	}
	saved := ctx.tailPos
	ctx.tailPos = false
	if err := compileTerm(ctx, args[0]); err != nil {
		return err
	}
	ctx.tailPos = saved

	elseJump := emitJumpPlaceholder(ctx.chunk, OpJumpIfFalse)
	if err := compileTerm(ctx, args[1]); err != nil {
		return err
	}
	endJump := emitJumpPlaceholder(ctx.chunk, OpJump)
	patchJump(ctx.chunk, elseJump)
	if len(args) == 3 {
		if err := compileTerm(ctx, args[2]); err != nil {
			return err
		}
	} else {
		emit(ctx.chunk, OpPushUnit)
	}
	patchJump(ctx.chunk, endJump)
	return nil
}

// compileLet lowers (let pattern expr body): expr is evaluated, pattern
// is matched against the result with bindings installed into the current
// frame on success, then body is compiled in the enclosing tail position.
// A failed match replaces the whole form's value with an IncorrectArgument
// error rather than running body, since failures surface as Error terms
// rather than panics.
func compileLet(ctx *compilerCtx, args []Term) error {
	if len(args) != 3 {
		return newCompileError(ErrInvalidArity, "let expects 3 arguments, got %d", len(args))
	}
	return compileBindThenBody(ctx, args[0], args[1], args[2], "let")
}

// compileChain lowers (chain expr $var template): evaluate expr, bind
// $var to the result, then evaluate template — structurally identical to
// let with its first two arguments swapped.
func compileChain(ctx *compilerCtx, args []Term) error {
	if len(args) != 3 {
		return newCompileError(ErrInvalidArity, "chain expects 3 arguments, got %d", len(args))
	}
	return compileBindThenBody(ctx, args[1], args[0], args[2], "chain")
}

// compileBindThenBody is the shared scaffold behind let and chain: compile
// expr, quote pattern as literal data, MatchBind them, branch to an error
// term on failure or to body on success.
func compileBindThenBody(ctx *compilerCtx, pattern, expr, body Term, formName string) error {
	saved := ctx.tailPos
	ctx.tailPos = false
	if err := compileTerm(ctx, expr); err != nil {
		ctx.tailPos = saved
		return err
	}
	if err := emitQuoted(ctx.chunk, pattern); err != nil {
		ctx.tailPos = saved
		return err
	}
	ctx.tailPos = saved

	emit(ctx.chunk, OpMatchBind)
	failJump := emitJumpPlaceholder(ctx.chunk, OpJumpIfFalse)
	if err := compileTerm(ctx, body); err != nil {
		return err
	}
	endJump := emitJumpPlaceholder(ctx.chunk, OpJump)
	patchJump(ctx.chunk, failJump)
	errIdx, err := ctx.chunk.ConstantIndex(NewExecError(ExecIncorrectArgument, "%s: pattern did not match", formName))
	if err != nil {
		return err
	}
	emit16(ctx.chunk, OpPushQuoted, errIdx)
	patchJump(ctx.chunk, endJump)
	return nil
}

// compileLetStar lowers (let* ((p1 e1) (p2 e2) ...) body): each binding is
// tried in order, left to right, short-circuiting to the same shared
// error path the moment one fails.
func compileLetStar(ctx *compilerCtx, args []Term) error {
	if len(args) != 2 {
		return newCompileError(ErrInvalidArity, "let* expects 2 arguments, got %d", len(args))
	}
	bindingsExpr, ok := args[0].(Expression)
	if !ok {
		return newCompileError(ErrInvalidExpression, "let*: first argument must be a binding list")
	}

	var failJumps []int
	saved := ctx.tailPos
	for _, b := range bindingsExpr.Items {
		pair, ok := b.(Expression)
		if !ok || len(pair.Items) != 2 {
			return newCompileError(ErrInvalidExpression, "let*: each binding must be (pattern expr)")
		}
		ctx.tailPos = false
		if err := compileTerm(ctx, pair.Items[1]); err != nil {
			ctx.tailPos = saved
			return err
		}
		if err := emitQuoted(ctx.chunk, pair.Items[0]); err != nil {
			ctx.tailPos = saved
			return err
		}
		emit(ctx.chunk, OpMatchBind)
		failJumps = append(failJumps, emitJumpPlaceholder(ctx.chunk, OpJumpIfFalse))
	}
	ctx.tailPos = saved

	if err := compileTerm(ctx, args[1]); err != nil {
		return err
	}
	endJump := emitJumpPlaceholder(ctx.chunk, OpJump)
	for _, j := range failJumps {
		patchJump(ctx.chunk, j)
	}
	errIdx, err := ctx.chunk.ConstantIndex(NewExecError(ExecIncorrectArgument, "let*: pattern did not match"))
	if err != nil {
		return err
	}
	emit16(ctx.chunk, OpPushQuoted, errIdx)
	patchJump(ctx.chunk, endJump)
	return nil
}

// emitQuoted pushes term as a literal (unevaluated) constant, the
// mechanism behind quote and every pattern-as-data use site (let, case,
// match, catch's error-binding pattern).
func emitQuoted(c *Chunk, term Term) error {
	idx, err := c.ConstantIndex(term)
	if err != nil {
		return err
	}
	emit16(c, OpPushQuoted, idx)
	return nil
}

// compileQuote lowers (quote term): term is never compiled as code, only
// stored as data, preventing its evaluation.
func compileQuote(ctx *compilerCtx, args []Term) error {
	if len(args) != 1 {
		return newCompileError(ErrInvalidArity, "quote expects 1 argument, got %d", len(args))
	}
	return emitQuoted(ctx.chunk, args[0])
}

// compileEval lowers (eval term): term is compiled and run normally,
// leaving a (possibly quoted/data) value on the stack, which OpEvalEval
// then forces one further level of evaluation on — the inverse of quote.
func compileEval(ctx *compilerCtx, args []Term) error {
	if len(args) != 1 {
		return newCompileError(ErrInvalidArity, "eval expects 1 argument, got %d", len(args))
	}
	saved := ctx.tailPos
	ctx.tailPos = false
	if err := compileTerm(ctx, args[0]); err != nil {
		ctx.tailPos = saved
		return err
	}
	ctx.tailPos = saved
	emit(ctx.chunk, OpEvalEval)
	return nil
}
