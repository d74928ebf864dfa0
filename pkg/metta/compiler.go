package metta

import "github.com/cespare/xxhash/v2"

// local is a compile-time declared local variable: a name, the scope
// depth it was declared at, and its stack slot relative to the current
// frame's base. Grounded on other_examples/funvibe-funxy__internal-vm-
// compiler.go's Local{Name, Depth, Slot} struct, the clearest idiomatic-Go
// scope-tracking compiler context in the retrieved pack.
type local struct {
	name  string
	depth int
	slot  int
}

// upvalue is a captured variable from an enclosing compiler context.
type upvalue struct {
	name      string
	fromLocal bool // true if captured from the parent's locals, false if from the parent's upvalues
	index     int  // parent local slot or parent upvalue index
}

// compilerCtx is one lexical scope's worth of compile-time state: locals,
// captured upvalues, current scope depth, tail-position flag, and a
// pointer to the enclosing context (nil at the top level). Walking parent
// contexts to register captures is how free variables in a nested
// lambda or let become upvalue reads instead of unresolved symbols.
type compilerCtx struct {
	parent     *compilerCtx
	locals     []local
	upvalues   []upvalue
	scopeDepth int
	tailPos    bool
	chunk      *Chunk
}

func newCompilerCtx(parent *compilerCtx, chunk *Chunk) *compilerCtx {
	return &compilerCtx{parent: parent, chunk: chunk}
}

func (c *compilerCtx) declareLocal(name string) int {
	slot := len(c.locals)
	c.locals = append(c.locals, local{name: name, depth: c.scopeDepth, slot: slot})
	c.chunk.LocalCount = len(c.locals)
	return slot
}

func (c *compilerCtx) resolveLocal(name string) (int, bool) {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			return c.locals[i].slot, true
		}
	}
	return 0, false
}

// resolveUpvalue walks parent contexts looking for name, registering a
// capture chain as it goes.
func (c *compilerCtx) resolveUpvalue(name string) (int, bool) {
	if c.parent == nil {
		return 0, false
	}
	if slot, ok := c.parent.resolveLocal(name); ok {
		return c.addUpvalue(name, true, slot), true
	}
	if idx, ok := c.parent.resolveUpvalue(name); ok {
		return c.addUpvalue(name, false, idx), true
	}
	return 0, false
}

func (c *compilerCtx) addUpvalue(name string, fromLocal bool, index int) int {
	for i, uv := range c.upvalues {
		if uv.name == name && uv.fromLocal == fromLocal && uv.index == index {
			return i
		}
	}
	c.upvalues = append(c.upvalues, upvalue{name: name, fromLocal: fromLocal, index: index})
	c.chunk.UpvalueCount = len(c.upvalues)
	return len(c.upvalues) - 1
}

func (c *compilerCtx) openScope()  { c.scopeDepth++ }

// closeScope pops every local declared at the current depth, emitting
// Swap;Pop pairs so the scope's result (left on top of stack by the
// caller before calling closeScope) survives the cleanup: each local
// above the result is popped by a Swap;Pop pair, and the result ends up
// on top again once they're all gone.
func (c *compilerCtx) closeScope() {
	n := 0
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth == c.scopeDepth {
		c.locals = c.locals[:len(c.locals)-1]
		n++
	}
	for i := 0; i < n; i++ {
		emit(c.chunk, OpSwap)
		emit(c.chunk, OpPop)
	}
	c.scopeDepth--
}

// builtinArith maps a head symbol to its single arithmetic opcode.
var builtinArith = map[string]Opcode{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "%": OpMod,
	"pow": OpPow, "abs": OpAbs, "neg": OpNeg,
}

var builtinCompareBool = map[string]Opcode{
	"<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe, "==": OpEq, "!=": OpNe,
	"and": OpAnd, "or": OpOr, "not": OpNot, "xor": OpXor,
}

// Compile lowers term to a sealed Chunk at the top level (no parent
// context, tail position true since the top-level result is the
// evaluation's result).
func Compile(term Term) (*Chunk, error) {
	chunk := NewChunk("<toplevel>")
	ctx := newCompilerCtx(nil, chunk)
	ctx.tailPos = true
	if err := compileTerm(ctx, term); err != nil {
		return nil, err
	}
	emit(chunk, OpReturn)
	chunk.recomputeNondeterminism()
	chunk.ExprHash = hashTerm(term)
	return chunk, nil
}

// compileTerm is the single recursive entry point dispatching on the
// lowering table.
func compileTerm(ctx *compilerCtx, term Term) error {
	switch v := term.(type) {
	case Integer:
		return compileInteger(ctx, v)
	case Float:
		idx, err := ctx.chunk.ConstantIndex(v)
		if err != nil {
			return err
		}
		emit16(ctx.chunk, OpPushFloat, idx)
		return nil
	case Bool:
		if v.Value {
			emit(ctx.chunk, OpPushTrue)
		} else {
			emit(ctx.chunk, OpPushFalse)
		}
		return nil
	case String:
		idx, err := ctx.chunk.ConstantIndex(v)
		if err != nil {
			return err
		}
		emit16(ctx.chunk, OpPushString, idx)
		return nil
	case Nil:
		emit(ctx.chunk, OpPushNil)
		return nil
	case Unit:
		emit(ctx.chunk, OpPushUnit)
		return nil
	case Empty:
		emit(ctx.chunk, OpPushEmptyTerm)
		return nil
	case Symbol:
		idx, err := ctx.chunk.ConstantIndex(v)
		if err != nil {
			return err
		}
		emit16(ctx.chunk, OpPushAtom, idx)
		return nil
	case Variable:
		return compileVariableRef(ctx, v)
	case Expression:
		return compileExpression(ctx, v)
	default:
		return newCompileError(ErrInvalidExpression, "cannot compile term of kind %s", term.Kind())
	}
}

// compileInteger picks the compact PushLongSmall form for values in
// [-128,127] and otherwise spills to the constant pool.
func compileInteger(ctx *compilerCtx, v Integer) error {
	if v.Value >= -128 && v.Value <= 127 {
		emit(ctx.chunk, OpPushLongSmall)
		ctx.chunk.Code = append(ctx.chunk.Code, byte(int8(v.Value)))
		return nil
	}
	idx, err := ctx.chunk.ConstantIndex(v)
	if err != nil {
		return err
	}
	emit16(ctx.chunk, OpPushLong, idx)
	return nil
}

// compileVariableRef implements a three-way choice: a declared local
// emits LoadLocal, a captured-from-parent name emits LoadUpvalue
// (registering the capture), and anything else is a pattern variable
// resolved at runtime via PushVariable.
func compileVariableRef(ctx *compilerCtx, v Variable) error {
	if slot, ok := ctx.resolveLocal(v.Name); ok {
		emit(ctx.chunk, OpLoadLocal)
		ctx.chunk.Code = append(ctx.chunk.Code, byte(slot))
		return nil
	}
	if idx, ok := ctx.resolveUpvalue(v.Name); ok {
		emit(ctx.chunk, OpLoadUpvalue)
		ctx.chunk.Code = append(ctx.chunk.Code, byte(idx))
		return nil
	}
	idx, err := ctx.chunk.ConstantIndex(v)
	if err != nil {
		return err
	}
	emit16(ctx.chunk, OpPushVariable, idx)
	return nil
}

func compileExpression(ctx *compilerCtx, expr Expression) error {
	if len(expr.Items) == 0 {
		emit(ctx.chunk, OpPushNil)
		return nil
	}
	head, isSymbol := expr.HeadSymbol()
	if isSymbol {
		if op, ok := builtinArith[head]; ok {
			return compileArgsThenOp(ctx, expr.Items[1:], op)
		}
		if op, ok := builtinCompareBool[head]; ok {
			return compileArgsThenOp(ctx, expr.Items[1:], op)
		}
		switch head {
		case "if":
			return compileIf(ctx, expr.Items[1:])
		case "let":
			return compileLet(ctx, expr.Items[1:])
		case "let*":
			return compileLetStar(ctx, expr.Items[1:])
		case "quote":
			return compileQuote(ctx, expr.Items[1:])
		case "eval":
			return compileEval(ctx, expr.Items[1:])
		case "match":
			return compileMatch(ctx, expr.Items[1:])
		case "unify":
			return compileUnify(ctx, expr.Items[1:])
		case "case":
			return compileCase(ctx, expr.Items[1:])
		case "chain":
			return compileChain(ctx, expr.Items[1:])
		case "superpose":
			return compileSuperpose(ctx, expr.Items[1:])
		case "map-atom":
			return compileMapAtom(ctx, expr.Items[1:])
		case "filter-atom":
			return compileFilterAtom(ctx, expr.Items[1:])
		case "foldl-atom":
			return compileFoldlAtom(ctx, expr.Items[1:])
		case "catch":
			return compileCatch(ctx, expr.Items[1:])
		}
	}
	return compileGenericCall(ctx, expr)
}

// compileArgsThenOp evaluates each arg left-to-right in non-tail position
// then emits op.
func compileArgsThenOp(ctx *compilerCtx, args []Term, op Opcode) error {
	saved := ctx.tailPos
	ctx.tailPos = false
	for _, a := range args {
		if err := compileTerm(ctx, a); err != nil {
			ctx.tailPos = saved
			return err
		}
	}
	ctx.tailPos = saved
	emit(ctx.chunk, op)
	return nil
}

// compileGenericCall lowers an expression with an unrecognized head. A
// Symbol head with arity < 256 dispatches against the rule index at
// runtime: arguments are compiled onto the stack in order, then Call (or
// TailCall in tail position) bakes the head symbol and arity as
// immediates, matching execDispatch's ABI. Anything else (a computed
// head, or an arity too large for Call's imm8) can't be resolved against
// the rule index at compile time, so it is only reconstructed as data
// via MakeSExpr/MakeSExprLarge — evaluating it further requires an
// explicit `eval`.
func compileGenericCall(ctx *compilerCtx, expr Expression) error {
	head, isSymbol := expr.HeadSymbol()
	args := expr.Items[1:]
	if isSymbol && len(args) < 256 {
		saved := ctx.tailPos
		ctx.tailPos = false
		for _, a := range args {
			if err := compileTerm(ctx, a); err != nil {
				ctx.tailPos = saved
				return err
			}
		}
		ctx.tailPos = saved

		idx, err := ctx.chunk.ConstantIndex(NewSymbol(head))
		if err != nil {
			return err
		}
		op := OpCall
		if ctx.tailPos {
			op = OpTailCall
		}
		emit16(ctx.chunk, op, idx)
		ctx.chunk.Code = append(ctx.chunk.Code, byte(len(args)))
		return nil
	}

	saved := ctx.tailPos
	ctx.tailPos = false
	for _, it := range expr.Items {
		if err := compileTerm(ctx, it); err != nil {
			ctx.tailPos = saved
			return err
		}
	}
	ctx.tailPos = saved

	n := len(expr.Items)
	if n > 255 {
		idx, err := ctx.chunk.ConstantIndex(NewInteger(int64(n)))
		if err != nil {
			return err
		}
		emit16(ctx.chunk, OpMakeSExprLarge, idx)
		return nil
	}
	emit(ctx.chunk, OpMakeSExpr)
	ctx.chunk.Code = append(ctx.chunk.Code, byte(n))
	return nil
}

// emit appends a bare opcode byte (0 immediate bytes).
func emit(c *Chunk, op Opcode) { c.Code = append(c.Code, byte(op)) }

// emit16 appends an opcode followed by a big-endian 16-bit immediate.
func emit16(c *Chunk, op Opcode, idx int) {
	c.Code = append(c.Code, byte(op), byte(idx>>8), byte(idx))
}

// emitJumpPlaceholder appends op with a placeholder 16-bit offset and
// returns the code offset of the placeholder's high byte, so callers can
// patch it once the jump target is known (patchJump below).
func emitJumpPlaceholder(c *Chunk, op Opcode) int {
	c.Code = append(c.Code, byte(op), 0, 0)
	return len(c.Code) - 2
}

// patchJump rewrites the 16-bit offset at placeholderPos so the jump
// lands at len(c.Code) (the instruction immediately following, i.e. "the
// end" of whatever was just compiled).
func patchJump(c *Chunk, placeholderPos int) {
	offset := len(c.Code) - (placeholderPos + 2)
	c.Code[placeholderPos] = byte(int16(offset) >> 8)
	c.Code[placeholderPos+1] = byte(int16(offset))
}

// hashTerm computes the structural hash the tiered cache keys on,
// reusing the bit-exact trie encoding so alpha-equivalent expressions
// hash identically, same as they'd encode identically.
func hashTerm(t Term) uint64 {
	if HasOverflowArity(t) {
		return xxhash.Sum64(EncodeFallback(t))
	}
	return xxhash.Sum64(EncodeTerm(t))
}
