package metta

import "math"

// execArithCompare implements grounded arithmetic and comparison
// semantics: integer overflow is checked explicitly (Go's native int64
// wraps silently, which needs to become an Arithmetic error instead),
// Integer/Float operands widen to Float, division and modulo by zero
// produce Arithmetic errors rather than panicking, and i64::MIN % -1
// (which overflows in two's-complement) is special-cased to zero rather
// than trapping, matching checked_rem's documented behavior.
func (vm *VM) execArithCompare(op Opcode) error {
	switch {
	case op >= OpAdd && op <= OpNeg:
		return vm.execArith(op)
	case op >= OpLt && op <= OpNe:
		return vm.execCompare(op)
	}
	return newVmError(ErrInvalidOpcode, "not an arithmetic/comparison op: %d", op)
}

func (vm *VM) execArith(op Opcode) error {
	if op == OpAbs || op == OpNeg {
		a, err := vm.pop()
		if err != nil {
			return err
		}
		switch v := a.(type) {
		case Integer:
			if op == OpAbs {
				if v.Value == math.MinInt64 {
					vm.push(NewExecError(ExecArithmetic, "abs overflow on %d", v.Value))
					return nil
				}
				vm.push(NewInteger(absInt64(v.Value)))
			} else {
				if v.Value == math.MinInt64 {
					vm.push(NewExecError(ExecArithmetic, "negation overflow on %d", v.Value))
					return nil
				}
				vm.push(NewInteger(-v.Value))
			}
		case Float:
			if op == OpAbs {
				vm.push(NewFloat(math.Abs(v.Value)))
			} else {
				vm.push(NewFloat(-v.Value))
			}
		default:
			vm.push(NewExecError(ExecTypeError, "expected a number, got %s", a.String()))
		}
		return nil
	}

	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}

	ai, aIsInt := a.(Integer)
	bi, bIsInt := b.(Integer)
	if aIsInt && bIsInt {
		result, execErr := intArith(op, ai.Value, bi.Value)
		if execErr != nil {
			vm.push(*execErr)
			return nil
		}
		vm.push(NewInteger(result))
		return nil
	}

	af, aOK := asFloat(a)
	bf, bOK := asFloat(b)
	if !aOK || !bOK {
		vm.push(NewExecError(ExecTypeError, "arithmetic on non-numeric operands: %s, %s", a.String(), b.String()))
		return nil
	}
	result, execErr := floatArith(op, af, bf)
	if execErr != nil {
		vm.push(*execErr)
		return nil
	}
	vm.push(NewFloat(result))
	return nil
}

func asFloat(t Term) (float64, bool) {
	switch v := t.(type) {
	case Integer:
		return float64(v.Value), true
	case Float:
		return v.Value, true
	}
	return 0, false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func intArith(op Opcode, a, b int64) (int64, *ErrorTerm) {
	switch op {
	case OpAdd:
		sum := a + b
		if (b > 0 && sum < a) || (b < 0 && sum > a) {
			e := NewExecError(ExecArithmetic, "integer overflow: %d + %d", a, b)
			return 0, &e
		}
		return sum, nil
	case OpSub:
		diff := a - b
		if (b < 0 && diff < a) || (b > 0 && diff > a) {
			e := NewExecError(ExecArithmetic, "integer overflow: %d - %d", a, b)
			return 0, &e
		}
		return diff, nil
	case OpMul:
		if a == 0 || b == 0 {
			return 0, nil
		}
		product := a * b
		if product/b != a {
			e := NewExecError(ExecArithmetic, "integer overflow: %d * %d", a, b)
			return 0, &e
		}
		return product, nil
	case OpDiv:
		if b == 0 {
			e := NewExecError(ExecArithmetic, "division by zero")
			return 0, &e
		}
		if a == math.MinInt64 && b == -1 {
			e := NewExecError(ExecArithmetic, "integer overflow: %d / -1", a)
			return 0, &e
		}
		return a / b, nil
	case OpMod:
		if b == 0 {
			e := NewExecError(ExecArithmetic, "modulo by zero")
			return 0, &e
		}
		if a == math.MinInt64 && b == -1 {
			return 0, nil // matches checked_rem's documented zero result, not a trap
		}
		return a % b, nil
	case OpPow:
		return intPow(a, b)
	}
	e := NewExecError(ExecTypeError, "not an arithmetic opcode")
	return 0, &e
}

func intPow(base, exp int64) (int64, *ErrorTerm) {
	if exp < 0 {
		e := NewExecError(ExecArithmetic, "negative integer exponent: %d", exp)
		return 0, &e
	}
	result := int64(1)
	for i := int64(0); i < exp; i++ {
		next := result * base
		if base != 0 && next/base != result {
			e := NewExecError(ExecArithmetic, "integer overflow: %d ^ %d", base, exp)
			return 0, &e
		}
		result = next
	}
	return result, nil
}

func floatArith(op Opcode, a, b float64) (float64, *ErrorTerm) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			e := NewExecError(ExecArithmetic, "division by zero")
			return 0, &e
		}
		return a / b, nil
	case OpMod:
		if b == 0 {
			e := NewExecError(ExecArithmetic, "modulo by zero")
			return 0, &e
		}
		return math.Mod(a, b), nil
	case OpPow:
		return math.Pow(a, b), nil
	}
	e := NewExecError(ExecTypeError, "not an arithmetic opcode")
	return 0, &e
}

func (vm *VM) execCompare(op Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}

	if op == OpEq {
		vm.push(NewBool(a.Equal(b)))
		return nil
	}
	if op == OpNe {
		vm.push(NewBool(!a.Equal(b)))
		return nil
	}

	af, aOK := asFloat(a)
	bf, bOK := asFloat(b)
	if !aOK || !bOK {
		vm.push(NewExecError(ExecTypeError, "comparison on non-numeric operands: %s, %s", a.String(), b.String()))
		return nil
	}
	var result bool
	switch op {
	case OpLt:
		result = af < bf
	case OpLe:
		result = af <= bf
	case OpGt:
		result = af > bf
	case OpGe:
		result = af >= bf
	default:
		return newVmError(ErrInvalidOpcode, "not a comparison opcode: %d", op)
	}
	vm.push(NewBool(result))
	return nil
}

// execBoolean implements grounded boolean operators. Non-
// Bool operands are a TypeError, matching the strict-typing convention
// arithmetic already follows.
func (vm *VM) execBoolean(op Opcode) error {
	if op == OpNot {
		a, err := vm.pop()
		if err != nil {
			return err
		}
		b, ok := a.(Bool)
		if !ok {
			vm.push(NewExecError(ExecTypeError, "not: expected a boolean, got %s", a.String()))
			return nil
		}
		vm.push(NewBool(!b.Value))
		return nil
	}

	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	ab, aOK := a.(Bool)
	bb, bOK := b.(Bool)
	if !aOK || !bOK {
		vm.push(NewExecError(ExecTypeError, "boolean op on non-boolean operands: %s, %s", a.String(), b.String()))
		return nil
	}
	var result bool
	switch op {
	case OpAnd:
		result = ab.Value && bb.Value
	case OpOr:
		result = ab.Value || bb.Value
	case OpXor:
		result = ab.Value != bb.Value
	default:
		return newVmError(ErrInvalidOpcode, "not a boolean opcode: %d", op)
	}
	vm.push(NewBool(result))
	return nil
}
