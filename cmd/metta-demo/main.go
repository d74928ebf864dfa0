// Package main demonstrates the metta evaluation core's programmatic Go
// API: building terms, asserting rules into a space, and evaluating
// expressions through the compiler/VM/tiered-cache pipeline.
package main

import (
	"fmt"

	"github.com/metta-run/metta-core/pkg/metta"
)

func main() {
	fmt.Println("=== metta-core Examples ===")
	fmt.Println()

	arithmetic()
	controlFlow()
	ruleDispatchAndRecursion()
	nondeterminism()
	higherOrder()
	tieredPromotion()
}

// arithmetic demonstrates grounded arithmetic and its overflow/division
// error handling.
func arithmetic() {
	fmt.Println("1. Arithmetic:")
	ev := metta.NewEvaluator("demo", metta.DefaultConfig())
	defer ev.Close()

	expr := metta.NewExpression(metta.NewSymbol("+"), metta.NewInteger(2),
		metta.NewExpression(metta.NewSymbol("*"), metta.NewInteger(3), metta.NewInteger(4)))
	result, err := ev.Eval(expr)
	fmt.Printf("   %s => %v (err=%v)\n", expr, result, err)

	divByZero := metta.NewExpression(metta.NewSymbol("/"), metta.NewInteger(1), metta.NewInteger(0))
	result, err = ev.Eval(divByZero)
	fmt.Printf("   %s => %v (err=%v)\n", divByZero, result, err)
	fmt.Println()
}

// controlFlow demonstrates if/let.
func controlFlow() {
	fmt.Println("2. Control Flow (if/let):")
	ev := metta.NewEvaluator("demo", metta.DefaultConfig())
	defer ev.Close()

	term := metta.NewExpression(metta.NewSymbol("if"),
		metta.NewExpression(metta.NewSymbol(">"), metta.NewInteger(3), metta.NewInteger(2)),
		metta.NewExpression(metta.NewSymbol("let"), metta.NewVariable("x"), metta.NewInteger(10),
			metta.NewExpression(metta.NewSymbol("+"), metta.NewVariable("x"), metta.NewInteger(1))),
		metta.NewInteger(0))
	result, err := ev.Eval(term)
	fmt.Printf("   %s => %v (err=%v)\n", term, result, err)
	fmt.Println()
}

// ruleDispatchAndRecursion asserts a recursive factorial rule pair and
// evaluates it, demonstrating the rule dispatcher and unifier.
func ruleDispatchAndRecursion() {
	fmt.Println("3. Rule Dispatch & Recursion (factorial):")
	ev := metta.NewEvaluator("demo", metta.DefaultConfig())
	defer ev.Close()

	ev.AddRule(metta.NewExpression(metta.NewSymbol("="),
		metta.NewExpression(metta.NewSymbol("fact"), metta.NewInteger(0)),
		metta.NewInteger(1)))
	ev.AddRule(metta.NewExpression(metta.NewSymbol("="),
		metta.NewExpression(metta.NewSymbol("fact"), metta.NewVariable("n")),
		metta.NewExpression(metta.NewSymbol("*"), metta.NewVariable("n"),
			metta.NewExpression(metta.NewSymbol("fact"),
				metta.NewExpression(metta.NewSymbol("-"), metta.NewVariable("n"), metta.NewInteger(1))))))

	call := metta.NewExpression(metta.NewSymbol("fact"), metta.NewInteger(10))
	result, err := ev.Eval(call)
	fmt.Printf("   %s => %v (err=%v)\n", call, result, err)
	fmt.Println()
}

// nondeterminism asserts three alternative facts for the same query and
// collects every result via backtracking.
func nondeterminism() {
	fmt.Println("4. Nondeterministic Dispatch:")
	ev := metta.NewEvaluator("demo", metta.DefaultConfig())
	defer ev.Close()

	for _, c := range []string{"red", "green", "blue"} {
		ev.AddRule(metta.NewExpression(metta.NewSymbol("="),
			metta.NewExpression(metta.NewSymbol("color")),
			metta.NewSymbol(c)))
	}
	results, err := ev.EvalAll(metta.NewExpression(metta.NewSymbol("color")), -1)
	fmt.Printf("   (color) => %v (err=%v)\n", results, err)
	fmt.Println()
}

// higherOrder demonstrates map-atom over a literal collection.
func higherOrder() {
	fmt.Println("5. Higher-Order List Ops (map-atom):")
	ev := metta.NewEvaluator("demo", metta.DefaultConfig())
	defer ev.Close()

	term := metta.NewExpression(metta.NewSymbol("map-atom"),
		metta.NewExpression(metta.NewInteger(1), metta.NewInteger(2), metta.NewInteger(3)),
		metta.NewVariable("x"),
		metta.NewExpression(metta.NewSymbol("*"), metta.NewVariable("x"), metta.NewVariable("x")))
	result, err := ev.Eval(term)
	fmt.Printf("   %s => %v (err=%v)\n", term, result, err)
	fmt.Println()
}

// tieredPromotion runs the same expression enough times to cross the
// configured JIT1/JIT2 promotion thresholds, demonstrating the tiered
// compilation cache's background compile scheduling.
func tieredPromotion() {
	fmt.Println("6. Tiered Compilation Cache:")
	cfg := metta.DefaultConfig()
	cfg.JIT1Threshold = 5
	cfg.JIT2Threshold = 10
	cfg.SamplingInterval = 1
	ev := metta.NewEvaluator("demo", cfg)
	defer ev.Close()

	expr := metta.NewExpression(metta.NewSymbol("+"), metta.NewInteger(1), metta.NewInteger(1))
	for i := 0; i < 15; i++ {
		if _, err := ev.Eval(expr); err != nil {
			fmt.Printf("   iteration %d failed: %v\n", i, err)
			return
		}
	}
	fmt.Println("   ran 15 iterations past both promotion thresholds without error")
	fmt.Println()
}
