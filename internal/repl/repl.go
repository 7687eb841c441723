// Package repl implements Pantera's interactive read-eval-print loop,
// modeled on sentra's internal/repl/repl.go: a bufio.Scanner-driven loop
// around one long-lived compiler+VM pair so that globals and heap
// allocations persist from line to line.
package repl

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"pantera/internal/bytecode"
	"pantera/internal/compiler"
	"pantera/internal/heap"
	"pantera/internal/lexer"
	"pantera/internal/parser"
	"pantera/internal/vm"
)

const prompt = ">> "
const exitCommand = ":exit"

// Start runs the REPL until the user types :exit or closes stdin.
// maxHeapSize bounds the heap shared by every line typed in the session.
func Start(maxHeapSize int) {
	fmt.Println("Pantera REPL | type :exit to quit")
	scanner := bufio.NewScanner(os.Stdin)

	h := heap.New(maxHeapSize)
	c := compiler.New(h)
	machine := vm.New(bytecode.NewChunk(), h, len(c.Globals()))
	machine.Stdout = os.Stdout
	machine.Stdin = bufio.NewReader(os.Stdin)

	for {
		fmt.Print(prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == exitCommand {
			break
		}
		if line == "" {
			continue
		}

		if err := evalLine(c, machine, line); err != nil {
			fmt.Println(err)
		}
	}
}

// evalLine lexes, parses, compiles, and runs one line of input against the
// REPL's shared compiler and VM, reporting any stage's error uniformly.
func evalLine(c *compiler.Compiler, machine *vm.VM, line string) error {
	tokens, lexErrs := lexer.NewScanner(line).ScanTokens()
	if len(lexErrs) > 0 {
		return lexErrs[0]
	}

	stmts, err := parser.New(tokens).ParseProgram()
	if err != nil {
		return err
	}

	chunk, err := c.Compile(stmts)
	if err != nil {
		return err
	}

	machine.ResetWithChunk(chunk, len(c.Globals()))
	return machine.Run()
}
