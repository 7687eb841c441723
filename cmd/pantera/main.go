// Command pantera is the language's CLI entry point (§6), hand-parsing
// os.Args exactly like the teacher's cmd/sentra/main.go rather than
// reaching for a flags package: `pantera [FILE] [CODE] [-m/--max-heap-size K]`.
// With FILE, read and execute the file. With no FILE but CODE, execute the
// CODE string directly. With neither, start the REPL.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"pantera/internal/compiler"
	"pantera/internal/heap"
	"pantera/internal/lexer"
	"pantera/internal/parser"
	"pantera/internal/repl"
	"pantera/internal/vm"
)

// defaultMaxHeapSizeKB is the original CLI's `--max-heap-size` default (§6).
const defaultMaxHeapSizeKB = 8

func main() {
	fileName, code, maxHeapSizeKB, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	switch {
	case fileName != "":
		if !strings.HasSuffix(fileName, ".pant") {
			log.Fatalf("Error: cannot compile a file with the wrong extension: %s", fileName)
		}
		source, readErr := os.ReadFile(fileName)
		if readErr != nil {
			log.Fatalf("Error: could not read %s: %v", fileName, readErr)
		}
		if err := run(string(source), maxHeapSizeKB*1024); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	case code != "":
		if err := run(code, maxHeapSizeKB*1024); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	default:
		repl.Start(maxHeapSizeKB * 1024)
	}
}

// parseArgs hand-parses the two positionals FILE and CODE (in that order)
// and the -m/--max-heap-size flag, in the style of the teacher's flag loop
// over os.Args — no flags-package dependency, matching cmd/sentra/main.go.
func parseArgs(args []string) (fileName, code string, maxHeapSizeKB int, err error) {
	maxHeapSizeKB = defaultMaxHeapSizeKB
	var positionals []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-m", "--max-heap-size":
			if i+1 >= len(args) {
				return "", "", 0, fmt.Errorf("%s requires a value", arg)
			}
			i++
			n, convErr := strconv.Atoi(args[i])
			if convErr != nil {
				return "", "", 0, fmt.Errorf("invalid --max-heap-size value %q", args[i])
			}
			maxHeapSizeKB = n
		default:
			if len(positionals) >= 2 {
				return "", "", 0, fmt.Errorf("unexpected argument %q", arg)
			}
			positionals = append(positionals, arg)
		}
	}
	if len(positionals) > 0 {
		fileName = positionals[0]
	}
	if len(positionals) > 1 {
		code = positionals[1]
	}
	return fileName, code, maxHeapSizeKB, nil
}

// run lexes, parses, compiles, and executes source in one pass — the
// driver spec.md calls `execute()` (§6): `Ok` on a clean run, `Err` on
// the first syntax, compile, or runtime error.
func run(source string, maxHeapSize int) error {
	tokens, lexErrs := lexer.NewScanner(source).ScanTokens()
	if len(lexErrs) > 0 {
		return lexErrs[0]
	}

	stmts, err := parser.New(tokens).ParseProgram()
	if err != nil {
		return err
	}

	h := heap.New(maxHeapSize)
	c := compiler.New(h)
	chunk, err := c.Compile(stmts)
	if err != nil {
		return err
	}

	machine := vm.New(chunk, h, len(c.Globals()))
	machine.Stdout = os.Stdout
	if err := machine.Run(); err != nil {
		return err
	}
	return nil
}
