package compiler

import (
	"testing"

	"pantera/internal/ast"
	"pantera/internal/bytecode"
	"pantera/internal/heap"
)

func newTestCompiler() *Compiler {
	return New(heap.New(1 << 20))
}

func TestCompileNumberLiteral(t *testing.T) {
	c := newTestCompiler()
	chunk, err := c.Compile([]ast.Stmt{
		&ast.ExpressionStmt{Expr: ast.NewNumber(1, 42)},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if chunk.Code[0] != byte(bytecode.OpPush) {
		t.Fatalf("expected first op to be PUSH, got %v", bytecode.Op(chunk.Code[0]))
	}
	if chunk.Code[1] != byte(bytecode.ImmNumber) {
		t.Fatalf("expected ImmNumber tag, got %d", chunk.Code[1])
	}
	if got := bytecode.ReadF32(chunk.Code, 2); got != 42 {
		t.Fatalf("emitted number = %v, want 42", got)
	}
	// ExpressionStmt discards its value.
	if chunk.Code[6] != byte(bytecode.OpPop) {
		t.Fatalf("expected trailing POP, got %v", bytecode.Op(chunk.Code[6]))
	}
}

func TestCompileTopLevelEmitsNoTrailingReturn(t *testing.T) {
	c := newTestCompiler()
	chunk, err := c.Compile([]ast.Stmt{
		&ast.ExpressionStmt{Expr: ast.NewNumber(1, 42)},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// PUSH+ImmNumber+f32 (6 bytes) + trailing POP (1 byte) = 7 bytes total,
	// with no RETURN appended after it.
	if chunk.Len() != 7 {
		t.Fatalf("chunk length = %d, want 7 (no trailing RETURN)", chunk.Len())
	}
	if chunk.Code[chunk.Len()-1] == byte(bytecode.OpReturn) {
		t.Fatalf("did not expect a trailing RETURN at top level")
	}
}

func TestCompileGlobalDeclarationAssignsSlot(t *testing.T) {
	c := newTestCompiler()
	_, err := c.Compile([]ast.Stmt{
		&ast.Declaration{Kind: ast.DeclVar, Name: "x", Value: ast.NewNumber(1, 1)},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	id, ok := c.Globals()["x"]
	if !ok {
		t.Fatalf("expected global %q to be registered", "x")
	}
	if id != uint16(len(builtinNames)) {
		t.Fatalf("first user global slot = %d, want %d (right after builtins)", id, len(builtinNames))
	}
}

func TestCompileDeclarationRejectsBuiltinShadowing(t *testing.T) {
	c := newTestCompiler()
	_, err := c.Compile([]ast.Stmt{
		&ast.Declaration{Kind: ast.DeclVar, Name: "len", Value: ast.NewNumber(1, 1)},
	})
	if err == nil {
		t.Fatalf("expected an error declaring a name that shadows a builtin")
	}
}

func TestCompileBreakOutsideLoopRejected(t *testing.T) {
	c := newTestCompiler()
	_, err := c.Compile([]ast.Stmt{&ast.Break{}})
	if err == nil {
		t.Fatalf("expected an error for break outside a loop")
	}
}

func TestCompileReturnOutsideFunctionRejected(t *testing.T) {
	c := newTestCompiler()
	_, err := c.Compile([]ast.Stmt{&ast.Return{}})
	if err == nil {
		t.Fatalf("expected an error for return outside a function")
	}
}

func TestCompileBreakInsideLoopAccepted(t *testing.T) {
	c := newTestCompiler()
	_, err := c.Compile([]ast.Stmt{
		&ast.Loop{Body: &ast.Block{Stmts: []ast.Stmt{&ast.Break{}}}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
}

func TestCompileReturnInElseBranchOutsideFunctionRejected(t *testing.T) {
	c := newTestCompiler()
	_, err := c.Compile([]ast.Stmt{
		&ast.If{
			Cond: ast.NewBool(1, true),
			Body: &ast.Block{},
			Else: &ast.Block{Stmts: []ast.Stmt{&ast.Return{}}},
		},
	})
	if err == nil {
		t.Fatalf("expected an error for a return inside an else branch outside a function")
	}
}

func TestCompileBreakInElseBranchOutsideLoopRejected(t *testing.T) {
	c := newTestCompiler()
	_, err := c.Compile([]ast.Stmt{
		&ast.If{
			Cond: ast.NewBool(1, true),
			Body: &ast.Block{},
			Else: &ast.Block{Stmts: []ast.Stmt{&ast.Break{}}},
		},
	})
	if err == nil {
		t.Fatalf("expected an error for a break inside an else branch outside a loop")
	}
}

func TestCompileDeclarationInElseBranchRejectsBuiltinShadowing(t *testing.T) {
	c := newTestCompiler()
	_, err := c.Compile([]ast.Stmt{
		&ast.If{
			Cond: ast.NewBool(1, true),
			Body: &ast.Block{},
			Else: &ast.Block{Stmts: []ast.Stmt{
				&ast.Declaration{Kind: ast.DeclVar, Name: "len", Value: ast.NewNumber(1, 1)},
			}},
		},
	})
	if err == nil {
		t.Fatalf("expected an error declaring a builtin-shadowing name inside an else branch")
	}
}

func TestCompileIfElseBackpatchesConditionalJump(t *testing.T) {
	c := newTestCompiler()
	chunk, err := c.Compile([]ast.Stmt{
		&ast.If{
			Cond: ast.NewBool(1, true),
			Body: &ast.Block{Stmts: []ast.Stmt{&ast.Print{Expr: ast.NewNumber(1, 1)}}},
			Else: &ast.Block{Stmts: []ast.Stmt{&ast.Print{Expr: ast.NewNumber(1, 2)}}},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// JUMP_IF_FALSE immediately follows the condition's PUSH+tag+bool byte (3 bytes).
	jifAt := 3
	if chunk.Code[jifAt] != byte(bytecode.OpJumpIfFalse) {
		t.Fatalf("expected JUMP_IF_FALSE at %d, got %v", jifAt, bytecode.Op(chunk.Code[jifAt]))
	}
	target := bytecode.ReadF32(chunk.Code, jifAt+1)
	if int(target) <= jifAt || int(target) > chunk.Len() {
		t.Fatalf("JUMP_IF_FALSE target %v out of plausible range (code len %d)", target, chunk.Len())
	}
}

func TestCompileLoopJumpsBackToStart(t *testing.T) {
	c := newTestCompiler()
	chunk, err := c.Compile([]ast.Stmt{
		&ast.Loop{Body: &ast.Block{Stmts: []ast.Stmt{&ast.Break{}}}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// The loop's closing JUMP (to loc 0) is the last instruction in the chunk.
	closingJumpAt := chunk.Len() - 1 - 4
	if chunk.Code[closingJumpAt] != byte(bytecode.OpJump) {
		t.Fatalf("expected closing JUMP at %d, got %v", closingJumpAt, bytecode.Op(chunk.Code[closingJumpAt]))
	}
	target := bytecode.ReadF32(chunk.Code, closingJumpAt+1)
	if target != 0 {
		t.Fatalf("loop closing jump target = %v, want 0", target)
	}
}

func TestCompileFunctionDeclarationPushesFunctionValue(t *testing.T) {
	c := newTestCompiler()
	chunk, err := c.Compile([]ast.Stmt{
		&ast.FunctionDeclarationStmt{
			Name:   "f",
			Params: []string{"a"},
			Body: &ast.FunctionBody{Stmts: []ast.Stmt{
				&ast.Return{Value: ast.NewIdentifier(1, "a")},
			}},
		},
		&ast.ExpressionStmt{Expr: ast.NewNumber(1, 0)},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, ok := c.Globals()["f"]; !ok {
		t.Fatalf("expected function name to be registered as a global")
	}
	// PUSH, ImmFunction, 4-byte placeholder, 1-byte arity = 7 bytes.
	if chunk.Code[0] != byte(bytecode.OpPush) || chunk.Code[1] != byte(bytecode.ImmFunction) {
		t.Fatalf("expected function value push at the top of the chunk")
	}
	if chunk.Code[6] != 1 {
		t.Fatalf("expected arity byte = 1, got %d", chunk.Code[6])
	}
}

func TestCompileConstReassignmentRejected(t *testing.T) {
	c := newTestCompiler()
	_, err := c.Compile([]ast.Stmt{
		&ast.FunctionDeclarationStmt{
			Name: "f",
			Body: &ast.FunctionBody{Stmts: []ast.Stmt{
				&ast.Declaration{Kind: ast.DeclConst, Name: "x", Value: ast.NewNumber(1, 1)},
				&ast.ExpressionStmt{Expr: &ast.Assignment{
					Assignee: ast.NewIdentifier(1, "x"),
					Value:    ast.NewNumber(1, 2),
				}},
				&ast.Return{},
			}},
		},
	})
	if err == nil {
		t.Fatalf("expected an error reassigning a const local")
	}
}

func TestCompileBlockEmitsTrailingPopsForLocals(t *testing.T) {
	c := newTestCompiler()
	chunk, err := c.Compile([]ast.Stmt{
		&ast.Block{Stmts: []ast.Stmt{
			&ast.Declaration{Kind: ast.DeclVar, Name: "a", Value: ast.NewNumber(1, 1)},
			&ast.Declaration{Kind: ast.DeclVar, Name: "b", Value: ast.NewNumber(1, 2)},
		}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// Two PUSH-number sequences (6 bytes each) then two trailing POPs.
	popAt := 12
	if chunk.Code[popAt] != byte(bytecode.OpPop) || chunk.Code[popAt+1] != byte(bytecode.OpPop) {
		t.Fatalf("expected two trailing POPs at %d, got %v %v",
			popAt, bytecode.Op(chunk.Code[popAt]), bytecode.Op(chunk.Code[popAt+1]))
	}
}

func TestCompileMemberAccessOrder(t *testing.T) {
	c := newTestCompiler()
	chunk, err := c.Compile([]ast.Stmt{
		&ast.ExpressionStmt{Expr: &ast.Member{
			Callee:   ast.NewIdentifier(1, "obj"),
			Property: ast.NewString(1, "k"),
		}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// Property (string, 10 bytes: PUSH+tag+8-byte ptr) is compiled first, then
	// callee (identifier, 4 bytes via global path: PUSH+GET_GLOBAL+2-byte id),
	// then ACCESS.
	if chunk.Code[0] != byte(bytecode.OpPush) || chunk.Code[1] != byte(bytecode.ImmString) {
		t.Fatalf("expected property string pushed first")
	}
	accessAt := 10 + 4
	if chunk.Code[accessAt] != byte(bytecode.OpAccess) {
		t.Fatalf("expected ACCESS at %d, got %v", accessAt, bytecode.Op(chunk.Code[accessAt]))
	}
}

func TestGlobalsPreSeededWithBuiltins(t *testing.T) {
	c := newTestCompiler()
	for i, name := range builtinNames {
		if id, ok := c.Globals()[name]; !ok || int(id) != i {
			t.Fatalf("builtin %q = (%d, %v), want (%d, true)", name, id, ok, i)
		}
	}
}
