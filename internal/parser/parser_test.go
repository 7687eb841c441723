package parser

import (
	"testing"

	"pantera/internal/ast"
	"pantera/internal/lexer"
)

func parse(t *testing.T, src string) []ast.Stmt {
	t.Helper()
	tokens, errs := lexer.NewScanner(src).ScanTokens()
	if len(errs) != 0 {
		t.Fatalf("lex errors: %v", errs)
	}
	stmts, err := New(tokens).ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return stmts
}

func TestParseVarDeclaration(t *testing.T) {
	stmts := parse(t, "var x = 1;")
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(stmts))
	}
	d, ok := stmts[0].(*ast.Declaration)
	if !ok {
		t.Fatalf("expected *ast.Declaration, got %T", stmts[0])
	}
	if d.Name != "x" || d.Kind != ast.DeclVar {
		t.Fatalf("declaration = %+v, want var x", d)
	}
}

func TestParseMultiDeclaration(t *testing.T) {
	stmts := parse(t, "var a = 1, b = 2;")
	md, ok := stmts[0].(*ast.MultiDeclaration)
	if !ok {
		t.Fatalf("expected *ast.MultiDeclaration, got %T", stmts[0])
	}
	if len(md.Decls) != 2 || md.Decls[0].Name != "a" || md.Decls[1].Name != "b" {
		t.Fatalf("decls = %+v, want [a, b]", md.Decls)
	}
}

func TestParseConstWithoutValueErrors(t *testing.T) {
	tokens, _ := lexer.NewScanner("const x;").ScanTokens()
	_, err := New(tokens).ParseProgram()
	if err == nil {
		t.Fatalf("expected an error for an uninitialized const")
	}
}

func TestOperatorPrecedenceMulBeforeAdd(t *testing.T) {
	stmts := parse(t, "1 + 2 * 3;")
	es := stmts[0].(*ast.ExpressionStmt)
	b := es.Expr.(*ast.Binary)
	if b.Op != ast.OpPlus {
		t.Fatalf("top-level op = %v, want OpPlus", b.Op)
	}
	right, ok := b.Right.(*ast.Binary)
	if !ok || right.Op != ast.OpMul {
		t.Fatalf("right operand = %+v, want a Mul node nested under Plus", b.Right)
	}
}

func TestIsNotEquality(t *testing.T) {
	stmts := parse(t, "1 is not 2;")
	es := stmts[0].(*ast.ExpressionStmt)
	b := es.Expr.(*ast.Binary)
	if b.Op != ast.OpNe {
		t.Fatalf("`is not` = %v, want OpNe", b.Op)
	}
}

func TestEqEqSpellingAlsoEquality(t *testing.T) {
	stmts := parse(t, "1 == 2;")
	es := stmts[0].(*ast.ExpressionStmt)
	b := es.Expr.(*ast.Binary)
	if b.Op != ast.OpEq {
		t.Fatalf("`==` = %v, want OpEq", b.Op)
	}
}

func TestMemberAccessViaAposS(t *testing.T) {
	stmts := parse(t, "obj's field;")
	es := stmts[0].(*ast.ExpressionStmt)
	m, ok := es.Expr.(*ast.Member)
	if !ok {
		t.Fatalf("expected *ast.Member, got %T", es.Expr)
	}
	prop, ok := m.Property.(*ast.StringLit)
	if !ok || prop.Value != "field" {
		t.Fatalf("property = %+v, want StringLit(field)", m.Property)
	}
}

func TestMethodCallViaAposS(t *testing.T) {
	stmts := parse(t, "obj's method(1, 2);")
	es := stmts[0].(*ast.ExpressionStmt)
	call, ok := es.Expr.(*ast.Call)
	if !ok {
		t.Fatalf("expected *ast.Call, got %T", es.Expr)
	}
	if len(call.Args) != 2 {
		t.Fatalf("call args = %v, want 2", call.Args)
	}
	m, ok := call.Callee.(*ast.Member)
	if !ok {
		t.Fatalf("callee = %T, want *ast.Member", call.Callee)
	}
	prop := m.Property.(*ast.StringLit)
	if prop.Value != "method" {
		t.Fatalf("method name = %q, want method", prop.Value)
	}
}

func TestCurriedFunctionDeclarationJoinsName(t *testing.T) {
	stmts := parse(t, "fun add(a)to(b) { return a + b; }")
	fd, ok := stmts[0].(*ast.FunctionDeclarationStmt)
	if !ok {
		t.Fatalf("expected *ast.FunctionDeclarationStmt, got %T", stmts[0])
	}
	if fd.Name != "add_to" {
		t.Fatalf("curried function name = %q, want add_to", fd.Name)
	}
	if len(fd.Params) != 2 || fd.Params[0] != "a" || fd.Params[1] != "b" {
		t.Fatalf("params = %v, want [a b]", fd.Params)
	}
}

func TestCurriedCallJoinsName(t *testing.T) {
	stmts := parse(t, "add(1)to(2);")
	es := stmts[0].(*ast.ExpressionStmt)
	call, ok := es.Expr.(*ast.Call)
	if !ok {
		t.Fatalf("expected *ast.Call, got %T", es.Expr)
	}
	callee := call.Callee.(*ast.Identifier)
	if callee.Name != "add_to" {
		t.Fatalf("curried call name = %q, want add_to", callee.Name)
	}
	if len(call.Args) != 2 {
		t.Fatalf("call args = %v, want 2", call.Args)
	}
}

func TestRangedLoopDesugarsToBlockInitAndLoop(t *testing.T) {
	stmts := parse(t, "loop 0..3 { print it; }")
	wrapper, ok := stmts[0].(*ast.Block)
	if !ok {
		t.Fatalf("expected the ranged loop to desugar to a wrapping *ast.Block, got %T", stmts[0])
	}
	if len(wrapper.Stmts) != 2 {
		t.Fatalf("wrapper block stmts = %d, want 2 (init, loop)", len(wrapper.Stmts))
	}
	initDecl, ok := wrapper.Stmts[0].(*ast.Declaration)
	if !ok || initDecl.Name != "it" {
		t.Fatalf("first wrapper stmt = %+v, want a Declaration of 'it'", wrapper.Stmts[0])
	}
	loop, ok := wrapper.Stmts[1].(*ast.Loop)
	if !ok {
		t.Fatalf("second wrapper stmt = %T, want *ast.Loop", wrapper.Stmts[1])
	}
	body := loop.Body.(*ast.Block)
	if len(body.Stmts) != 3 {
		t.Fatalf("desugared loop body stmts = %d, want 3 (block, increment, exit-if)", len(body.Stmts))
	}
	if _, ok := body.Stmts[2].(*ast.If); !ok {
		t.Fatalf("third loop-body stmt = %T, want *ast.If (the exit check)", body.Stmts[2])
	}
}

func TestBareLoopRequiresRangeBounds(t *testing.T) {
	tokens, _ := lexer.NewScanner("loop 0 { print it; }").ScanTokens()
	_, err := New(tokens).ParseProgram()
	if err == nil {
		t.Fatalf("expected an error for a loop with a start but no '..' bound")
	}
}

func TestLoopWithAsAliasUsesCustomName(t *testing.T) {
	stmts := parse(t, "loop 0..3 as i { print i; }")
	wrapper := stmts[0].(*ast.Block)
	initDecl := wrapper.Stmts[0].(*ast.Declaration)
	if initDecl.Name != "i" {
		t.Fatalf("alias name = %q, want i", initDecl.Name)
	}
}

func TestIfElseStatement(t *testing.T) {
	stmts := parse(t, "if true { print 1; } else { print 2; }")
	ifStmt, ok := stmts[0].(*ast.If)
	if !ok {
		t.Fatalf("expected *ast.If, got %T", stmts[0])
	}
	if ifStmt.Else == nil {
		t.Fatalf("expected an else branch")
	}
}

func TestBlockVsObjectLiteralDisambiguation(t *testing.T) {
	stmts := parse(t, "{a: 1};")
	es, ok := stmts[0].(*ast.ExpressionStmt)
	if !ok {
		t.Fatalf("expected `{a: 1};` to parse as an expression statement, got %T", stmts[0])
	}
	if _, ok := es.Expr.(*ast.Object); !ok {
		t.Fatalf("expected an object literal expression, got %T", es.Expr)
	}
}

func TestArrayLiteral(t *testing.T) {
	stmts := parse(t, "[1, 2, 3];")
	es := stmts[0].(*ast.ExpressionStmt)
	arr, ok := es.Expr.(*ast.Array)
	if !ok {
		t.Fatalf("expected *ast.Array, got %T", es.Expr)
	}
	if len(arr.Values) != 3 {
		t.Fatalf("array values = %d, want 3", len(arr.Values))
	}
}

func TestAssignmentToNonIdentifierErrors(t *testing.T) {
	tokens, _ := lexer.NewScanner("1 = 2;").ScanTokens()
	_, err := New(tokens).ParseProgram()
	if err == nil {
		t.Fatalf("expected an error assigning to a non-lvalue")
	}
}

func TestUnaryNotUsesNotKeyword(t *testing.T) {
	stmts := parse(t, "not true;")
	es := stmts[0].(*ast.ExpressionStmt)
	u, ok := es.Expr.(*ast.Unary)
	if !ok || u.Op != ast.OpNe {
		t.Fatalf("not true = %+v, want Unary{Op: OpNe}", es.Expr)
	}
}
