package compiler

import (
	"strings"
	"sync"

	"pantera/internal/ast"
	"pantera/internal/perrors"
)

// RunSemanticChecks runs the three read-only AST walks (§4.6) concurrently —
// one goroutine per checker, mirroring original_source's `thread::scope` —
// and concatenates their errors in a fixed order (declaration, break,
// return) once all three finish.
func RunSemanticChecks(program []ast.Stmt, builtins map[string]uint16) error {
	var declErrs, breakErrs, returnErrs []error
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		declErrs = checkDeclarations(program, builtins)
	}()
	go func() {
		defer wg.Done()
		breakErrs = checkBreaks(program)
	}()
	go func() {
		defer wg.Done()
		returnErrs = checkReturns(program)
	}()
	wg.Wait()

	var all []error
	all = append(all, declErrs...)
	all = append(all, breakErrs...)
	all = append(all, returnErrs...)
	if len(all) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(all))
	for _, e := range all {
		msgs = append(msgs, e.Error())
	}
	return perrors.NewCompile("%s", strings.Join(msgs, "\n"))
}

// --- 1. declaration check: no shadowing/reassigning a builtin name ---

func checkDeclarations(program []ast.Stmt, builtins map[string]uint16) []error {
	var errs []error
	var visitStmt func(ast.Stmt)
	var visitExpr func(ast.Expr)

	visitExpr = func(e ast.Expr) {
		switch v := e.(type) {
		case *ast.Call:
			visitExpr(v.Callee)
			for _, a := range v.Args {
				visitExpr(a)
			}
		case *ast.Assignment:
			if ident, ok := v.Assignee.(*ast.Identifier); ok {
				if _, ok := builtins[ident.Name]; ok {
					errs = append(errs, perrors.NewCompile("cannot reassign builtin %q", ident.Name))
				}
			}
			visitExpr(v.Value)
		case *ast.Binary:
			visitExpr(v.Left)
			visitExpr(v.Right)
		case *ast.Unary:
			visitExpr(v.Expr)
		case *ast.Group:
			visitExpr(v.Expr)
		case *ast.Member:
			visitExpr(v.Callee)
			visitExpr(v.Property)
		case *ast.Object:
			for _, p := range v.Props {
				visitExpr(p)
			}
			for _, val := range v.Values {
				visitExpr(val)
			}
		case *ast.Array:
			for _, val := range v.Values {
				visitExpr(val)
			}
		}
	}

	visitStmt = func(s ast.Stmt) {
		switch v := s.(type) {
		case *ast.FunctionDeclarationStmt:
			visitStmt(v.Body)
		case *ast.Block:
			for _, st := range v.Stmts {
				visitStmt(st)
			}
		case *ast.FunctionBody:
			for _, st := range v.Stmts {
				visitStmt(st)
			}
		case *ast.Print:
			visitExpr(v.Expr)
		case *ast.ExpressionStmt:
			visitExpr(v.Expr)
		case *ast.Return:
			if v.Value != nil {
				visitExpr(v.Value)
			}
		case *ast.If:
			visitExpr(v.Cond)
			visitStmt(v.Body)
			if v.Else != nil {
				visitStmt(v.Else)
			}
		case *ast.Loop:
			visitStmt(v.Body)
		case *ast.Declaration:
			if _, ok := builtins[v.Name]; ok {
				errs = append(errs, perrors.NewCompile("cannot declare %q, the name of a builtin", v.Name))
			}
			if v.Value != nil {
				visitExpr(v.Value)
			}
		case *ast.MultiDeclaration:
			for _, d := range v.Decls {
				visitStmt(d)
			}
		}
	}

	for _, stmt := range program {
		visitStmt(stmt)
	}
	return errs
}

// --- 2. break-in-loop check ---

type breakChecker struct {
	isLoop bool
	errs   []error
}

func checkBreaks(program []ast.Stmt) []error {
	c := &breakChecker{}
	for _, stmt := range program {
		c.visit(stmt)
	}
	return c.errs
}

func (c *breakChecker) visit(s ast.Stmt) {
	switch v := s.(type) {
	case *ast.FunctionDeclarationStmt:
		// Crossing a function boundary resets "inside loop" (§4.6) — unlike
		// the original, which never saves/restores is_loop here and so lets
		// a break inside a nested function incorrectly pass.
		outer := c.isLoop
		c.isLoop = false
		c.visit(v.Body)
		c.isLoop = outer
	case *ast.Block:
		for _, st := range v.Stmts {
			c.visit(st)
		}
	case *ast.FunctionBody:
		for _, st := range v.Stmts {
			c.visit(st)
		}
	case *ast.Break:
		if !c.isLoop {
			c.errs = append(c.errs, perrors.NewCompile("break statement outside loop is not allowed"))
		}
	case *ast.If:
		c.visit(v.Body)
		if v.Else != nil {
			c.visit(v.Else)
		}
	case *ast.Loop:
		outer := c.isLoop
		c.isLoop = true
		c.visit(v.Body)
		c.isLoop = outer
	}
}

// --- 3. return-in-function check ---

type returnChecker struct {
	isFunction bool
	errs       []error
}

func checkReturns(program []ast.Stmt) []error {
	c := &returnChecker{}
	for _, stmt := range program {
		c.visit(stmt)
	}
	return c.errs
}

func (c *returnChecker) visit(s ast.Stmt) {
	switch v := s.(type) {
	case *ast.FunctionDeclarationStmt:
		c.isFunction = true
		c.visit(v.Body)
		c.isFunction = false
	case *ast.Block:
		for _, st := range v.Stmts {
			c.visit(st)
		}
	case *ast.FunctionBody:
		for _, st := range v.Stmts {
			c.visit(st)
		}
	case *ast.Return:
		if !c.isFunction {
			c.errs = append(c.errs, perrors.NewCompile("cannot return outside a function"))
		}
	case *ast.If:
		c.visit(v.Body)
		if v.Else != nil {
			c.visit(v.Else)
		}
	case *ast.Loop:
		c.visit(v.Body)
	}
}
