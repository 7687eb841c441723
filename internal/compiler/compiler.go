// Package compiler turns the parser's AST into a bytecode.Chunk: a
// single-pass tree-walk emitting instructions directly, no intermediate IR
// (§4.5). Grounded in original_source's pantera-compiler/src/compiler.go —
// same emission order per node, same jump back-patching, same global-name
// hashing scheme — adapted from the original's expression/statement
// double-visitor split into one type-switch-dispatched Compiler, since this
// AST's node set is small and fixed (no plugin extensibility to support).
package compiler

import (
	"pantera/internal/ast"
	"pantera/internal/bytecode"
	"pantera/internal/heap"
	"pantera/internal/perrors"
)

// context tracks whether the compiler is currently emitting top-level code,
// a bare block, or a function body — declarations behave differently in
// each (§4.5).
type context int

const (
	ctxGlobal context = iota
	ctxBlock
	ctxFunction
)

// Compiler is single-use: construct with New, call Compile once.
type Compiler struct {
	heap *heap.Manager
	code *bytecode.Chunk

	env       *Env
	context   context
	globals   map[string]uint16
	breakStmt [][]int // stack of pending break jump-patch addresses, one per open loop
}

// New builds a Compiler pre-seeded with the fixed builtin names at their
// reserved slot ids (§4.9) — both so identifier lookups resolve them as
// globals and so the semantic pre-pass can reject shadowing attempts.
func New(h *heap.Manager) *Compiler {
	return &Compiler{
		heap:    h,
		code:    bytecode.NewChunk(),
		env:     NewEnv(),
		context: ctxGlobal,
		globals: BuiltinGlobals(),
	}
}

// Compile runs the semantic pre-pass and, if it passes, compiles the whole
// program into a single chunk. No trailing RETURN is emitted at top level:
// Run halts on its own once ip reaches the end of the code, the same as the
// original compiler, which never emits one either.
func (c *Compiler) Compile(program []ast.Stmt) (*bytecode.Chunk, error) {
	if err := RunSemanticChecks(program, c.globals); err != nil {
		return nil, err
	}
	for _, stmt := range program {
		if err := c.compileStmt(stmt); err != nil {
			return nil, err
		}
	}
	return c.code, nil
}

// Globals returns the final name->slot map, needed by the VM to know which
// global id backs which builtin.
func (c *Compiler) Globals() map[string]uint16 { return c.globals }

// --- emission helpers ---

func (c *Compiler) emitNumber(n float32) {
	c.code.EmitOp(bytecode.OpPush)
	c.code.EmitByte(byte(bytecode.ImmNumber))
	c.code.EmitF32(n)
}

func (c *Compiler) emitBool(b bool) {
	c.code.EmitOp(bytecode.OpPush)
	c.code.EmitByte(byte(bytecode.ImmBool))
	if b {
		c.code.EmitByte(1)
	} else {
		c.code.EmitByte(0)
	}
}

func (c *Compiler) emitNull() {
	c.code.EmitOp(bytecode.OpPush)
	c.code.EmitByte(byte(bytecode.ImmNull))
}

func (c *Compiler) emitString(s string) error {
	p, err := c.heap.AllocateCompiledString(s)
	if err != nil {
		return err
	}
	c.code.EmitOp(bytecode.OpPush)
	c.code.EmitByte(byte(bytecode.ImmString))
	c.code.EmitU64(uint64(p))
	return nil
}

func (c *Compiler) emitFunctionPlaceholder() int {
	c.code.EmitOp(bytecode.OpPush)
	c.code.EmitByte(byte(bytecode.ImmFunction))
	addr := c.code.EmitPlaceholder()
	return addr
}

// emitHash resolves variable's global slot id, assigning the next free one
// if this is the first reference (§4.5).
func (c *Compiler) emitHash(name string) {
	id, ok := c.globals[name]
	if !ok {
		id = uint16(len(c.globals))
		c.globals[name] = id
	}
	c.code.EmitU16(id)
}

// emitJump emits JUMP plus a 4-byte placeholder and returns its address.
func (c *Compiler) emitJump() int {
	c.code.EmitOp(bytecode.OpJump)
	return c.code.EmitPlaceholder()
}

// backPatch writes the current code length into the 4-byte placeholder at
// addr, as an f32 (§4.1's jump-target encoding).
func (c *Compiler) backPatch(addr int) {
	c.code.PatchF32(addr, float32(c.code.Len()))
}

// --- expressions ---

func (c *Compiler) compileExpr(e ast.Expr) error {
	switch v := e.(type) {
	case *ast.Nil:
		c.emitNull()
		return nil
	case *ast.BoolLit:
		c.emitBool(v.Value)
		return nil
	case *ast.NumberLit:
		c.emitNumber(v.Value)
		return nil
	case *ast.StringLit:
		return c.emitString(v.Value)
	case *ast.Identifier:
		return c.compileIdentifier(v)
	case *ast.Binary:
		return c.compileBinary(v)
	case *ast.Unary:
		if err := c.compileExpr(v.Expr); err != nil {
			return err
		}
		switch v.Op {
		case ast.OpMinus:
			c.code.EmitOp(bytecode.OpUnarySub)
		case ast.OpNe:
			c.code.EmitOp(bytecode.OpUnaryNot)
		default:
			return perrors.NewCompile("unsupported unary operator")
		}
		return nil
	case *ast.Group:
		return c.compileExpr(v.Expr)
	case *ast.Member:
		// ACCESS pops container then key, so property is pushed first,
		// callee second (§4.5's "property-then-callee" order).
		if err := c.compileExpr(v.Property); err != nil {
			return err
		}
		if err := c.compileExpr(v.Callee); err != nil {
			return err
		}
		c.code.EmitOp(bytecode.OpAccess)
		return nil
	case *ast.Call:
		for _, arg := range v.Args {
			if err := c.compileExpr(arg); err != nil {
				return err
			}
		}
		if err := c.compileExpr(v.Callee); err != nil {
			return err
		}
		c.code.EmitOp(bytecode.OpCall)
		return nil
	case *ast.Assignment:
		return c.compileAssignment(v)
	case *ast.Object:
		return c.compileObject(v)
	case *ast.Array:
		return c.compileArray(v)
	}
	return perrors.NewCompile("unsupported expression node")
}

func (c *Compiler) compileIdentifier(id *ast.Identifier) error {
	if v, ok := c.env.GetVariable(id.Name); ok {
		c.code.EmitOp(bytecode.OpPush)
		c.code.EmitOp(bytecode.OpGet)
		c.code.EmitByte(byte(v.Slot))
		return nil
	}
	c.code.EmitOp(bytecode.OpPush)
	c.code.EmitOp(bytecode.OpGetGlobal)
	c.emitHash(id.Name)
	return nil
}

func (c *Compiler) compileAssignment(a *ast.Assignment) error {
	if err := c.compileExpr(a.Value); err != nil {
		return err
	}
	switch assignee := a.Assignee.(type) {
	case *ast.Identifier:
		if v, ok := c.env.GetVariable(assignee.Name); ok {
			if v.IsConstant {
				return perrors.NewCompile("cannot reassign const %q", assignee.Name)
			}
			c.code.EmitOp(bytecode.OpSet)
			c.code.EmitByte(byte(v.Slot))
			return nil
		}
		c.code.EmitOp(bytecode.OpSetGlobal)
		c.emitHash(assignee.Name)
		return nil
	case *ast.Member:
		if err := c.compileExpr(assignee.Callee); err != nil {
			return err
		}
		if err := c.compileExpr(assignee.Property); err != nil {
			return err
		}
		c.code.EmitOp(bytecode.OpSetProperty)
		return nil
	}
	return perrors.NewCompile("invalid assignment target")
}

func (c *Compiler) compileBinary(b *ast.Binary) error {
	if err := c.compileExpr(b.Left); err != nil {
		return err
	}
	if err := c.compileExpr(b.Right); err != nil {
		return err
	}
	switch b.Op {
	case ast.OpPlus:
		c.code.EmitOp(bytecode.OpAdd)
	case ast.OpMinus:
		c.code.EmitOp(bytecode.OpSub)
	case ast.OpDiv:
		c.code.EmitOp(bytecode.OpDiv)
	case ast.OpMul:
		c.code.EmitOp(bytecode.OpMul)
	case ast.OpPow:
		c.code.EmitOp(bytecode.OpPow)
	case ast.OpEq:
		c.code.EmitOp(bytecode.OpEq)
	case ast.OpNe:
		c.code.EmitOp(bytecode.OpNe)
	case ast.OpAnd:
		c.code.EmitOp(bytecode.OpAnd)
	case ast.OpOr:
		c.code.EmitOp(bytecode.OpOr)
	case ast.OpGe:
		c.code.EmitOp(bytecode.OpGe)
	case ast.OpLe:
		c.code.EmitOp(bytecode.OpLe)
	case ast.OpGreater:
		c.code.EmitOp(bytecode.OpGr)
	case ast.OpLess:
		c.code.EmitOp(bytecode.OpLs)
	default:
		return perrors.NewCompile("unsupported binary operator")
	}
	return nil
}

func (c *Compiler) compileObject(o *ast.Object) error {
	for _, prop := range o.Props {
		if err := c.compileExpr(prop); err != nil {
			return err
		}
	}
	for _, val := range o.Values {
		if err := c.compileExpr(val); err != nil {
			return err
		}
	}
	c.emitNumber(float32(len(o.Props)))
	c.code.EmitOp(bytecode.OpAllocate)
	return nil
}

func (c *Compiler) compileArray(a *ast.Array) error {
	for _, val := range a.Values {
		if err := c.compileExpr(val); err != nil {
			return err
		}
	}
	c.emitNumber(float32(len(a.Values)))
	c.code.EmitOp(bytecode.OpAllocateArray)
	return nil
}

// --- statements ---

func (c *Compiler) compileStmt(s ast.Stmt) error {
	switch v := s.(type) {
	case *ast.Print:
		if err := c.compileExpr(v.Expr); err != nil {
			return err
		}
		c.code.EmitOp(bytecode.OpPrint)
		return nil
	case *ast.ExpressionStmt:
		if err := c.compileExpr(v.Expr); err != nil {
			return err
		}
		c.code.EmitOp(bytecode.OpPop)
		return nil
	case *ast.Break:
		c.code.EmitOp(bytecode.OpJump)
		addr := c.code.EmitPlaceholder()
		top := len(c.breakStmt) - 1
		if top < 0 {
			return perrors.NewCompile("break statement outside loop is not allowed")
		}
		c.breakStmt[top] = append(c.breakStmt[top], addr)
		return nil
	case *ast.Return:
		if v.Value != nil {
			if err := c.compileExpr(v.Value); err != nil {
				return err
			}
			c.code.EmitOp(bytecode.OpReturn)
		}
		c.code.EmitOp(bytecode.OpEndFunction)
		return nil
	case *ast.If:
		return c.compileIf(v)
	case *ast.Loop:
		return c.compileLoop(v)
	case *ast.Declaration:
		return c.compileDeclaration(v)
	case *ast.MultiDeclaration:
		for _, d := range v.Decls {
			if err := c.compileDeclaration(d); err != nil {
				return err
			}
		}
		return nil
	case *ast.Block:
		return c.compileBlock(v)
	case *ast.FunctionBody:
		return c.compileFunctionBody(v)
	case *ast.FunctionDeclarationStmt:
		return c.compileFunctionDeclaration(v)
	}
	return perrors.NewCompile("unsupported statement node")
}

func (c *Compiler) compileIf(i *ast.If) error {
	if err := c.compileExpr(i.Cond); err != nil {
		return err
	}
	c.code.EmitOp(bytecode.OpJumpIfFalse)
	falseAddr := c.code.EmitPlaceholder()

	if err := c.compileStmt(i.Body); err != nil {
		return err
	}
	if i.Else != nil {
		elseAddr := c.emitJump()
		c.backPatch(falseAddr)
		if err := c.compileStmt(i.Else); err != nil {
			return err
		}
		c.backPatch(elseAddr)
	} else {
		c.backPatch(falseAddr)
	}
	return nil
}

func (c *Compiler) compileLoop(l *ast.Loop) error {
	c.breakStmt = append(c.breakStmt, nil)
	loc := c.code.Len()
	if err := c.compileStmt(l.Body); err != nil {
		return err
	}
	c.code.EmitOp(bytecode.OpJump)
	c.code.EmitF32(float32(loc))

	top := len(c.breakStmt) - 1
	pending := c.breakStmt[top]
	c.breakStmt = c.breakStmt[:top]
	for _, addr := range pending {
		c.backPatch(addr)
	}
	return nil
}

func (c *Compiler) compileDeclaration(d *ast.Declaration) error {
	if c.context == ctxGlobal {
		if d.Value != nil {
			if err := c.compileExpr(d.Value); err != nil {
				return err
			}
		} else {
			c.emitNull()
		}
		c.code.EmitOp(bytecode.OpDeclareGlobal)
		c.emitHash(d.Name)
		return nil
	}
	if d.Value != nil {
		if err := c.compileExpr(d.Value); err != nil {
			return err
		}
		if d.Kind == ast.DeclConst {
			c.env.SetConstant(d.Name)
		} else {
			c.env.SetVariable(d.Name)
		}
		return nil
	}
	if d.Kind == ast.DeclConst {
		return perrors.NewCompile("const %q must have a value", d.Name)
	}
	c.env.SetVariable(d.Name)
	c.code.EmitOp(bytecode.OpDeclare)
	return nil
}

// compileBlock opens a non-frame scope: declarations inside it become
// stack locals, and the scope's trailing POPs discard them on exit (§4.5).
func (c *Compiler) compileBlock(b *ast.Block) error {
	oldCtx := c.context
	c.context = ctxBlock
	c.env = NewLocal(c.env)

	for _, stmt := range b.Stmts {
		if err := c.compileStmt(stmt); err != nil {
			return err
		}
	}

	for i := 0; i < c.env.Count(); i++ {
		c.code.EmitOp(bytecode.OpPop)
	}
	c.env = c.env.enclosing
	c.context = oldCtx
	return nil
}

// compileFunctionBody opens the function's frame scope, reserving slot 0
// for the `__offset__` pseudo-local and the following slots for params.
// It emits NO trailing POPs — END_FUNCTION discards the whole frame.
func (c *Compiler) compileFunctionBody(fb *ast.FunctionBody, params ...string) error {
	c.env = NewFrame(c.env)
	c.env.SetVariable("__offset__")
	for _, p := range params {
		c.env.SetVariable(p)
	}

	for _, stmt := range fb.Stmts {
		if err := c.compileStmt(stmt); err != nil {
			return err
		}
	}

	c.env = c.env.enclosing
	return nil
}

func (c *Compiler) compileFunctionDeclaration(f *ast.FunctionDeclarationStmt) error {
	oldCtx := c.context
	c.context = ctxFunction

	addr := c.emitFunctionPlaceholder()
	c.code.EmitByte(byte(len(f.Params)))

	c.code.EmitOp(bytecode.OpDeclareGlobal)
	c.emitHash(f.Name)

	overJump := c.emitJump()
	c.backPatch(addr)

	if err := c.compileFunctionBody(f.Body, f.Params...); err != nil {
		return err
	}
	c.code.EmitOp(bytecode.OpEndFunction)

	c.backPatch(overJump)
	c.context = oldCtx
	return nil
}
