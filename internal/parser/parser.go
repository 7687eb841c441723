// Package parser turns a lexer.Token stream into the ast.Stmt/ast.Expr tree
// the compiler consumes (§6). Grounded in original_source's
// pantera-parser/src/parser.rs: same precedence chain (or, and, eq, rel,
// term, factor, unary, pow, call, primary), same 's member-access desugaring
// and same ranged-loop expansion, expressed with this repo's own token
// names rather than the original's swapped Paren/Brace naming.
package parser

import (
	"fmt"
	"strconv"

	"pantera/internal/ast"
	"pantera/internal/lexer"
	"pantera/internal/perrors"
)

const functionNameSeparator = "_"

type Parser struct {
	tokens []lexer.Token
	pos    int
}

func New(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens}
}

// ParseProgram parses a full source file: a sequence of top-level function
// declarations and statements.
func (p *Parser) ParseProgram() ([]ast.Stmt, error) {
	var stmts []ast.Stmt
	for !p.atEnd() {
		if p.peek().Type == lexer.TokenFun {
			decl, err := p.parseFunctionDeclaration()
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, decl)
			continue
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func (p *Parser) atEnd() bool { return p.peek().Type == lexer.TokenEOF }

func (p *Parser) peek() lexer.Token { return p.tokens[p.pos] }

func (p *Parser) peekN(n int) lexer.Token {
	idx := p.pos + n
	if idx >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[idx]
}

func (p *Parser) advance() lexer.Token {
	t := p.tokens[p.pos]
	if !p.atEnd() {
		p.pos++
	}
	return t
}

func (p *Parser) check(t lexer.TokenType) bool { return p.peek().Type == t }

func (p *Parser) consume(t lexer.TokenType, message string) (lexer.Token, error) {
	if p.check(t) {
		return p.advance(), nil
	}
	return lexer.Token{}, perrors.NewSyntax(p.peek().Line, "%s", message)
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return perrors.NewSyntax(p.peek().Line, format, args...)
}

// --- statements ---

func (p *Parser) parseStatement() (ast.Stmt, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenBreak:
		p.advance()
		if _, err := p.consume(lexer.TokenSemi, "expected ';' at the end of the statement"); err != nil {
			return nil, err
		}
		return &ast.Break{}, nil
	case lexer.TokenPrint:
		return p.parsePrintStmt()
	case lexer.TokenReturn:
		return p.parseReturnStmt()
	case lexer.TokenLBrace:
		// Disambiguate a block `{ stmts... }` from an object-literal
		// expression statement `{a: 1};` by looking two tokens ahead for ':'.
		if p.peekN(2).Type == lexer.TokenColon {
			return p.parseExpressionStmt()
		}
		return p.parseBlockStmt(false)
	case lexer.TokenIf:
		return p.parseIfStmt()
	case lexer.TokenLoop:
		return p.parseLoopStmt()
	case lexer.TokenConst, lexer.TokenVar:
		return p.parseDeclStmt()
	default:
		return p.parseExpressionStmt()
	}
}

func (p *Parser) parseFunctionDeclaration() (ast.Stmt, error) {
	line := p.peek().Line
	p.advance() // 'fun'
	if p.check(lexer.TokenLParen) {
		return nil, p.errorf("expected function name")
	}
	var idParts []string
	var params []string
	for !p.check(lexer.TokenLBrace) {
		if !p.check(lexer.TokenIdent) {
			return nil, p.errorf("cannot have a chained params list in a function declaration")
		}
		idParts = append(idParts, p.advance().Lexeme)
		if p.check(lexer.TokenLParen) {
			group, err := p.parseFunctionParams()
			if err != nil {
				return nil, err
			}
			params = append(params, group...)
			if _, err := p.consume(lexer.TokenRParen, "expected ')' after function params"); err != nil {
				return nil, err
			}
		}
	}
	body, err := p.parseBlockStmt(true)
	if err != nil {
		return nil, err
	}
	fb, ok := body.(*ast.FunctionBody)
	if !ok {
		return nil, p.errorf("expected a function body")
	}
	decl := &ast.FunctionDeclarationStmt{
		Name:   joinName(idParts),
		Params: params,
		Body:   fb,
	}
	decl.SetLine(line)
	return decl, nil
}

func joinName(parts []string) string {
	out := parts[0]
	for _, part := range parts[1:] {
		out += functionNameSeparator + part
	}
	return out
}

func (p *Parser) parseFunctionParams() ([]string, error) {
	p.advance() // '('
	var ids []string
	if !p.check(lexer.TokenIdent) {
		return nil, p.errorf("expected a formal function parameter")
	}
	ids = append(ids, p.advance().Lexeme)
	for !p.check(lexer.TokenRParen) {
		if _, err := p.consume(lexer.TokenComma, "expected ',' to separate function parameters"); err != nil {
			return nil, err
		}
		if !p.check(lexer.TokenIdent) {
			return nil, p.errorf("expected a formal function parameter")
		}
		ids = append(ids, p.advance().Lexeme)
	}
	return ids, nil
}

func (p *Parser) parseDeclStmt() (ast.Stmt, error) {
	line := p.peek().Line
	tok := p.advance()
	kind := ast.DeclVar
	if tok.Type == lexer.TokenConst {
		kind = ast.DeclConst
	}
	var decls []*ast.Declaration
	for {
		nameTok, err := p.consume(lexer.TokenIdent, "expected a variable name")
		if err != nil {
			return nil, err
		}
		var value ast.Expr
		if p.check(lexer.TokenEqual) {
			p.advance()
			value, err = p.parseExpression()
			if err != nil {
				return nil, err
			}
		} else if kind == ast.DeclConst {
			return nil, p.errorf("const %q must be initialized", nameTok.Lexeme)
		}
		d := &ast.Declaration{Kind: kind, Name: nameTok.Lexeme, Value: value}
			d.SetLine(nameTok.Line)
			decls = append(decls, d)
		if p.check(lexer.TokenSemi) {
			p.advance()
			break
		}
		if _, err := p.consume(lexer.TokenComma, "expected ',' between declared variables"); err != nil {
			return nil, err
		}
	}
	if len(decls) == 1 {
		d := decls[0]
		d.SetLine(line)
		return d, nil
	}
	md := &ast.MultiDeclaration{Decls: decls}
	md.SetLine(line)
	return md, nil
}

func (p *Parser) parseLoopStmt() (ast.Stmt, error) {
	line := p.peek().Line
	p.advance() // 'loop'
	alias := "it"
	if p.check(lexer.TokenLBrace) {
		body, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		l := &ast.Loop{Body: body, Alias: alias}
		l.SetLine(line)
		return l, nil
	}

	reverse := false
	if p.check(lexer.TokenReverse) {
		reverse = true
		p.advance()
	}
	start, stop, err := p.parseRange()
	if err != nil {
		return nil, err
	}
	if stop == nil {
		return nil, p.errorf("a ranged loop requires '..' bounds")
	}
	if p.check(lexer.TokenAs) {
		p.advance()
		idExpr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		ident, ok := idExpr.(*ast.Identifier)
		if !ok {
			return nil, p.errorf("expected an identifier after 'as'")
		}
		alias = ident.Name
	}
	if !p.check(lexer.TokenLBrace) {
		return nil, p.errorf("expected '{' after loop declaration")
	}
	bodyStmt, err := p.parseBlockStmt(false)
	if err != nil {
		return nil, err
	}
	block, ok := bodyStmt.(*ast.Block)
	if !ok {
		return nil, p.errorf("expected a block statement")
	}

	rangeStart, rangeStop := start, stop
	if reverse {
		rangeStart, rangeStop = stop, start
	}

	initClause := &ast.Declaration{Kind: ast.DeclVar, Name: alias, Value: rangeStart}
	initClause.SetLine(line)

	step := ast.OpPlus
	if reverse {
		step = ast.OpMinus
	}
	incr := &ast.ExpressionStmt{Expr: &ast.Assignment{
		Assignee: ast.NewIdentifier(line, alias),
		Value: &ast.Binary{
			Left:  ast.NewIdentifier(line, alias),
			Op:    step,
			Right: ast.NewNumber(line, 1),
		},
	}}
	incr.SetLine(line)

	exitOp := ast.OpGe
	if reverse {
		exitOp = ast.OpLe
	}
	exitIf := &ast.If{
		Cond: &ast.Binary{Left: ast.NewIdentifier(line, alias), Op: exitOp, Right: rangeStop},
		Body: &ast.Break{},
	}
	exitIf.SetLine(line)

	loopBody := &ast.Block{Stmts: []ast.Stmt{block, incr, exitIf}}
	loopBody.SetLine(line)
	loop := &ast.Loop{Body: loopBody, Alias: alias}
	loop.SetLine(line)

	wrapper := &ast.Block{Stmts: []ast.Stmt{initClause, loop}}
	wrapper.SetLine(line)
	return wrapper, nil
}

// parseRange parses `expr` or `expr..expr`; stop is nil when there is no
// '..' — that form is only valid for the bare-loop ('{' immediately next)
// path, rejected above otherwise.
func (p *Parser) parseRange() (ast.Expr, ast.Expr, error) {
	start, err := p.parseExpression()
	if err != nil {
		return nil, nil, err
	}
	if p.check(lexer.TokenDotDot) {
		p.advance()
		stop, err := p.parseExpression()
		if err != nil {
			return nil, nil, err
		}
		return start, stop, nil
	}
	return start, nil, nil
}

func (p *Parser) parseIfStmt() (ast.Stmt, error) {
	line := p.peek().Line
	p.advance() // 'if'
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.check(lexer.TokenLBrace) {
		return nil, p.errorf("expected '{' after if condition")
	}
	body, err := p.parseBlockStmt(false)
	if err != nil {
		return nil, err
	}
	ifStmt := &ast.If{Cond: cond, Body: body}
	ifStmt.SetLine(line)
	if p.check(lexer.TokenElse) {
		p.advance()
		alt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		ifStmt.Else = alt
	}
	return ifStmt, nil
}

func (p *Parser) parseBlockStmt(isFunction bool) (ast.Stmt, error) {
	line := p.peek().Line
	p.advance() // '{'
	var stmts []ast.Stmt
	for {
		if p.atEnd() {
			return nil, p.errorf("expected '}' at the end of a block")
		}
		if p.check(lexer.TokenRBrace) {
			p.advance()
			break
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	if isFunction {
		fb := &ast.FunctionBody{Stmts: stmts}
		fb.SetLine(line)
		return fb, nil
	}
	b := &ast.Block{Stmts: stmts}
	b.SetLine(line)
	return b, nil
}

func (p *Parser) parseReturnStmt() (ast.Stmt, error) {
	line := p.peek().Line
	p.advance()
	if p.check(lexer.TokenSemi) {
		p.advance()
		r := &ast.Return{}
		r.SetLine(line)
		return r, nil
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenSemi, "expected ';' at the end of the statement"); err != nil {
		return nil, err
	}
	r := &ast.Return{Value: value}
	r.SetLine(line)
	return r, nil
}

func (p *Parser) parsePrintStmt() (ast.Stmt, error) {
	line := p.peek().Line
	p.advance()
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenSemi, "expected ';' at the end of the statement"); err != nil {
		return nil, err
	}
	pr := &ast.Print{Expr: expr}
	pr.SetLine(line)
	return pr, nil
}

func (p *Parser) parseExpressionStmt() (ast.Stmt, error) {
	line := p.peek().Line
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenSemi, "expected ';' at the end of the statement"); err != nil {
		return nil, err
	}
	es := &ast.ExpressionStmt{Expr: expr}
	es.SetLine(line)
	return es, nil
}

// --- expressions ---

func (p *Parser) parseExpression() (ast.Expr, error) {
	return p.parseAssignment()
}

func (p *Parser) parseAssignment() (ast.Expr, error) {
	left, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.check(lexer.TokenEqual) {
		line := p.peek().Line
		p.advance()
		right, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		switch left.(type) {
		case *ast.Identifier, *ast.Member:
			a := &ast.Assignment{Assignee: left, Value: right}
			a.SetLine(line)
			return a, nil
		default:
			return nil, p.errorf("incorrect assignment target")
		}
	}
	return left, nil
}

func (p *Parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.check(lexer.TokenOr) {
		line := p.peek().Line
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binAt(line, left, ast.OpOr, right)
	}
	return left, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseEq()
	if err != nil {
		return nil, err
	}
	for p.check(lexer.TokenAnd) {
		line := p.peek().Line
		p.advance()
		right, err := p.parseEq()
		if err != nil {
			return nil, err
		}
		left = binAt(line, left, ast.OpAnd, right)
	}
	return left, nil
}

// parseEq implements the original grammar's `is` / `is not` equality test
// and additionally accepts the `==`/`!=` spelling named in the surface
// operator list — the original lexer never defines those as distinct
// tokens, only `is`/`is not`, so this is a superset kept lexable but not
// load-bearing for any worked example.
func (p *Parser) parseEq() (ast.Expr, error) {
	left, err := p.parseRel()
	if err != nil {
		return nil, err
	}
	switch p.peek().Type {
	case lexer.TokenIs:
		line := p.peek().Line
		p.advance()
		op := ast.OpEq
		if p.check(lexer.TokenNot) {
			op = ast.OpNe
			p.advance()
		}
		right, err := p.parseRel()
		if err != nil {
			return nil, err
		}
		return binAt(line, left, op, right), nil
	case lexer.TokenEqEq, lexer.TokenNotEq:
		line := p.peek().Line
		op := ast.OpEq
		if p.advance().Type == lexer.TokenNotEq {
			op = ast.OpNe
		}
		right, err := p.parseRel()
		if err != nil {
			return nil, err
		}
		return binAt(line, left, op, right), nil
	}
	return left, nil
}

func (p *Parser) parseRel() (ast.Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	var op ast.Operator
	switch p.peek().Type {
	case lexer.TokenGT:
		op = ast.OpGreater
	case lexer.TokenLT:
		op = ast.OpLess
	case lexer.TokenGE:
		op = ast.OpGe
	case lexer.TokenLE:
		op = ast.OpLe
	default:
		return left, nil
	}
	line := p.peek().Line
	p.advance()
	right, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return binAt(line, left, op, right), nil
}

func (p *Parser) parseTerm() (ast.Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.check(lexer.TokenPlus) || p.check(lexer.TokenMinus) {
		line := p.peek().Line
		op := ast.OpPlus
		if p.advance().Type == lexer.TokenMinus {
			op = ast.OpMinus
		}
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = binAt(line, left, op, right)
	}
	return left, nil
}

func (p *Parser) parseFactor() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.check(lexer.TokenStar) || p.check(lexer.TokenSlash) {
		line := p.peek().Line
		op := ast.OpMul
		if p.advance().Type == lexer.TokenSlash {
			op = ast.OpDiv
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binAt(line, left, op, right)
	}
	return left, nil
}

// parseUnary reuses OpNe to mean logical negation at this level, mirroring
// the original's Operator reuse for UnaryExpression — the compiler maps
// Unary{Op: OpNe} to OP_UNARY_NOT rather than treating it as a comparison.
func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.check(lexer.TokenMinus) || p.check(lexer.TokenNot) {
		line := p.peek().Line
		op := ast.OpMinus
		if p.advance().Type == lexer.TokenNot {
			op = ast.OpNe
		}
		expr, err := p.parsePow()
		if err != nil {
			return nil, err
		}
		u := &ast.Unary{Op: op, Expr: expr}
		u.SetLine(line)
		return u, nil
	}
	return p.parsePow()
}

func (p *Parser) parsePow() (ast.Expr, error) {
	left, err := p.parseCall()
	if err != nil {
		return nil, err
	}
	for p.check(lexer.TokenCaret) {
		line := p.peek().Line
		p.advance()
		right, err := p.parseCall()
		if err != nil {
			return nil, err
		}
		left = binAt(line, left, ast.OpPow, right)
	}
	return left, nil
}

func (p *Parser) parseCall() (ast.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.check(lexer.TokenLParen):
			if ident, ok := expr.(*ast.Identifier); ok {
				callee, args, err := p.parseFunctionCallRest(ident.Name)
				if err != nil {
					return nil, err
				}
				c := &ast.Call{Callee: ast.NewIdentifier(ident.Line(), callee), Args: args}
				c.SetLine(ident.Line())
				expr = c
				continue
			}
			line := p.peek().Line
			p.advance()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			c := &ast.Call{Callee: expr, Args: args}
			c.SetLine(line)
			expr = c
		case p.check(lexer.TokenAposS):
			line := p.peek().Line
			p.advance()
			member, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			if ident, ok := member.(*ast.Identifier); ok {
				if p.check(lexer.TokenLParen) {
					callee, args, err := p.parseFunctionCallRest(ident.Name)
					if err != nil {
						return nil, err
					}
					m := &ast.Member{Callee: expr, Property: ast.NewString(line, callee)}
					m.SetLine(line)
					c := &ast.Call{Callee: m, Args: args}
					c.SetLine(line)
					expr = c
				} else {
					m := &ast.Member{Callee: expr, Property: ast.NewString(line, ident.Name)}
					m.SetLine(line)
					expr = m
				}
			} else {
				m := &ast.Member{Callee: expr, Property: member}
				m.SetLine(line)
				expr = m
			}
		default:
			return expr, nil
		}
	}
}

// parseFunctionCallRest parses `(args)name(args)name...` for a call whose
// callee is a chain of curried identifier segments, mirroring the
// original's parse_function_rest.
func (p *Parser) parseFunctionCallRest(beginning string) (string, []ast.Expr, error) {
	idParts := []string{beginning}
	var args []ast.Expr
	for {
		if p.check(lexer.TokenLParen) {
			p.advance()
			group, err := p.parseArgs()
			if err != nil {
				return "", nil, err
			}
			args = append(args, group...)
		} else if p.check(lexer.TokenIdent) {
			idParts = append(idParts, p.advance().Lexeme)
		} else {
			break
		}
	}
	return joinName(idParts), args, nil
}

func (p *Parser) parseArgs() ([]ast.Expr, error) {
	if p.check(lexer.TokenRParen) {
		p.advance()
		return nil, nil
	}
	var args []ast.Expr
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	args = append(args, expr)
	for p.check(lexer.TokenComma) {
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, expr)
	}
	if _, err := p.consume(lexer.TokenRParen, "expected ')' after arguments"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parseObject() (ast.Expr, error) {
	line := p.peek().Line
	var props, values []ast.Expr
	for !p.check(lexer.TokenRBrace) {
		key, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		var keyExpr ast.Expr
		switch k := key.(type) {
		case *ast.Identifier:
			keyExpr = ast.NewString(k.Line(), k.Name)
		case *ast.StringLit:
			keyExpr = k
		case *ast.NumberLit:
			keyExpr = ast.NewString(k.Line(), fmt.Sprintf("%g", k.Value))
		default:
			return nil, p.errorf("object key must be an identifier, string or number")
		}
		if _, err := p.consume(lexer.TokenColon, "key/value pairs must be separated by ':'"); err != nil {
			return nil, err
		}
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		props = append(props, keyExpr)
		values = append(values, val)
		if p.check(lexer.TokenComma) {
			p.advance()
		}
	}
	p.advance() // '}'
	o := &ast.Object{Props: props, Values: values}
	o.SetLine(line)
	return o, nil
}

func (p *Parser) parseArray() (ast.Expr, error) {
	line := p.peek().Line
	var values []ast.Expr
	for !p.check(lexer.TokenRBracket) {
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		values = append(values, val)
		if p.check(lexer.TokenComma) {
			p.advance()
		}
	}
	p.advance() // ']'
	a := &ast.Array{Values: values}
	a.SetLine(line)
	return a, nil
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.advance()
	switch tok.Type {
	case lexer.TokenTrue:
		return ast.NewBool(tok.Line, true), nil
	case lexer.TokenFalse:
		return ast.NewBool(tok.Line, false), nil
	case lexer.TokenNull:
		return ast.NewNil(tok.Line), nil
	case lexer.TokenString:
		return ast.NewString(tok.Line, tok.Lexeme), nil
	case lexer.TokenNumber:
		return ast.NewNumber(tok.Line, parseFloat(tok.Lexeme)), nil
	case lexer.TokenIdent:
		return ast.NewIdentifier(tok.Line, tok.Lexeme), nil
	case lexer.TokenLBrace:
		return p.parseObject()
	case lexer.TokenLBracket:
		return p.parseArray()
	case lexer.TokenLParen:
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(lexer.TokenRParen, "expected ')' at the end of a grouped expression"); err != nil {
			return nil, err
		}
		g := &ast.Group{Expr: expr}
		g.SetLine(tok.Line)
		return g, nil
	default:
		return nil, perrors.NewSyntax(tok.Line, "expected an expression, found %s", tok.Type)
	}
}

func binAt(line int, left ast.Expr, op ast.Operator, right ast.Expr) ast.Expr {
	b := &ast.Binary{Left: left, Op: op, Right: right}
	b.SetLine(line)
	return b
}

func parseFloat(lexeme string) float32 {
	v, _ := strconv.ParseFloat(lexeme, 32)
	return float32(v)
}
