package ir

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// Directive marks a function as a protected region
const Directive = "//obf:protect"

// AnnotationPkg is the selector prefix of in-source annotations (obf.Str etc.)
const AnnotationPkg = "obf"

// Options controls region parsing
type Options struct {
	// Profile applies to regions whose directive names none
	Profile string
	// Natives maps callable native names to their result type
	Natives map[string]Type
}

// ParseError reports an unsupported or ill-typed construct
type ParseError struct {
	Pos    string
	Region string
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Region == "" {
		return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s: region %s: %s", e.Pos, e.Region, e.Msg)
}

var protectArith = map[string]Op{
	"Add": OpAdd,
	"Sub": OpSub,
	"Mul": OpMul,
	"Xor": OpXor,
	"And": OpAnd,
	"Or":  OpOr,
}

var binaryOps = map[token.Token]Op{
	token.ADD:     OpAdd,
	token.SUB:     OpSub,
	token.MUL:     OpMul,
	token.QUO:     OpDiv,
	token.REM:     OpRem,
	token.AND:     OpAnd,
	token.OR:      OpOr,
	token.XOR:     OpXor,
	token.AND_NOT: OpAndNot,
	token.SHL:     OpShl,
	token.SHR:     OpShr,
	token.EQL:     OpEq,
	token.NEQ:     OpNe,
	token.LSS:     OpLt,
	token.LEQ:     OpLe,
	token.GTR:     OpGt,
	token.GEQ:     OpGe,
	token.LAND:    OpLAnd,
	token.LOR:     OpLOr,
}

var assignOps = map[token.Token]Op{
	token.ADD_ASSIGN:     OpAdd,
	token.SUB_ASSIGN:     OpSub,
	token.MUL_ASSIGN:     OpMul,
	token.QUO_ASSIGN:     OpDiv,
	token.REM_ASSIGN:     OpRem,
	token.AND_ASSIGN:     OpAnd,
	token.OR_ASSIGN:      OpOr,
	token.XOR_ASSIGN:     OpXor,
	token.AND_NOT_ASSIGN: OpAndNot,
	token.SHL_ASSIGN:     OpShl,
	token.SHR_ASSIGN:     OpShr,
}

// ParseFile parses Go-subset source and lowers every function carrying the
// protect directive into a Region. Unannotated functions are ignored.
func ParseFile(filename string, src []byte, opts Options) ([]*Region, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	var regions []*Region
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		profile, marked, err := directive(fn.Doc)
		if err != nil {
			return nil, &ParseError{Pos: fset.Position(fn.Pos()).String(), Region: fn.Name.Name, Msg: err.Error()}
		}
		if !marked {
			continue
		}
		if profile == "" {
			profile = opts.Profile
		}
		r, err := lowerFunc(fset, fn, opts)
		if err != nil {
			return nil, err
		}
		r.Profile = profile
		regions = append(regions, r)
	}
	return regions, nil
}

// directive extracts the profile from a //obf:protect comment
func directive(doc *ast.CommentGroup) (string, bool, error) {
	if doc == nil {
		return "", false, nil
	}
	for _, c := range doc.List {
		if !strings.HasPrefix(c.Text, Directive) {
			continue
		}
		rest := strings.TrimPrefix(c.Text, Directive)
		if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
			continue
		}
		profile := ""
		for _, field := range strings.Fields(rest) {
			key, value, ok := strings.Cut(field, "=")
			if !ok || key != "profile" {
				return "", true, fmt.Errorf("bad directive argument %q", field)
			}
			profile = strings.ToLower(value)
		}
		return profile, true, nil
	}
	return "", false, nil
}

type binding struct {
	name string
	t    Type
}

type lowerer struct {
	fset    *token.FileSet
	region  string
	natives map[string]Type
	result  Type

	scopes   []map[string]binding
	declared map[string]int
	loops    []string
	temps    int
}

func lowerFunc(fset *token.FileSet, fn *ast.FuncDecl, opts Options) (*Region, error) {
	l := &lowerer{
		fset:     fset,
		region:   fn.Name.Name,
		natives:  opts.Natives,
		declared: make(map[string]int),
	}
	r := &Region{
		Name: fn.Name.Name,
		Pos:  fset.Position(fn.Pos()).String(),
	}

	if fn.Recv != nil {
		return nil, l.errorf(fn, "methods cannot be protected")
	}
	if fn.Type.TypeParams != nil {
		return nil, l.errorf(fn, "generic functions cannot be protected")
	}
	if fn.Body == nil {
		return nil, l.errorf(fn, "function has no body")
	}

	l.push()
	for _, field := range fn.Type.Params.List {
		t, err := l.typeOf(field.Type)
		if err != nil {
			return nil, err
		}
		if t.Kind == KindVoid {
			return nil, l.errorf(field, "unsupported parameter type")
		}
		if len(field.Names) == 0 {
			return nil, l.errorf(field, "parameters must be named")
		}
		for _, n := range field.Names {
			name := l.declare(n.Name, t)
			r.Params = append(r.Params, Param{Name: name, T: t})
		}
	}

	if res := fn.Type.Results; res != nil && len(res.List) > 0 {
		if len(res.List) > 1 || len(res.List[0].Names) > 1 {
			return nil, l.errorf(res, "multiple results are not supported")
		}
		if len(res.List[0].Names) == 1 {
			return nil, l.errorf(res, "named results are not supported")
		}
		t, err := l.typeOf(res.List[0].Type)
		if err != nil {
			return nil, err
		}
		r.Result = t
	}
	l.result = r.Result

	body, err := l.block(fn.Body.List)
	if err != nil {
		return nil, err
	}
	l.pop()

	if r.Result != Void && !terminates(body) {
		return nil, l.errorf(fn.Body.Rbrace, "missing return")
	}
	r.Body = body
	return r, nil
}

func (l *lowerer) errorf(at interface{}, format string, args ...interface{}) error {
	var pos token.Pos
	switch v := at.(type) {
	case ast.Node:
		pos = v.Pos()
	case token.Pos:
		pos = v
	}
	return &ParseError{
		Pos:    l.fset.Position(pos).String(),
		Region: l.region,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func (l *lowerer) push() { l.scopes = append(l.scopes, map[string]binding{}) }
func (l *lowerer) pop()  { l.scopes = l.scopes[:len(l.scopes)-1] }

// declare binds name in the innermost scope. Each declaration gets a
// region-unique IR name so block scoping survives flattening.
func (l *lowerer) declare(name string, t Type) string {
	unique := name
	if n := l.declared[name]; n > 0 {
		unique = fmt.Sprintf("%s#%d", name, n)
	}
	l.declared[name]++
	l.scopes[len(l.scopes)-1][name] = binding{name: unique, t: t}
	return unique
}

func (l *lowerer) lookup(name string) (binding, bool) {
	for i := len(l.scopes) - 1; i >= 0; i-- {
		if b, ok := l.scopes[i][name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

func (l *lowerer) temp() string {
	l.temps++
	return fmt.Sprintf("$p%d", l.temps)
}

func (l *lowerer) typeOf(e ast.Expr) (Type, error) {
	id, ok := e.(*ast.Ident)
	if !ok {
		return Void, l.errorf(e, "unsupported type expression")
	}
	t, ok := TypeByName(id.Name)
	if !ok {
		return Void, l.errorf(e, "unsupported type %s", id.Name)
	}
	return t, nil
}

// --- statements ---

func (l *lowerer) block(list []ast.Stmt) ([]Stmt, error) {
	l.push()
	defer l.pop()
	return l.stmts(list)
}

func (l *lowerer) stmts(list []ast.Stmt) ([]Stmt, error) {
	var out []Stmt
	for _, s := range list {
		lowered, err := l.stmt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, lowered...)
	}
	return out, nil
}

func (l *lowerer) stmt(s ast.Stmt) ([]Stmt, error) {
	switch s := s.(type) {
	case *ast.EmptyStmt:
		return nil, nil
	case *ast.BlockStmt:
		return l.block(s.List)
	case *ast.ExprStmt:
		return l.exprStmt(s)
	case *ast.AssignStmt:
		return l.assign(s)
	case *ast.IncDecStmt:
		return l.incDec(s)
	case *ast.DeclStmt:
		return l.varDecl(s)
	case *ast.IfStmt:
		return l.ifStmt(s)
	case *ast.ForStmt:
		return l.forStmt(s, "")
	case *ast.LabeledStmt:
		loop, ok := s.Stmt.(*ast.ForStmt)
		if !ok {
			return nil, l.errorf(s, "labels are only supported on for loops")
		}
		return l.forStmt(loop, s.Label.Name)
	case *ast.BranchStmt:
		return l.branch(s)
	case *ast.ReturnStmt:
		return l.returnStmt(s)
	case *ast.DeferStmt:
		call, err := l.nativeCall(s.Call)
		if err != nil {
			return nil, err
		}
		return []Stmt{&Defer{Call: call}}, nil
	case *ast.GoStmt:
		return nil, l.errorf(s, "go statements are not supported")
	case *ast.SwitchStmt, *ast.TypeSwitchStmt:
		return nil, l.errorf(s, "switch statements are not supported")
	case *ast.SelectStmt:
		return nil, l.errorf(s, "select statements are not supported")
	case *ast.RangeStmt:
		return nil, l.errorf(s, "range loops are not supported")
	case *ast.SendStmt:
		return nil, l.errorf(s, "channel sends are not supported")
	}
	return nil, l.errorf(s, "unsupported statement %T", s)
}

func (l *lowerer) exprStmt(s *ast.ExprStmt) ([]Stmt, error) {
	call, ok := s.X.(*ast.CallExpr)
	if !ok {
		return nil, l.errorf(s, "expression evaluated but not used")
	}
	if sel, ok := annotation(call.Fun); ok {
		switch sel {
		case "Nop":
			return []Stmt{&Marker{Kind: MarkNop}}, l.noArgs(call)
		case "Labyrinth":
			return []Stmt{&Marker{Kind: MarkLabyrinth}}, l.noArgs(call)
		}
		return nil, l.errorf(s, "obf.%s evaluated but not used", sel)
	}
	c, err := l.nativeCall(call)
	if err != nil {
		return nil, err
	}
	return []Stmt{&ExprStmt{Call: c}}, nil
}

func (l *lowerer) noArgs(call *ast.CallExpr) error {
	if len(call.Args) != 0 {
		return l.errorf(call, "obf marker takes no arguments")
	}
	return nil
}

func (l *lowerer) assign(s *ast.AssignStmt) ([]Stmt, error) {
	if op, ok := assignOps[s.Tok]; ok {
		if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
			return nil, l.errorf(s, "compound assignment takes one operand")
		}
		target, err := l.target(s.Lhs[0])
		if err != nil {
			return nil, err
		}
		x, err := l.binary(s, op, s.Lhs[0], s.Rhs[0], &Var{Name: target.name, T: target.t})
		if err != nil {
			return nil, err
		}
		return []Stmt{&Assign{Name: target.name, T: target.t, X: x}}, nil
	}

	if len(s.Lhs) != len(s.Rhs) {
		return nil, l.errorf(s, "assignment count mismatch: %d = %d", len(s.Lhs), len(s.Rhs))
	}
	define := s.Tok == token.DEFINE

	// right-hand sides are evaluated before any assignment happens
	values := make([]Expr, len(s.Rhs))
	for i, rhs := range s.Rhs {
		hint := Void
		if id, ok := s.Lhs[i].(*ast.Ident); ok && id.Name != "_" {
			var b binding
			var found bool
			if define {
				b, found = l.scopes[len(l.scopes)-1][id.Name]
			} else {
				b, found = l.lookup(id.Name)
			}
			if found {
				hint = b.t
			}
		}
		x, err := l.expr(rhs, hint)
		if err != nil {
			return nil, err
		}
		if x.Type() == Void {
			return nil, l.errorf(rhs, "value of void call used")
		}
		values[i] = x
	}

	var out []Stmt
	if len(values) > 1 {
		for i, x := range values {
			tmp := l.temp()
			out = append(out, &Assign{Name: tmp, T: x.Type(), X: x, Define: true})
			values[i] = &Var{Name: tmp, T: x.Type()}
		}
	}

	fresh := false
	for i, lhs := range s.Lhs {
		id, ok := lhs.(*ast.Ident)
		if !ok {
			return nil, l.errorf(lhs, "unsupported assignment target")
		}
		x := values[i]
		if id.Name == "_" {
			out = append(out, &Assign{Name: l.temp(), T: x.Type(), X: x, Define: true})
			continue
		}
		if define {
			if _, ok := l.scopes[len(l.scopes)-1][id.Name]; !ok {
				fresh = true
				name := l.declare(id.Name, x.Type())
				out = append(out, &Assign{Name: name, T: x.Type(), X: x, Define: true})
				continue
			}
		}
		b, ok := l.lookup(id.Name)
		if !ok {
			return nil, l.errorf(id, "undefined: %s", id.Name)
		}
		if b.t != x.Type() {
			return nil, l.errorf(lhs, "cannot assign %s to %s of type %s", x.Type(), id.Name, b.t)
		}
		out = append(out, &Assign{Name: b.name, T: b.t, X: x})
	}
	if define && !fresh {
		return nil, l.errorf(s, "no new variables on left side of :=")
	}
	return out, nil
}

func (l *lowerer) target(e ast.Expr) (binding, error) {
	id, ok := e.(*ast.Ident)
	if !ok {
		return binding{}, l.errorf(e, "unsupported assignment target")
	}
	b, ok := l.lookup(id.Name)
	if !ok {
		return binding{}, l.errorf(id, "undefined: %s", id.Name)
	}
	return b, nil
}

func (l *lowerer) incDec(s *ast.IncDecStmt) ([]Stmt, error) {
	b, err := l.target(s.X)
	if err != nil {
		return nil, err
	}
	if !b.t.IsInt() {
		return nil, l.errorf(s, "invalid operation: %s on %s", s.Tok, b.t)
	}
	op := OpAdd
	if s.Tok == token.DEC {
		op = OpSub
	}
	x := &Binary{Op: op, X: &Var{Name: b.name, T: b.t}, Y: &Const{Val: IntValue(b.t, 1)}}
	return []Stmt{&Assign{Name: b.name, T: b.t, X: x}}, nil
}

func (l *lowerer) varDecl(s *ast.DeclStmt) ([]Stmt, error) {
	gen, ok := s.Decl.(*ast.GenDecl)
	if !ok || gen.Tok != token.VAR {
		return nil, l.errorf(s, "only var declarations are supported")
	}
	var out []Stmt
	for _, spec := range gen.Specs {
		vs := spec.(*ast.ValueSpec)
		t := Void
		if vs.Type != nil {
			var err error
			if t, err = l.typeOf(vs.Type); err != nil {
				return nil, err
			}
		}
		if len(vs.Values) != 0 && len(vs.Values) != len(vs.Names) {
			return nil, l.errorf(vs, "assignment count mismatch")
		}
		values := make([]Expr, len(vs.Names))
		for i := range vs.Names {
			if len(vs.Values) == 0 {
				if t == Void {
					return nil, l.errorf(vs, "missing type or initializer")
				}
				values[i] = &Const{Val: Zero(t)}
				continue
			}
			x, err := l.expr(vs.Values[i], t)
			if err != nil {
				return nil, err
			}
			if t != Void && x.Type() != t {
				return nil, l.errorf(vs.Values[i], "cannot use %s as %s", x.Type(), t)
			}
			if x.Type() == Void {
				return nil, l.errorf(vs.Values[i], "value of void call used")
			}
			values[i] = x
		}
		for i, n := range vs.Names {
			x := values[i]
			if n.Name == "_" {
				out = append(out, &Assign{Name: l.temp(), T: x.Type(), X: x, Define: true})
				continue
			}
			name := l.declare(n.Name, x.Type())
			out = append(out, &Assign{Name: name, T: x.Type(), X: x, Define: true})
		}
	}
	return out, nil
}

func (l *lowerer) cond(e ast.Expr) (Expr, error) {
	c, err := l.expr(e, Bool)
	if err != nil {
		return nil, err
	}
	if c.Type() != Bool {
		return nil, l.errorf(e, "non-boolean condition")
	}
	return c, nil
}

func (l *lowerer) ifStmt(s *ast.IfStmt) ([]Stmt, error) {
	l.push()
	defer l.pop()

	var out []Stmt
	if s.Init != nil {
		init, err := l.stmt(s.Init)
		if err != nil {
			return nil, err
		}
		out = append(out, init...)
	}
	c, err := l.cond(s.Cond)
	if err != nil {
		return nil, err
	}
	then, err := l.block(s.Body.List)
	if err != nil {
		return nil, err
	}
	var els []Stmt
	if s.Else != nil {
		if els, err = l.stmt(s.Else); err != nil {
			return nil, err
		}
	}
	return append(out, &If{Cond: c, Then: then, Else: els}), nil
}

func (l *lowerer) forStmt(s *ast.ForStmt, label string) ([]Stmt, error) {
	l.push()
	defer l.pop()

	var out []Stmt
	if s.Init != nil {
		init, err := l.stmt(s.Init)
		if err != nil {
			return nil, err
		}
		out = append(out, init...)
	}
	loop := &Loop{Label: label}
	if s.Cond != nil {
		c, err := l.cond(s.Cond)
		if err != nil {
			return nil, err
		}
		loop.Cond = c
	}

	l.loops = append(l.loops, label)
	body, err := l.block(s.Body.List)
	l.loops = l.loops[:len(l.loops)-1]
	if err != nil {
		return nil, err
	}
	loop.Body = body

	if s.Post != nil {
		post, err := l.stmt(s.Post)
		if err != nil {
			return nil, err
		}
		loop.Post = post
	}
	return append(out, loop), nil
}

func (l *lowerer) branch(s *ast.BranchStmt) ([]Stmt, error) {
	if s.Tok != token.BREAK && s.Tok != token.CONTINUE {
		return nil, l.errorf(s, "%s is not supported", s.Tok)
	}
	if len(l.loops) == 0 {
		return nil, l.errorf(s, "%s outside loop", s.Tok)
	}
	br := &Branch{Continue: s.Tok == token.CONTINUE}
	if s.Label != nil {
		found := false
		for _, name := range l.loops {
			if name == s.Label.Name {
				found = true
				break
			}
		}
		if !found {
			return nil, l.errorf(s, "invalid %s label %s", s.Tok, s.Label.Name)
		}
		br.Label = s.Label.Name
	}
	return []Stmt{br}, nil
}

func (l *lowerer) returnStmt(s *ast.ReturnStmt) ([]Stmt, error) {
	if len(s.Results) > 1 {
		return nil, l.errorf(s, "too many return values")
	}
	if len(s.Results) == 0 {
		if l.result != Void {
			return nil, l.errorf(s, "not enough return values")
		}
		return []Stmt{&Return{}}, nil
	}
	if l.result == Void {
		return nil, l.errorf(s, "too many return values")
	}
	x, err := l.expr(s.Results[0], l.result)
	if err != nil {
		return nil, err
	}
	if x.Type() != l.result {
		return nil, l.errorf(s, "cannot use %s as %s in return", x.Type(), l.result)
	}
	return []Stmt{&Return{X: x}}, nil
}

// --- expressions ---

// annotation reports the selector name of an obf.X call target
func annotation(fun ast.Expr) (string, bool) {
	sel, ok := fun.(*ast.SelectorExpr)
	if !ok {
		return "", false
	}
	pkg, ok := sel.X.(*ast.Ident)
	if !ok || pkg.Name != AnnotationPkg {
		return "", false
	}
	return sel.Sel.Name, true
}

// untyped reports whether e is an untyped constant expression
func untyped(e ast.Expr) bool {
	switch e := e.(type) {
	case *ast.BasicLit:
		return e.Kind == token.INT || e.Kind == token.CHAR
	case *ast.ParenExpr:
		return untyped(e.X)
	case *ast.UnaryExpr:
		return untyped(e.X)
	case *ast.BinaryExpr:
		if e.Op == token.SHL || e.Op == token.SHR {
			return untyped(e.X)
		}
		return untyped(e.X) && untyped(e.Y)
	}
	return false
}

// expr lowers e. hint types untyped constants that have no typed operand to
// follow; Void means the default type.
func (l *lowerer) expr(e ast.Expr, hint Type) (Expr, error) {
	switch e := e.(type) {
	case *ast.BasicLit:
		return l.literal(e, hint, false)
	case *ast.Ident:
		return l.ident(e)
	case *ast.ParenExpr:
		return l.expr(e.X, hint)
	case *ast.UnaryExpr:
		return l.unary(e, hint)
	case *ast.BinaryExpr:
		op, ok := binaryOps[e.Op]
		if !ok {
			return nil, l.errorf(e, "unsupported operator %s", e.Op)
		}
		return l.binary(e, op, e.X, e.Y, nil, hint)
	case *ast.CallExpr:
		return l.call(e, hint)
	case *ast.FuncLit:
		return nil, l.errorf(e, "closures are not supported")
	case *ast.CompositeLit:
		return nil, l.errorf(e, "composite literals are not supported")
	case *ast.StarExpr:
		return nil, l.errorf(e, "pointers are not supported")
	case *ast.IndexExpr:
		return nil, l.errorf(e, "index expressions are not supported")
	case *ast.SelectorExpr:
		return nil, l.errorf(e, "selectors are not supported")
	}
	return nil, l.errorf(e, "unsupported expression %T", e)
}

func (l *lowerer) literal(e *ast.BasicLit, hint Type, negative bool) (Expr, error) {
	switch e.Kind {
	case token.STRING:
		s, err := strconv.Unquote(e.Value)
		if err != nil {
			return nil, l.errorf(e, "bad string literal: %v", err)
		}
		return &Const{Val: StringValue([]byte(s))}, nil
	case token.INT, token.CHAR:
		t := hint
		if !t.IsInt() {
			t = Int64
			if e.Kind == token.CHAR {
				t = Int32
			}
		}
		var n uint64
		if e.Kind == token.CHAR {
			r, _, _, err := strconv.UnquoteChar(e.Value[1:len(e.Value)-1], '\'')
			if err != nil {
				return nil, l.errorf(e, "bad rune literal: %v", err)
			}
			n = uint64(r)
		} else {
			v, err := strconv.ParseUint(strings.ReplaceAll(e.Value, "_", ""), 0, 64)
			if err != nil {
				return nil, l.errorf(e, "integer literal %s overflows", e.Value)
			}
			n = v
		}
		if !fits(t, n, negative) {
			if negative {
				return nil, l.errorf(e, "-%s overflows %s", e.Value, t)
			}
			return nil, l.errorf(e, "%s overflows %s", e.Value, t)
		}
		if negative {
			return &Const{Val: IntValue(t, -n)}, nil
		}
		return &Const{Val: IntValue(t, n)}, nil
	}
	return nil, l.errorf(e, "unsupported literal %s", e.Value)
}

func (l *lowerer) ident(e *ast.Ident) (Expr, error) {
	switch e.Name {
	case "true":
		return &Const{Val: BoolValue(true)}, nil
	case "false":
		return &Const{Val: BoolValue(false)}, nil
	case "nil":
		return nil, l.errorf(e, "nil is not supported")
	}
	b, ok := l.lookup(e.Name)
	if !ok {
		return nil, l.errorf(e, "undefined: %s", e.Name)
	}
	return &Var{Name: b.name, T: b.t}, nil
}

func (l *lowerer) unary(e *ast.UnaryExpr, hint Type) (Expr, error) {
	if lit, ok := e.X.(*ast.BasicLit); ok && e.Op == token.SUB && lit.Kind != token.STRING {
		return l.literal(lit, hint, true)
	}
	x, err := l.expr(e.X, hint)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case token.ADD:
		if !x.Type().IsInt() {
			return nil, l.errorf(e, "invalid operation: +%s", x.Type())
		}
		return x, nil
	case token.SUB:
		if !x.Type().IsInt() {
			return nil, l.errorf(e, "invalid operation: -%s", x.Type())
		}
		return &Unary{Op: OpNeg, X: x}, nil
	case token.XOR:
		if !x.Type().IsInt() {
			return nil, l.errorf(e, "invalid operation: ^%s", x.Type())
		}
		return &Unary{Op: OpNot, X: x}, nil
	case token.NOT:
		if x.Type() != Bool {
			return nil, l.errorf(e, "invalid operation: !%s", x.Type())
		}
		return &Unary{Op: OpLNot, X: x}, nil
	}
	return nil, l.errorf(e, "unsupported unary operator %s", e.Op)
}

// binary lowers x op y. When xv is non-nil it is the already lowered left
// operand (compound assignment).
func (l *lowerer) binary(at ast.Node, op Op, xe, ye ast.Expr, xv Expr, hints ...Type) (Expr, error) {
	hint := Void
	if len(hints) > 0 {
		hint = hints[0]
	}
	if op.IsComparison() || op.IsLogical() {
		hint = Void
	}

	var x, y Expr
	var err error
	switch {
	case xv != nil:
		x = xv
		yh := x.Type()
		if op.IsShift() {
			yh = Uint64
		}
		if y, err = l.expr(ye, yh); err != nil {
			return nil, err
		}
	case op.IsShift():
		if x, err = l.expr(xe, hint); err != nil {
			return nil, err
		}
		if y, err = l.expr(ye, Uint64); err != nil {
			return nil, err
		}
	case untyped(xe) && !untyped(ye):
		if y, err = l.expr(ye, hint); err != nil {
			return nil, err
		}
		if x, err = l.expr(xe, y.Type()); err != nil {
			return nil, err
		}
	default:
		if x, err = l.expr(xe, hint); err != nil {
			return nil, err
		}
		if y, err = l.expr(ye, x.Type()); err != nil {
			return nil, err
		}
	}

	xt, yt := x.Type(), y.Type()
	switch {
	case op.IsShift():
		if !xt.IsInt() || !yt.IsInt() {
			return nil, l.errorf(at, "invalid shift %s %s %s", xt, op, yt)
		}
	case op.IsLogical():
		if xt != Bool || yt != Bool {
			return nil, l.errorf(at, "invalid operation %s %s %s", xt, op, yt)
		}
	case xt != yt:
		return nil, l.errorf(at, "mismatched types %s and %s", xt, yt)
	case xt == Bool && op != OpEq && op != OpNe:
		return nil, l.errorf(at, "operator %s not defined on bool", op)
	case xt == String && op != OpAdd && !op.IsComparison():
		return nil, l.errorf(at, "operator %s not defined on string", op)
	case xt == Void:
		return nil, l.errorf(at, "void value in expression")
	}
	return &Binary{Op: op, X: x, Y: y}, nil
}

func (l *lowerer) call(e *ast.CallExpr, hint Type) (Expr, error) {
	if e.Ellipsis.IsValid() {
		return nil, l.errorf(e, "variadic spreading is not supported")
	}
	if sel, ok := annotation(e.Fun); ok {
		return l.annotated(e, sel, hint)
	}
	if id, ok := e.Fun.(*ast.Ident); ok {
		if t, ok := TypeByName(id.Name); ok {
			return l.conversion(e, t)
		}
	}
	c, err := l.nativeCall(e)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (l *lowerer) conversion(e *ast.CallExpr, t Type) (Expr, error) {
	if len(e.Args) != 1 {
		return nil, l.errorf(e, "conversion takes one argument")
	}
	x, err := l.expr(e.Args[0], t)
	if err != nil {
		return nil, err
	}
	if x.Type() == t {
		return x, nil
	}
	if !t.IsInt() || !x.Type().IsInt() {
		return nil, l.errorf(e, "cannot convert %s to %s", x.Type(), t)
	}
	return &Conv{X: x, T: t}, nil
}

func (l *lowerer) annotated(e *ast.CallExpr, sel string, hint Type) (Expr, error) {
	if op, ok := protectArith[sel]; ok {
		if len(e.Args) != 2 {
			return nil, l.errorf(e, "obf.%s takes two arguments", sel)
		}
		x, err := l.binary(e, op, e.Args[0], e.Args[1], nil, hint)
		if err != nil {
			return nil, err
		}
		b := x.(*Binary)
		if !b.X.Type().IsInt() {
			return nil, l.errorf(e, "obf.%s needs integer operands", sel)
		}
		b.Protect = true
		return b, nil
	}
	switch sel {
	case "Str":
		if len(e.Args) != 1 {
			return nil, l.errorf(e, "obf.Str takes one argument")
		}
		x, err := l.expr(e.Args[0], String)
		if err != nil {
			return nil, err
		}
		if x.Type() != String {
			return nil, l.errorf(e, "obf.Str needs a string, got %s", x.Type())
		}
		return &Seal{X: x}, nil
	case "Nop", "Labyrinth":
		return nil, l.errorf(e, "obf.%s is a statement", sel)
	}
	return nil, l.errorf(e, "unknown annotation obf.%s", sel)
}

func (l *lowerer) nativeCall(e *ast.CallExpr) (*Call, error) {
	id, ok := e.Fun.(*ast.Ident)
	if !ok {
		return nil, l.errorf(e, "only calls to native functions are supported")
	}
	t, ok := l.natives[id.Name]
	if !ok {
		return nil, l.errorf(e, "undefined function %s", id.Name)
	}
	c := &Call{Func: id.Name, T: t}
	for _, a := range e.Args {
		x, err := l.expr(a, Void)
		if err != nil {
			return nil, err
		}
		if x.Type() == Void {
			return nil, l.errorf(a, "void value used as argument")
		}
		c.Args = append(c.Args, x)
	}
	return c, nil
}

// terminates reports whether a statement list always ends in a return
func terminates(body []Stmt) bool {
	if len(body) == 0 {
		return false
	}
	switch s := body[len(body)-1].(type) {
	case *Return:
		return true
	case *If:
		return s.Else != nil && terminates(s.Then) && terminates(s.Else)
	case *Loop:
		return s.Cond == nil && !breaks(s.Body, s.Label, true)
	}
	return false
}

// breaks reports whether body contains a break leaving the loop labeled label
func breaks(body []Stmt, label string, top bool) bool {
	for _, s := range body {
		switch s := s.(type) {
		case *Branch:
			if !s.Continue && ((top && s.Label == "") || (label != "" && s.Label == label)) {
				return true
			}
		case *If:
			if breaks(s.Then, label, top) || breaks(s.Else, label, top) {
				return true
			}
		case *Loop:
			if breaks(s.Body, label, false) {
				return true
			}
		}
	}
	return false
}
