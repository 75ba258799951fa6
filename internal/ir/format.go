package ir

import (
	"fmt"
	"strings"
)

// Format renders a region as pseudo-Go. Output is stable for a given region
// and is used by inspect and by tests that diff pass output.
func Format(r *Region) string {
	p := &printer{}
	p.printf("//obf:protect profile=%s\n", r.Profile)
	p.printf("func %s(", r.Name)
	for i, param := range r.Params {
		if i > 0 {
			p.printf(", ")
		}
		p.printf("%s %s", param.Name, param.T)
	}
	p.printf(")")
	if r.Result != Void {
		p.printf(" %s", r.Result)
	}
	p.printf(" {\n")
	p.block(r.Body, 1)
	p.printf("}\n")
	return p.String()
}

// FormatExpr renders a single expression
func FormatExpr(e Expr) string {
	p := &printer{}
	p.expr(e)
	return p.String()
}

type printer struct {
	strings.Builder
}

func (p *printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p, format, args...)
}

func (p *printer) indent(depth int) {
	p.WriteString(strings.Repeat("\t", depth))
}

func (p *printer) block(stmts []Stmt, depth int) {
	for _, s := range stmts {
		p.stmt(s, depth)
	}
}

func (p *printer) stmt(s Stmt, depth int) {
	p.indent(depth)
	switch s := s.(type) {
	case *Assign:
		if s.Define {
			p.printf("var %s %s = ", s.Name, s.T)
		} else {
			p.printf("%s = ", s.Name)
		}
		p.expr(s.X)
	case *ExprStmt:
		p.expr(s.Call)
	case *If:
		p.printf("if ")
		p.expr(s.Cond)
		p.printf(" {\n")
		p.block(s.Then, depth+1)
		p.indent(depth)
		p.printf("}")
		if len(s.Else) > 0 {
			p.printf(" else {\n")
			p.block(s.Else, depth+1)
			p.indent(depth)
			p.printf("}")
		}
	case *Loop:
		if s.Label != "" {
			p.printf("%s:\n", s.Label)
			p.indent(depth)
		}
		p.printf("for ")
		if s.Cond != nil {
			p.expr(s.Cond)
			p.printf(" ")
		}
		p.printf("{\n")
		p.block(s.Body, depth+1)
		if len(s.Post) > 0 {
			p.indent(depth + 1)
			p.printf("// post\n")
			p.block(s.Post, depth+1)
		}
		p.indent(depth)
		p.printf("}")
	case *Branch:
		if s.Continue {
			p.printf("continue")
		} else {
			p.printf("break")
		}
		if s.Label != "" {
			p.printf(" %s", s.Label)
		}
	case *Return:
		p.printf("return")
		if s.X != nil {
			p.printf(" ")
			p.expr(s.X)
		}
	case *Defer:
		p.printf("defer ")
		p.expr(s.Call)
	case *Marker:
		if s.Kind == MarkLabyrinth {
			p.printf("obf.Labyrinth()")
		} else {
			p.printf("obf.Nop()")
		}
	case *Dispatch:
		p.dispatch(s, depth)
	case *Virtual:
		if str, ok := s.Code.(fmt.Stringer); ok {
			p.printf("vm.run(%s)", str.String())
		} else {
			p.printf("vm.run()")
		}
	default:
		p.printf("/* %T */", s)
	}
	p.printf("\n")
}

func (p *printer) dispatch(d *Dispatch, depth int) {
	p.printf("%s, %s := %#x, %#x\n", d.State, d.Ghost, d.Entry, d.GhostSeed)
	p.indent(depth)
	p.printf("for {\n")
	p.indent(depth)
	p.printf("switch %s {\n", d.State)
	for _, c := range d.Cases {
		p.indent(depth)
		p.printf("case %#x:\n", c.Label)
		p.block(c.Body, depth+1)
		p.indent(depth + 1)
		switch c.Next.Kind {
		case TransferJump:
			p.printf("%s = %#x", d.State, c.Next.Then)
		case TransferCond:
			p.printf("if ")
			p.expr(c.Next.Cond)
			p.printf(" { %s = %#x } else { %s = %#x }", d.State, c.Next.Then, d.State, c.Next.Else)
		case TransferExit:
			p.printf("goto done")
		case TransferReturn:
			p.printf("return")
			if c.Next.X != nil {
				p.printf(" ")
				p.expr(c.Next.X)
			}
		}
		p.printf("\n")
	}
	p.indent(depth)
	p.printf("}\n")
	p.indent(depth)
	p.printf("}")
}

func (p *printer) expr(e Expr) {
	switch e := e.(type) {
	case *Const:
		if e.Val.T.IsInt() && e.Val.T != Int64 {
			p.printf("%s(%s)", e.Val.T, e.Val)
		} else {
			p.printf("%s", e.Val)
		}
	case *Var:
		p.printf("%s", e.Name)
	case *Unary:
		p.printf("%s", e.Op)
		p.expr(e.X)
	case *Binary:
		if e.Protect {
			p.printf("obf.%s(", protectName(e.Op))
			p.expr(e.X)
			p.printf(", ")
			p.expr(e.Y)
			p.printf(")")
			return
		}
		p.printf("(")
		p.expr(e.X)
		p.printf(" %s ", e.Op)
		p.expr(e.Y)
		p.printf(")")
	case *Conv:
		p.printf("%s(", e.T)
		p.expr(e.X)
		p.printf(")")
	case *Call:
		p.printf("%s(", e.Func)
		for i, a := range e.Args {
			if i > 0 {
				p.printf(", ")
			}
			p.expr(a)
		}
		p.printf(")")
	case *Let:
		p.printf("let(%s = ", e.Name)
		p.expr(e.X)
		p.printf("; ")
		p.expr(e.Body)
		p.printf(")")
	case *Seal:
		p.printf("obf.Str(")
		p.expr(e.X)
		p.printf(")")
	case *StrRef:
		p.printf("strtab[%d]", e.Index)
	default:
		p.printf("/* %T */", e)
	}
}

func protectName(op Op) string {
	for name, o := range protectArith {
		if o == op {
			return name
		}
	}
	return op.String()
}
