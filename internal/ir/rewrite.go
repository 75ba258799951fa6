package ir

// MapExpr rebuilds e bottom-up, replacing every sub-expression with f's
// result. e itself is never modified.
func MapExpr(e Expr, f func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch x := e.(type) {
	case *Unary:
		e = &Unary{Op: x.Op, X: MapExpr(x.X, f)}
	case *Binary:
		e = &Binary{Op: x.Op, X: MapExpr(x.X, f), Y: MapExpr(x.Y, f), Protect: x.Protect}
	case *Conv:
		e = &Conv{X: MapExpr(x.X, f), T: x.T}
	case *Call:
		e = mapCall(x, f)
	case *Let:
		e = &Let{Name: x.Name, X: MapExpr(x.X, f), Body: MapExpr(x.Body, f)}
	case *Seal:
		e = &Seal{X: MapExpr(x.X, f)}
	}
	return f(e)
}

func mapCall(c *Call, f func(Expr) Expr) *Call {
	out := &Call{Func: c.Func, T: c.T, Args: make([]Expr, len(c.Args))}
	for i, a := range c.Args {
		out.Args[i] = MapExpr(a, f)
	}
	return out
}

// MapStmts rebuilds a statement list applying MapExpr to every expression,
// including those nested inside ifs, loops and dispatch cases.
func MapStmts(stmts []Stmt, f func(Expr) Expr) []Stmt {
	if stmts == nil {
		return nil
	}
	out := make([]Stmt, 0, len(stmts))
	for _, s := range stmts {
		out = append(out, mapStmt(s, f))
	}
	return out
}

func mapStmt(s Stmt, f func(Expr) Expr) Stmt {
	switch s := s.(type) {
	case *Assign:
		return &Assign{Name: s.Name, T: s.T, X: MapExpr(s.X, f), Define: s.Define}
	case *ExprStmt:
		return &ExprStmt{Call: callOf(MapExpr(s.Call, f), s.Call)}
	case *If:
		return &If{Cond: MapExpr(s.Cond, f), Then: MapStmts(s.Then, f), Else: MapStmts(s.Else, f)}
	case *Loop:
		return &Loop{Label: s.Label, Cond: MapExpr(s.Cond, f), Body: MapStmts(s.Body, f), Post: MapStmts(s.Post, f)}
	case *Return:
		return &Return{X: MapExpr(s.X, f)}
	case *Defer:
		return &Defer{Call: callOf(MapExpr(s.Call, f), s.Call)}
	case *Dispatch:
		d := *s
		d.Cases = make([]*Case, len(s.Cases))
		for i, c := range s.Cases {
			next := c.Next
			next.Cond = MapExpr(c.Next.Cond, f)
			next.X = MapExpr(c.Next.X, f)
			d.Cases[i] = &Case{Label: c.Label, Body: MapStmts(c.Body, f), Next: next}
		}
		return &d
	}
	return s
}

// callOf keeps call statements calls when f left the call node in place
func callOf(e Expr, orig *Call) *Call {
	if c, ok := e.(*Call); ok {
		return c
	}
	return orig
}

// InspectExpr calls f for e and every sub-expression in evaluation order,
// stopping descent where f returns false
func InspectExpr(e Expr, f func(Expr) bool) {
	if e == nil || !f(e) {
		return
	}
	switch x := e.(type) {
	case *Unary:
		InspectExpr(x.X, f)
	case *Binary:
		InspectExpr(x.X, f)
		InspectExpr(x.Y, f)
	case *Conv:
		InspectExpr(x.X, f)
	case *Call:
		for _, a := range x.Args {
			InspectExpr(a, f)
		}
	case *Let:
		InspectExpr(x.X, f)
		InspectExpr(x.Body, f)
	case *Seal:
		InspectExpr(x.X, f)
	}
}

// InspectStmts calls f for every statement, descending into nested bodies
func InspectStmts(stmts []Stmt, f func(Stmt) bool) {
	for _, s := range stmts {
		if !f(s) {
			continue
		}
		switch s := s.(type) {
		case *If:
			InspectStmts(s.Then, f)
			InspectStmts(s.Else, f)
		case *Loop:
			InspectStmts(s.Body, f)
			InspectStmts(s.Post, f)
		case *Dispatch:
			for _, c := range s.Cases {
				InspectStmts(c.Body, f)
			}
		}
	}
}

// StmtExprs returns the expressions a statement evaluates directly
func StmtExprs(s Stmt) []Expr {
	switch s := s.(type) {
	case *Assign:
		return []Expr{s.X}
	case *ExprStmt:
		return []Expr{s.Call}
	case *If:
		return []Expr{s.Cond}
	case *Loop:
		if s.Cond != nil {
			return []Expr{s.Cond}
		}
	case *Return:
		if s.X != nil {
			return []Expr{s.X}
		}
	case *Defer:
		return []Expr{s.Call}
	case *Dispatch:
		var out []Expr
		for _, c := range s.Cases {
			if c.Next.Cond != nil {
				out = append(out, c.Next.Cond)
			}
			if c.Next.X != nil {
				out = append(out, c.Next.X)
			}
		}
		return out
	}
	return nil
}

// Pure reports whether evaluating e has no effects: no calls, no string
// table reads and no operation that can fault. Pure expressions may be
// duplicated or reordered freely.
func Pure(e Expr) bool {
	pure := true
	InspectExpr(e, func(x Expr) bool {
		switch x := x.(type) {
		case *Call, *StrRef, *Let:
			pure = false
		case *Binary:
			if x.Op == OpDiv || x.Op == OpRem || (x.Op.IsShift() && x.Y.Type().Signed) {
				pure = false
			}
		}
		return pure
	})
	return pure
}

// Leaf reports whether e is a constant or a variable read
func Leaf(e Expr) bool {
	switch e.(type) {
	case *Const, *Var:
		return true
	}
	return false
}
