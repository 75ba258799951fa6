package ir

import (
	"errors"
	"fmt"
)

// NativeFunc is a host function callable from a region
type NativeFunc func(args []Value) (Value, error)

// Natives is the table of host functions a region may call
type Natives map[string]NativeFunc

// ErrNoStrings is returned when a region reads an encrypted string but was
// invoked without a string table
var ErrNoStrings = errors.New("region has no string table")

// Frame holds the variables of one region invocation. It is shared between
// the tree walker and any Runner embedded in the region.
type Frame struct {
	Vars    map[string]Value
	Natives Natives
	Strings StringSession

	defers []*Call
	args   [][]Value
}

// NewFrame returns an empty frame
func NewFrame(natives Natives, strs StringSession) *Frame {
	return &Frame{
		Vars:    make(map[string]Value),
		Natives: natives,
		Strings: strs,
	}
}

// Get reads a variable
func (fr *Frame) Get(name string) (Value, error) {
	v, ok := fr.Vars[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUndefined, name)
	}
	return v, nil
}

// Set writes a variable
func (fr *Frame) Set(name string, v Value) {
	fr.Vars[name] = v
}

// Call invokes a native. The native's error is returned as is.
func (fr *Frame) Call(name string, args []Value) (Value, error) {
	fn, ok := fr.Natives[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownNative, name)
	}
	return fn(args)
}

// String decodes entry i of the region's string table
func (fr *Frame) String(i int) (Value, error) {
	if fr.Strings == nil {
		return Value{}, ErrNoStrings
	}
	b, err := fr.Strings.String(i)
	if err != nil {
		return Value{}, err
	}
	return StringValue(b), nil
}

// Invoke runs region r with the given arguments and returns its result.
// Deferred calls run in reverse order on every exit path; an error from a
// deferred call replaces the region's error.
func Invoke(r *Region, natives Natives, args ...Value) (Value, error) {
	if len(args) != len(r.Params) {
		return Value{}, fmt.Errorf("region %s: want %d arguments, got %d", r.Name, len(r.Params), len(args))
	}

	var sess StringSession
	if r.Strings != nil {
		sess = r.Strings.Open()
		defer sess.Close()
	}

	fr := NewFrame(natives, sess)
	for i, p := range r.Params {
		if args[i].T != p.T {
			return Value{}, fmt.Errorf("region %s: argument %s: %w: want %s, got %s", r.Name, p.Name, ErrTypeMismatch, p.T, args[i].T)
		}
		fr.Vars[p.Name] = args[i]
	}

	f, err := fr.exec(r.Body)
	for i := len(fr.defers) - 1; i >= 0; i-- {
		if _, derr := fr.Call(fr.defers[i].Func, fr.args[i]); derr != nil {
			err = derr
		}
	}
	if err != nil {
		return Value{}, err
	}
	if f.kind == flowReturn {
		// decoded strings die with the session
		if f.val.T.Kind == KindString {
			f.val.Bytes = append([]byte(nil), f.val.Bytes...)
		}
		return f.val, nil
	}
	return Zero(r.Result), nil
}

type flowKind uint8

const (
	flowNormal flowKind = iota
	flowBreak
	flowContinue
	flowReturn
)

type flow struct {
	kind  flowKind
	label string
	val   Value
}

// Exec runs a statement list and reports how it completed
func (fr *Frame) Exec(stmts []Stmt) (Completion, error) {
	f, err := fr.exec(stmts)
	if err != nil {
		return Completion{}, err
	}
	if f.kind == flowBreak || f.kind == flowContinue {
		return Completion{}, fmt.Errorf("branch to %q escaped its loop", f.label)
	}
	return Completion{Returned: f.kind == flowReturn, Value: f.val}, nil
}

func (fr *Frame) exec(stmts []Stmt) (flow, error) {
	for _, s := range stmts {
		f, err := fr.step(s)
		if err != nil || f.kind != flowNormal {
			return f, err
		}
	}
	return flow{}, nil
}

func (fr *Frame) step(s Stmt) (flow, error) {
	switch s := s.(type) {
	case *Assign:
		v, err := fr.Eval(s.X)
		if err != nil {
			return flow{}, err
		}
		fr.Vars[s.Name] = v
	case *ExprStmt:
		if _, err := fr.Eval(s.Call); err != nil {
			return flow{}, err
		}
	case *If:
		c, err := fr.Eval(s.Cond)
		if err != nil {
			return flow{}, err
		}
		if c.Truth() {
			return fr.exec(s.Then)
		}
		return fr.exec(s.Else)
	case *Loop:
		return fr.loop(s)
	case *Branch:
		if s.Continue {
			return flow{kind: flowContinue, label: s.Label}, nil
		}
		return flow{kind: flowBreak, label: s.Label}, nil
	case *Return:
		if s.X == nil {
			return flow{kind: flowReturn}, nil
		}
		v, err := fr.Eval(s.X)
		if err != nil {
			return flow{}, err
		}
		return flow{kind: flowReturn, val: v}, nil
	case *Defer:
		args, err := fr.evalArgs(s.Call.Args)
		if err != nil {
			return flow{}, err
		}
		fr.defers = append(fr.defers, s.Call)
		fr.args = append(fr.args, args)
	case *Marker:
	case *Dispatch:
		return fr.dispatch(s)
	case *Virtual:
		c, err := s.Code.Run(fr)
		if err != nil {
			return flow{}, err
		}
		if c.Returned {
			return flow{kind: flowReturn, val: c.Value}, nil
		}
	default:
		return flow{}, fmt.Errorf("unknown statement %T", s)
	}
	return flow{}, nil
}

func (fr *Frame) loop(l *Loop) (flow, error) {
	for {
		if l.Cond != nil {
			c, err := fr.Eval(l.Cond)
			if err != nil {
				return flow{}, err
			}
			if !c.Truth() {
				return flow{}, nil
			}
		}
		f, err := fr.exec(l.Body)
		if err != nil {
			return flow{}, err
		}
		switch f.kind {
		case flowReturn:
			return f, nil
		case flowBreak:
			if f.label == "" || f.label == l.Label {
				return flow{}, nil
			}
			return f, nil
		case flowContinue:
			if f.label != "" && f.label != l.Label {
				return f, nil
			}
		}
		if _, err := fr.exec(l.Post); err != nil {
			return flow{}, err
		}
	}
}

func (fr *Frame) dispatch(d *Dispatch) (flow, error) {
	state := d.Entry
	fr.Vars[d.Ghost] = IntValue(Uint64, d.GhostSeed)
	for {
		fr.Vars[d.State] = IntValue(Uint64, state)
		c := d.Lookup(state)
		if c == nil {
			return flow{}, fmt.Errorf("%w: %#x", ErrBadDispatch, state)
		}
		f, err := fr.exec(c.Body)
		if err != nil || f.kind != flowNormal {
			return f, err
		}
		switch c.Next.Kind {
		case TransferJump:
			state = c.Next.Then
		case TransferCond:
			v, err := fr.Eval(c.Next.Cond)
			if err != nil {
				return flow{}, err
			}
			if v.Truth() {
				state = c.Next.Then
			} else {
				state = c.Next.Else
			}
		case TransferExit:
			return flow{}, nil
		case TransferReturn:
			if c.Next.X == nil {
				return flow{kind: flowReturn}, nil
			}
			v, err := fr.Eval(c.Next.X)
			if err != nil {
				return flow{}, err
			}
			return flow{kind: flowReturn, val: v}, nil
		default:
			return flow{}, fmt.Errorf("%w: bad transfer in case %#x", ErrBadDispatch, state)
		}
	}
}

// Eval evaluates an expression in the frame
func (fr *Frame) Eval(e Expr) (Value, error) {
	switch e := e.(type) {
	case *Const:
		return e.Val, nil
	case *Var:
		return fr.Get(e.Name)
	case *Unary:
		x, err := fr.Eval(e.X)
		if err != nil {
			return Value{}, err
		}
		return ApplyUnary(e.Op, x)
	case *Binary:
		x, err := fr.Eval(e.X)
		if err != nil {
			return Value{}, err
		}
		if e.Op == OpLAnd && !x.Truth() {
			return BoolValue(false), nil
		}
		if e.Op == OpLOr && x.Truth() {
			return BoolValue(true), nil
		}
		y, err := fr.Eval(e.Y)
		if err != nil {
			return Value{}, err
		}
		return Apply(e.Op, x, y)
	case *Conv:
		x, err := fr.Eval(e.X)
		if err != nil {
			return Value{}, err
		}
		return Cast(x, e.T)
	case *Call:
		args, err := fr.evalArgs(e.Args)
		if err != nil {
			return Value{}, err
		}
		v, err := fr.Call(e.Func, args)
		if err != nil {
			return Value{}, err
		}
		if e.T == Void {
			return Value{}, nil
		}
		return v, nil
	case *Let:
		x, err := fr.Eval(e.X)
		if err != nil {
			return Value{}, err
		}
		fr.Vars[e.Name] = x
		return fr.Eval(e.Body)
	case *Seal:
		return fr.Eval(e.X)
	case *StrRef:
		return fr.String(e.Index)
	}
	return Value{}, fmt.Errorf("unknown expression %T", e)
}

func (fr *Frame) evalArgs(exprs []Expr) ([]Value, error) {
	args := make([]Value, 0, len(exprs))
	for _, a := range exprs {
		v, err := fr.Eval(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}
