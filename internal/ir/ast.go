package ir

// Node is any IR expression or statement
type Node interface {
	node()
}

// Expr is a typed expression
type Expr interface {
	Node
	Type() Type
}

// Stmt is a statement
type Stmt interface {
	Node
	stmt()
}

// --- Expressions ---

// Const is a literal value
type Const struct {
	Val Value
}

// Var reads a local variable or parameter
type Var struct {
	Name string
	T    Type
}

// Unary applies -, ^ or !
type Unary struct {
	Op Op
	X  Expr
}

// Binary applies a binary operator. Protect marks arithmetic the source asked
// to have substituted (obf.Add and friends).
type Binary struct {
	Op      Op
	X, Y    Expr
	Protect bool
}

// Conv converts an integer expression to another integer type
type Conv struct {
	X Expr
	T Type
}

// Call invokes a native function
type Call struct {
	Func string
	Args []Expr
	T    Type
}

// Let evaluates X once, binds it to Name and evaluates Body
type Let struct {
	Name string
	X    Expr
	Body Expr
}

// Seal is a string the source asked to have encrypted (obf.Str)
type Seal struct {
	X Expr
}

// StrRef reads entry Index of the region's encrypted string table
type StrRef struct {
	Index int
}

func (*Const) node()  {}
func (*Var) node()    {}
func (*Unary) node()  {}
func (*Binary) node() {}
func (*Conv) node()   {}
func (*Call) node()   {}
func (*Let) node()    {}
func (*Seal) node()   {}
func (*StrRef) node() {}

func (e *Const) Type() Type { return e.Val.T }
func (e *Var) Type() Type   { return e.T }
func (e *Conv) Type() Type  { return e.T }
func (e *Call) Type() Type  { return e.T }
func (e *Let) Type() Type   { return e.Body.Type() }
func (*Seal) Type() Type    { return String }
func (*StrRef) Type() Type  { return String }

func (e *Unary) Type() Type {
	if e.Op == OpLNot {
		return Bool
	}
	return e.X.Type()
}

func (e *Binary) Type() Type {
	if e.Op.IsComparison() || e.Op.IsLogical() {
		return Bool
	}
	return e.X.Type()
}

// --- Statements ---

// Assign stores X into Name; Define marks the declaring assignment
type Assign struct {
	Name   string
	T      Type
	X      Expr
	Define bool
}

// ExprStmt evaluates a call for its side effects
type ExprStmt struct {
	Call *Call
}

// If is a two-way conditional
type If struct {
	Cond       Expr
	Then, Else []Stmt
}

// Loop is a for loop. A nil Cond loops forever; Post runs after every
// iteration that is not left by break or return.
type Loop struct {
	Label string
	Cond  Expr
	Body  []Stmt
	Post  []Stmt
}

// Branch is break or continue, optionally naming a labeled loop
type Branch struct {
	Continue bool
	Label    string
}

// Return leaves the region; X is nil for void regions
type Return struct {
	X Expr
}

// Defer schedules a native call for region exit. Arguments are evaluated
// when the defer statement runs.
type Defer struct {
	Call *Call
}

// MarkerKind distinguishes source markers
type MarkerKind uint8

const (
	MarkNop MarkerKind = iota + 1
	MarkLabyrinth
)

// Marker is an obf.Nop() or obf.Labyrinth() statement. Both do nothing at run time.
type Marker struct {
	Kind MarkerKind
}

// TransferKind selects how a dispatch case picks its successor
type TransferKind uint8

const (
	TransferJump TransferKind = iota + 1
	TransferCond
	TransferExit
	TransferReturn
)

// Transfer ends a dispatch case
type Transfer struct {
	Kind TransferKind
	Cond Expr
	Then uint64
	Else uint64
	X    Expr
}

// Case is one block of a flattened dispatch loop
type Case struct {
	Label uint64
	Body  []Stmt
	Next  Transfer
}

// Dispatch is a flattened control-flow region: State selects the next case
// until a case exits or returns. Ghost is an auxiliary variable real cases
// keep mutating so predicates over it cannot be folded away.
type Dispatch struct {
	State     string
	Ghost     string
	Entry     uint64
	GhostSeed uint64
	Cases     []*Case
}

// Lookup returns the case labeled l
func (d *Dispatch) Lookup(l uint64) *Case {
	for _, c := range d.Cases {
		if c.Label == l {
			return c
		}
	}
	return nil
}

// Completion is how a Runner finished
type Completion struct {
	Returned bool
	Value    Value
}

// Runner executes a statement sequence outside the tree walker, against the
// caller's frame
type Runner interface {
	Run(fr *Frame) (Completion, error)
}

// Virtual is a statement sequence replaced by a Runner
type Virtual struct {
	Code Runner
}

func (*Assign) node()   {}
func (*ExprStmt) node() {}
func (*If) node()       {}
func (*Loop) node()     {}
func (*Branch) node()   {}
func (*Return) node()   {}
func (*Defer) node()    {}
func (*Marker) node()   {}
func (*Dispatch) node() {}
func (*Virtual) node()  {}

func (*Assign) stmt()   {}
func (*ExprStmt) stmt() {}
func (*If) stmt()       {}
func (*Loop) stmt()     {}
func (*Branch) stmt()   {}
func (*Return) stmt()   {}
func (*Defer) stmt()    {}
func (*Marker) stmt()   {}
func (*Dispatch) stmt() {}
func (*Virtual) stmt()  {}

// --- Regions ---

// Param is a region parameter
type Param struct {
	Name string
	T    Type
}

// StringTable is a region's table of encrypted strings
type StringTable interface {
	Len() int
	Open() StringSession
}

// StringSession decodes strings for one region invocation. Close releases
// every plaintext the session handed out.
type StringSession interface {
	String(i int) ([]byte, error)
	Close()
}

// Region is a protected region: a function body marked for protection.
// Passes never mutate a Region in place; they build a new one.
type Region struct {
	Name    string
	Pos     string
	Profile string
	Params  []Param
	Result  Type
	Body    []Stmt
	Strings StringTable
}

// WithBody returns a shallow copy of r with a new body
func (r *Region) WithBody(body []Stmt) *Region {
	out := *r
	out.Body = body
	return &out
}
