package vm

// ---------------------------------------------------------------------------
// Context: execution environment for one verb invocation
// ---------------------------------------------------------------------------

// DefaultGas is the budget used when Options.Gas is zero.
const DefaultGas = 1000

// Options configures NewContext. Unset fields take defaults: DefaultGas,
// empty vars, no arguments and no send callback.
type Options struct {
	Caller *Object
	This   *Object
	Args   []any
	Gas    int64
	Vars   map[string]any
	Send   func(typ string, payload any)
	Ops    *Registry
}

// Context is the environment a script evaluates in. Contexts derived for
// lambda application or verb dispatch share the gas meter, call stack and
// warnings of their parent.
type Context struct {
	Caller *Object
	This   *Object
	Args   []any
	Vars   map[string]any
	Send   func(typ string, payload any)
	Ops    *Registry

	run *run
}

// run is state shared by every context of one execution chain.
type run struct {
	gas      int64
	stack    *callStack
	warnings []string
}

// NewContext creates a root context.
func NewContext(opts Options) *Context {
	gas := opts.Gas
	if gas == 0 {
		gas = DefaultGas
	}
	vars := opts.Vars
	if vars == nil {
		vars = make(map[string]any)
	}
	args := opts.Args
	if args == nil {
		args = []any{}
	}
	return &Context{
		Caller: opts.Caller,
		This:   opts.This,
		Args:   args,
		Vars:   vars,
		Send:   opts.Send,
		Ops:    opts.Ops,
		run:    &run{gas: gas, stack: &callStack{}},
	}
}

// WithVars derives a context with a different variable scope.
func (c *Context) WithVars(vars map[string]any) *Context {
	d := *c
	d.Vars = vars
	return &d
}

// Enter derives a context for dispatching a verb on this, with fresh vars.
func (c *Context) Enter(caller, this *Object, args []any) *Context {
	d := *c
	d.Caller = caller
	d.This = this
	if args == nil {
		args = []any{}
	}
	d.Args = args
	d.Vars = make(map[string]any)
	return &d
}

// Gas returns the remaining budget.
func (c *Context) Gas() int64 {
	return c.run.gas
}

// Consume charges one unit of gas. Once the budget is negative every
// further call fails.
func (c *Context) Consume() error {
	c.run.gas--
	if c.run.gas < 0 {
		return outOfGas()
	}
	return nil
}

// ConsumeN charges n units of gas at once, for opcodes whose work grows
// with a runtime value. Nothing is charged when n exceeds the budget.
func (c *Context) ConsumeN(n int64) error {
	if n <= 0 {
		return nil
	}
	if n > c.run.gas {
		return outOfGas()
	}
	c.run.gas -= n
	return nil
}

// Warn records a warning for the invoking session.
func (c *Context) Warn(msg string) {
	c.run.warnings = append(c.run.warnings, msg)
}

// Warnings returns the warnings recorded so far.
func (c *Context) Warnings() []string {
	return c.run.warnings
}

// Stack returns the active call frames, innermost first.
func (c *Context) Stack() []Frame {
	return c.run.stack.snapshot()
}

// PushFrame records entry into a lambda or verb.
func (c *Context) PushFrame(f Frame) {
	c.run.stack.push(f)
}

// PopFrame records return from the innermost frame.
func (c *Context) PopFrame() {
	c.run.stack.pop()
}

// Notify calls the send callback if one is installed.
func (c *Context) Notify(typ string, payload any) {
	if c.Send != nil {
		c.Send(typ, payload)
	}
}

type callStack struct {
	frames []Frame
}

func (s *callStack) push(f Frame) {
	s.frames = append(s.frames, f)
}

func (s *callStack) pop() {
	if len(s.frames) > 0 {
		s.frames = s.frames[:len(s.frames)-1]
	}
}

func (s *callStack) snapshot() []Frame {
	out := make([]Frame, len(s.frames))
	for i, f := range s.frames {
		out[len(s.frames)-1-i] = f
	}
	return out
}
