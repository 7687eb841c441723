package compiler

// Variable is what the compiler's lexical environment remembers about a
// declared name: its frame-relative stack slot and whether it is const.
type Variable struct {
	Slot       int
	IsConstant bool
}

// Env is the compiler's scope stack, grounded in original_source's env.rs.
// frameBeginning marks a function's own scope: variable lookup walks
// enclosing scopes outward but never crosses a frameBeginning boundary, so
// a function body can never close over an outer function's locals (only
// globals, reached once Env lookup fails entirely).
type Env struct {
	enclosing      *Env
	variables      map[string]Variable
	frameBeginning bool
}

// NewEnv is the compiler's initial (vestigial) top scope.
func NewEnv() *Env {
	return &Env{variables: map[string]Variable{}, frameBeginning: true}
}

// NewLocal opens a non-frame block scope (§4.5 "Block is a non-frame
// lexical scope") nested inside env.
func NewLocal(env *Env) *Env {
	return &Env{enclosing: env, variables: map[string]Variable{}}
}

// NewFrame opens a function's own frame scope.
func NewFrame(env *Env) *Env {
	return &Env{enclosing: env, variables: map[string]Variable{}, frameBeginning: true}
}

// GetVariable searches the current scope outward, stopping at (and
// including) the first frameBeginning scope it reaches.
func (e *Env) GetVariable(name string) (Variable, bool) {
	if e.frameBeginning || e.enclosing == nil {
		v, ok := e.variables[name]
		return v, ok
	}
	if v, ok := e.variables[name]; ok {
		return v, true
	}
	return e.enclosing.GetVariable(name)
}

// computeSlot sums the variable counts from this scope outward, stopping at
// (and including) the current frameBeginning scope — dense per-frame slot
// numbering (§4.5).
func (e *Env) computeSlot() int {
	if e.frameBeginning || e.enclosing == nil {
		return len(e.variables)
	}
	return len(e.variables) + e.enclosing.computeSlot()
}

func (e *Env) setVariableInternal(name string, isConstant bool) Variable {
	v := Variable{Slot: e.computeSlot(), IsConstant: isConstant}
	e.variables[name] = v
	return v
}

// SetVariable binds name to the next slot as a mutable local.
func (e *Env) SetVariable(name string) Variable {
	return e.setVariableInternal(name, false)
}

// SetConstant binds name to the next slot as a const local.
func (e *Env) SetConstant(name string) Variable {
	return e.setVariableInternal(name, true)
}

// Count is the number of names bound directly in this scope (used to emit
// the right number of trailing POPs when a block scope closes).
func (e *Env) Count() int { return len(e.variables) }
