package compiler

// builtinNames lists the 5 fixed builtins in their required registration
// order (SPEC_FULL.md Expansion D): their slot ids, starting at 0, are
// pre-registered identically in the compiler's globals map and the VM's
// globals table, so a call to one never needs a runtime name lookup.
var builtinNames = []string{
	"len",
	"sleep",
	"input",
	"atoi",
	"internal_iterable_get",
}

// BuiltinGlobals returns a fresh name->slot map pre-seeded with the fixed
// builtins, used both to initialize a Compiler's globals table and as the
// builtins set the semantic pre-pass checks shadowing against.
func BuiltinGlobals() map[string]uint16 {
	m := make(map[string]uint16, len(builtinNames))
	for i, name := range builtinNames {
		m[name] = uint16(i)
	}
	return m
}
