package fsm

// Transition is one row of the table. Rows sharing a (From, Symbol) key are
// tried in declaration order; the first whose guard passes is taken.
type Transition struct {
	From   StateID
	Symbol Symbol
	To     StateID
	Guard  Guard
	Action Action
}

type TransitionOption func(*Transition)

func WithGuard(g Guard) TransitionOption {
	return func(t *Transition) { t.Guard = g }
}

// WithGuards combines guards; all must pass.
func WithGuards(guards ...Guard) TransitionOption {
	return func(t *Transition) {
		t.Guard = func(c *Context) bool {
			for _, g := range guards {
				if !g(c) {
					return false
				}
			}
			return true
		}
	}
}

func WithAction(a Action) TransitionOption {
	return func(t *Transition) { t.Action = a }
}

// Not negates a guard. Useful for the fallback row of a guarded pair.
func Not(g Guard) Guard {
	return func(c *Context) bool { return !g(c) }
}

type tableKey struct {
	state  StateID
	symbol Symbol
}
