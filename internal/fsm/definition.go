package fsm

import (
	"fmt"
	"slices"
	"sync"
)

type state struct {
	id      StateID
	onEnter Action
}

type StateOption func(*state)

// WithOnEnter sets an action run every time the state is entered by a
// transition. It is not run for the initial state at construction.
func WithOnEnter(a Action) StateOption {
	return func(s *state) { s.onEnter = a }
}

// Definition collects states, symbols and transitions before Build.
type Definition struct {
	states      map[StateID]*state
	stateOrder  []StateID
	symbols     map[Symbol]struct{}
	symbolOrder []Symbol
	transitions []Transition
	reasons     map[tableKey]string
	initial     StateID
}

func NewDefinition() *Definition {
	return &Definition{
		states:  make(map[StateID]*state),
		symbols: make(map[Symbol]struct{}),
		reasons: make(map[tableKey]string),
	}
}

// State declares a state. Declaring it again replaces its options.
func (d *Definition) State(id StateID, opts ...StateOption) *Definition {
	s := &state{id: id}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := d.states[id]; !ok {
		d.stateOrder = append(d.stateOrder, id)
	}
	d.states[id] = s
	return d
}

func (d *Definition) States(ids ...StateID) *Definition {
	for _, id := range ids {
		if _, ok := d.states[id]; !ok {
			d.State(id)
		}
	}
	return d
}

func (d *Definition) Symbols(syms ...Symbol) *Definition {
	for _, s := range syms {
		if _, ok := d.symbols[s]; ok {
			continue
		}
		d.symbols[s] = struct{}{}
		d.symbolOrder = append(d.symbolOrder, s)
	}
	return d
}

func (d *Definition) Transition(from StateID, sym Symbol, to StateID, opts ...TransitionOption) *Definition {
	t := Transition{From: from, Symbol: sym, To: to}
	for _, opt := range opts {
		opt(&t)
	}
	d.transitions = append(d.transitions, t)
	return d
}

// Reject attaches a human readable reason to the rejection of sym in from.
func (d *Definition) Reject(from StateID, sym Symbol, reason string) *Definition {
	d.reasons[tableKey{from, sym}] = reason
	return d
}

func (d *Definition) Initial(id StateID) *Definition {
	d.initial = id
	return d
}

// Validate reports the first problem with the definition.
func (d *Definition) Validate() error {
	if d.initial == "" {
		return fmt.Errorf("no initial state")
	}
	if _, ok := d.states[d.initial]; !ok {
		return fmt.Errorf("initial state %q not declared", d.initial)
	}

	unguarded := make(map[tableKey]bool)
	for i, t := range d.transitions {
		if _, ok := d.states[t.From]; !ok {
			return fmt.Errorf("transition %d: from state %q not declared", i, t.From)
		}
		if _, ok := d.states[t.To]; !ok {
			return fmt.Errorf("transition %d: to state %q not declared", i, t.To)
		}
		if _, ok := d.symbols[t.Symbol]; !ok {
			return fmt.Errorf("transition %d: symbol %q not declared", i, t.Symbol)
		}
		k := tableKey{t.From, t.Symbol}
		if unguarded[k] {
			return fmt.Errorf("transition %d: %s on %s is unreachable after an unguarded transition", i, t.From, t.Symbol)
		}
		if t.Guard == nil {
			unguarded[k] = true
		}
	}

	for k := range d.reasons {
		if _, ok := d.states[k.state]; !ok {
			return fmt.Errorf("rejection reason for undeclared state %q", k.state)
		}
		if _, ok := d.symbols[k.symbol]; !ok {
			return fmt.Errorf("rejection reason for undeclared symbol %q", k.symbol)
		}
	}
	return nil
}

// Build validates the definition and returns a machine in the initial state.
func (d *Definition) Build(opts ...MachineOption) (*Machine, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	table := make(map[tableKey][]Transition)
	for _, t := range d.transitions {
		k := tableKey{t.From, t.Symbol}
		table[k] = append(table[k], t)
	}

	m := &Machine{
		name:    "fsm",
		states:  make(map[StateID]*state, len(d.states)),
		order:   slices.Clone(d.stateOrder),
		symbols: slices.Clone(d.symbolOrder),
		table:   table,
		reasons: make(map[tableKey]string, len(d.reasons)),
		current: d.initial,
	}
	m.hookCond = sync.NewCond(&m.hookMu)
	for id, s := range d.states {
		cp := *s
		m.states[id] = &cp
	}
	for k, r := range d.reasons {
		m.reasons[k] = r
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = zapNop
	}
	return m, nil
}

// Row is one entry of a transition table passed to New.
type Row struct {
	From   StateID
	Symbol Symbol
	To     StateID
	Guard  Guard
	Action Action
}

// New builds a machine straight from a table. Every state and symbol that
// appears in rows is declared; initial must appear among them.
func New(initial StateID, rows []Row, opts ...MachineOption) (*Machine, error) {
	d := NewDefinition()
	seen := map[StateID]bool{}
	for _, r := range rows {
		if r.From == "" || r.To == "" || r.Symbol == "" {
			return nil, fmt.Errorf("%w: row %s --%s--> %s has an empty field", ErrInvalidDefinition, r.From, r.Symbol, r.To)
		}
		d.States(r.From, r.To).Symbols(r.Symbol)
		seen[r.From], seen[r.To] = true, true
		d.Transition(r.From, r.Symbol, r.To, WithGuard(r.Guard), WithAction(r.Action))
	}
	if !seen[initial] {
		return nil, fmt.Errorf("%w: initial state %q does not appear in the table", ErrInvalidDefinition, initial)
	}
	return d.Initial(initial).Build(opts...)
}
