package fsm

import (
	"fmt"
	"slices"
	"sync"

	"github.com/EchoPBX/echofsm/internal/metrics"
	"github.com/EchoPBX/echofsm/pkg/sdk"
	"go.uber.org/zap"
)

var zapNop = zap.NewNop()

// Machine is a flat finite-state machine with a fixed transition table.
// Apply calls are serialized, and so are their callbacks and published
// outcomes, in transition order. Guards, actions and callbacks must not call
// Apply on the same machine.
type Machine struct {
	name    string
	states  map[StateID]*state
	order   []StateID
	symbols []Symbol
	table   map[tableKey][]Transition
	reasons map[tableKey]string

	data     any
	log      *zap.Logger
	metrics  *metrics.Metrics
	onChange func(from, to StateID)
	bus      sdk.Bus

	mu      sync.Mutex
	current StateID
	issued  uint64

	// hooks of transition n run only once those of n-1 are done
	hookMu   sync.Mutex
	hookCond *sync.Cond
	served   uint64
}

type MachineOption func(*Machine)

// WithName names the machine in logs, metrics and published events.
func WithName(name string) MachineOption {
	return func(m *Machine) { m.name = name }
}

func WithLogger(l *zap.Logger) MachineOption {
	return func(m *Machine) { m.log = l }
}

// WithData sets the value exposed to guards and actions as Context.Data.
func WithData(data any) MachineOption {
	return func(m *Machine) { m.data = data }
}

func WithMetrics(mt *metrics.Metrics) MachineOption {
	return func(m *Machine) { m.metrics = mt }
}

// WithStateChangeCallback is called after every applied symbol.
func WithStateChangeCallback(fn func(from, to StateID)) MachineOption {
	return func(m *Machine) { m.onChange = fn }
}

// WithPublisher publishes an event per Apply on bus, with the machine name
// as source.
func WithPublisher(bus sdk.Bus) MachineOption {
	return func(m *Machine) { m.bus = bus }
}

func (m *Machine) Name() string { return m.name }

func (m *Machine) Current() StateID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Machine) States() []StateID { return slices.Clone(m.order) }

func (m *Machine) Symbols() []Symbol { return slices.Clone(m.symbols) }

// Accepts reports whether sym would be applied in the current state.
func (m *Machine) Accepts(sym Symbol) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.match(sym)
	return ok
}

// Apply feeds one symbol to the machine. When no row of the table matches
// the current state and symbol, or every matching row's guard fails, the
// state is left alone and a rejected outcome is returned.
func (m *Machine) Apply(sym Symbol) Outcome {
	m.mu.Lock()
	out := m.apply(sym)
	ticket := m.issued
	m.issued++
	m.mu.Unlock()

	m.hookMu.Lock()
	for m.served != ticket {
		m.hookCond.Wait()
	}
	m.hookMu.Unlock()
	defer func() {
		m.hookMu.Lock()
		m.served++
		m.hookCond.Broadcast()
		m.hookMu.Unlock()
	}()

	if out.Kind == Applied {
		m.metrics.Symbol(m.name, "applied")
		if m.onChange != nil {
			m.onChange(out.From, out.State)
		}
	} else {
		m.metrics.Symbol(m.name, "rejected")
	}
	m.publish(out)
	return out
}

func (m *Machine) apply(sym Symbol) Outcome {
	from := m.current
	t, ok := m.match(sym)
	if !ok {
		out := Outcome{Kind: Rejected, From: from, State: from, Symbol: sym, Reason: m.reasons[tableKey{from, sym}]}
		m.log.Debug("symbol rejected",
			zap.String("machine", m.name),
			zap.String("state", string(from)),
			zap.String("symbol", string(sym)),
			zap.String("reason", out.Reason))
		return out
	}

	m.current = t.To
	out := Outcome{Kind: Applied, From: from, State: t.To, Symbol: sym}
	c := m.context(from, t.To, sym)

	if t.Action != nil {
		if err := t.Action(c); err != nil {
			out.Err = fmt.Errorf("transition action %s --%s--> %s: %w", from, sym, t.To, err)
		}
	}
	if s := m.states[t.To]; s.onEnter != nil && out.Err == nil {
		if err := s.onEnter(c); err != nil {
			out.Err = fmt.Errorf("entry action %s: %w", t.To, err)
		}
	}

	if out.Err != nil {
		m.log.Warn("transition action failed", zap.String("machine", m.name), zap.Error(out.Err))
	}
	m.log.Debug("symbol applied",
		zap.String("machine", m.name),
		zap.String("from", string(from)),
		zap.String("to", string(t.To)),
		zap.String("symbol", string(sym)))
	return out
}

// match finds the first row for (current, sym) whose guard passes.
func (m *Machine) match(sym Symbol) (Transition, bool) {
	for _, t := range m.table[tableKey{m.current, sym}] {
		if t.Guard == nil || t.Guard(m.context(m.current, t.To, sym)) {
			return t, true
		}
	}
	return Transition{}, false
}

func (m *Machine) context(from, to StateID, sym Symbol) *Context {
	return &Context{From: from, To: to, Symbol: sym, Data: m.data, Logger: m.log}
}

func (m *Machine) publish(out Outcome) {
	if m.bus == nil {
		return
	}
	payload := map[string]any{
		"type":    "fsm." + out.Kind.String(),
		"machine": m.name,
		"symbol":  string(out.Symbol),
		"from":    string(out.From),
		"state":   string(out.State),
	}
	if out.Reason != "" {
		payload["reason"] = out.Reason
	}
	if out.Err != nil {
		payload["error"] = out.Err.Error()
	}
	report := m.bus.Publish(sdk.NewEvent(m.name, payload))
	if err := report.Err(); err != nil {
		m.log.Debug("outcome delivery incomplete", zap.String("machine", m.name), zap.Error(err))
	}
}
