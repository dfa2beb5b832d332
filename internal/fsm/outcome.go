package fsm

import (
	"encoding/json"
	"fmt"
)

type Kind int

const (
	Rejected Kind = iota
	Applied
)

func (k Kind) String() string {
	if k == Applied {
		return "applied"
	}
	return "rejected"
}

// Outcome is the result of Apply. A rejection is a normal value, not an error;
// Err is only set when an applied transition's action failed, in which case
// the state change still stands.
type Outcome struct {
	Kind   Kind
	From   StateID
	State  StateID // new state when applied, unchanged state when rejected
	Symbol Symbol
	Reason string
	Err    error
}

func (o Outcome) IsApplied() bool { return o.Kind == Applied }

func (o Outcome) String() string {
	if o.Kind == Applied {
		return fmt.Sprintf("Applied(%s)", o.State)
	}
	return fmt.Sprintf("Rejected(%s, %s)", o.State, o.Symbol)
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	v := struct {
		Outcome string `json:"outcome"`
		From    string `json:"from"`
		State   string `json:"state"`
		Symbol  string `json:"symbol"`
		Reason  string `json:"reason,omitempty"`
		Error   string `json:"error,omitempty"`
	}{
		Outcome: o.Kind.String(),
		From:    string(o.From),
		State:   string(o.State),
		Symbol:  string(o.Symbol),
		Reason:  o.Reason,
	}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return json.Marshal(v)
}
