package fsm

import (
	"errors"

	"go.uber.org/zap"
)

type (
	StateID string
	Symbol  string
)

// Guard is a pure predicate deciding whether a transition may be taken.
// It must not have side effects.
type Guard func(c *Context) bool

// Action runs when a transition is taken or a state is entered.
type Action func(c *Context) error

// Context is handed to guards and actions.
type Context struct {
	From   StateID
	To     StateID
	Symbol Symbol
	Data   any
	Logger *zap.Logger
}

var ErrInvalidDefinition = errors.New("invalid state machine definition")
