package events

import "errors"

var (
	ErrDuplicateID   = errors.New("subscriber id already registered")
	ErrUnknownID     = errors.New("subscriber id not registered")
	ErrNilSubscriber = errors.New("nil subscriber")
	ErrSinkPanic     = errors.New("sink panicked")
)
