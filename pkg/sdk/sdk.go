package sdk

import (
	"encoding/json"

	"go.uber.org/multierr"
)

// Sink is where a subscriber displays the events it receives. Emit may read
// its subscriber or unregister it, but must not change its connectivity or
// publish on the bus delivering to it.
type Sink interface {
	Emit(ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

func (f SinkFunc) Emit(ev Event) error { return f(ev) }

// Bus is the publishing side of the event bus, the only part producers need.
type Bus interface {
	Publish(ev Event) Report
}

// Failure is one subscriber's delivery error.
type Failure struct {
	Subscriber string
	Err        error
}

func (f Failure) Error() string { return f.Subscriber + ": " + f.Err.Error() }

func (f Failure) Unwrap() error { return f.Err }

func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"subscriber": f.Subscriber, "error": f.Err.Error()})
}

// Report describes the fan-out of one publish. Failures never abort the
// fan-out; they are collected here.
type Report struct {
	EventID   string    `json:"event_id"`
	Seq       uint64    `json:"seq"`
	Delivered int       `json:"delivered"`
	Buffered  int       `json:"buffered"`
	Dropped   int       `json:"dropped,omitempty"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Err combines all failures, or returns nil.
func (r Report) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// OK reports whether every subscriber accepted the event.
func (r Report) OK() bool { return len(r.Failures) == 0 }
