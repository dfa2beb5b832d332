package sdk

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record published on a Bus. The payload is copied on
// construction and on every read, so holders cannot mutate it.
type Event struct {
	ID     string
	Source string
	// Seq and At are stamped by the bus on publish. Zero before that.
	Seq uint64
	At  time.Time

	payload map[string]any
}

// NewEvent builds an event with a fresh id.
func NewEvent(source string, payload map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Source:  source,
		payload: maps.Clone(payload),
	}
}

// Payload returns a copy of the event payload.
func (e Event) Payload() map[string]any {
	if e.payload == nil {
		return map[string]any{}
	}
	return maps.Clone(e.payload)
}

func (e Event) Get(key string) (any, bool) {
	v, ok := e.payload[key]
	return v, ok
}

// String returns a payload value as a string, or "" if absent or not a string.
func (e Event) String(key string) string {
	s, _ := e.payload[key].(string)
	return s
}

// Stamped returns a copy of e carrying the bus sequence number and publish time.
func (e Event) Stamped(seq uint64, at time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Seq = seq
	e.At = at
	return e
}

type eventJSON struct {
	ID      string         `json:"id"`
	Source  string         `json:"source"`
	Seq     uint64         `json:"seq,omitempty"`
	At      *time.Time     `json:"at,omitempty"`
	Payload map[string]any `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{ID: e.ID, Source: e.Source, Seq: e.Seq, Payload: e.Payload()}
	if !e.At.IsZero() {
		at := e.At.UTC()
		out.At = &at
	}
	return json.Marshal(out)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var in eventJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*e = Event{ID: in.ID, Source: in.Source, Seq: in.Seq, payload: in.Payload}
	if in.At != nil {
		e.At = *in.At
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
