package events

import (
	"fmt"
	"sync"

	"github.com/EchoPBX/echofsm/internal/metrics"
	"github.com/EchoPBX/echofsm/pkg/sdk"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type receipt int

const (
	receiptDelivered receipt = iota
	receiptBuffered
	// buffered, and the oldest pending event was evicted to make room
	receiptDropped
)

// Subscriber receives events from a Bus. While disconnected it keeps every
// event it is handed in a FIFO buffer and flushes them, in order, to its sink
// once it reconnects.
type Subscriber struct {
	id    string
	sink  sdk.Sink
	limit int

	// emitMu orders sink calls; mu guards the fields below and is never held
	// while the sink runs
	emitMu sync.Mutex

	mu        sync.Mutex
	connected bool
	buffer    []sdk.Event
	dropped   uint64
	log       *zap.Logger
	metrics   *metrics.Metrics
}

type SubscriberOption func(*Subscriber)

// WithConnected sets the initial connectivity. Subscribers start offline.
func WithConnected(v bool) SubscriberOption {
	return func(s *Subscriber) { s.connected = v }
}

// WithBufferLimit caps the offline buffer; when full the oldest event is
// evicted. Zero means unbounded.
func WithBufferLimit(n int) SubscriberOption {
	return func(s *Subscriber) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithSubscriberLogger(l *zap.Logger) SubscriberOption {
	return func(s *Subscriber) { s.log = l }
}

func NewSubscriber(id string, sink sdk.Sink, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{id: id, sink: sink}
	for _, opt := range opts {
		opt(s)
	}
	if s.log != nil {
		s.log = s.log.With(zap.String("subscriber", id))
	}
	return s
}

func (s *Subscriber) ID() string { return s.id }

func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Subscriber) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Buffered returns a copy of the pending events in arrival order.
func (s *Subscriber) Buffered() []sdk.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sdk.Event, len(s.buffer))
	copy(out, s.buffer)
	return out
}

func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Receive displays ev right away when connected, otherwise buffers it.
func (s *Subscriber) Receive(ev sdk.Event) error {
	_, err := s.receive(ev)
	return err
}

func (s *Subscriber) receive(ev sdk.Event) (receipt, error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if !s.connected {
		r := receiptBuffered
		if s.limit > 0 && len(s.buffer) >= s.limit {
			s.buffer[0] = sdk.Event{}
			s.buffer = s.buffer[1:]
			s.dropped++
			r = receiptDropped
		}
		s.buffer = append(s.buffer, ev)
		s.mu.Unlock()
		return r, nil
	}
	// buffer must already be empty while connected
	s.buffer = nil
	s.mu.Unlock()

	return receiptDelivered, s.emit(ev)
}

// SetConnected changes connectivity. Going online flushes the buffer to the
// sink in FIFO order and clears it; the flush continues past sink failures and
// returns them combined. Setting the current value again does nothing.
//
// The sink may read the subscriber while it runs, but must not call
// SetConnected or Receive on it.
func (s *Subscriber) SetConnected(v bool) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.connected == v {
		s.mu.Unlock()
		return nil
	}
	s.connected = v
	log, m := s.logger(), s.metrics
	if !v {
		s.mu.Unlock()
		log.Debug("subscriber offline")
		return nil
	}
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	var err error
	for _, ev := range pending {
		err = multierr.Append(err, s.emit(ev))
	}
	m.Flushed(len(pending))
	log.Debug("subscriber online", zap.Int("flushed", len(pending)))
	if err != nil {
		m.Failed(s.id)
		return fmt.Errorf("flush %s: %w", s.id, err)
	}
	return nil
}

// discard drops everything still buffered. Used on unregister.
func (s *Subscriber) discard() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.buffer)
	s.buffer = nil
	return n
}

func (s *Subscriber) attach(log *zap.Logger, m *metrics.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil && log != nil {
		s.log = log.With(zap.String("subscriber", s.id))
	}
	s.metrics = m
}

func (s *Subscriber) logger() *zap.Logger {
	if s.log == nil {
		return zap.NewNop()
	}
	return s.log
}

// emit calls the sink and reports a sink panic as ErrSinkPanic.
func (s *Subscriber) emit(ev sdk.Event) (err error) {
	if s.sink == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSinkPanic, r)
		}
	}()
	return s.sink.Emit(ev)
}
