package events

import (
	"fmt"
	"slices"
	"sync"

	"github.com/EchoPBX/echofsm/internal/metrics"
	"github.com/EchoPBX/echofsm/pkg/sdk"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Bus fans published events out to registered subscribers in registration
// order. Publishes are serialized, so all subscribers see one total order.
type Bus struct {
	log     *zap.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	mu    sync.RWMutex
	subs  []*Subscriber
	index map[string]*Subscriber

	pubMu sync.Mutex
	seq   uint64
}

var _ sdk.Bus = (*Bus)(nil)

type Option func(*Bus)

func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) { b.log = l }
}

func WithClock(c clock.Clock) Option {
	return func(b *Bus) { b.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		log:   zap.NewNop(),
		clock: clock.New(),
		index: make(map[string]*Subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds sub at the end of the delivery order. Events published before
// registration are not replayed.
func (b *Bus) Register(sub *Subscriber) error {
	if sub == nil {
		return ErrNilSubscriber
	}
	b.mu.Lock()
	if _, ok := b.index[sub.id]; ok {
		b.mu.Unlock()
		return fmt.Errorf("register %q: %w", sub.id, ErrDuplicateID)
	}
	b.subs = append(b.subs, sub)
	b.index[sub.id] = sub
	n := len(b.subs)
	b.mu.Unlock()

	sub.attach(b.log, b.metrics)
	b.metrics.SetSubscribers(n)
	b.log.Debug("subscriber registered", zap.String("subscriber", sub.id), zap.Bool("connected", sub.Connected()))
	return nil
}

// Unregister removes the subscriber and hands it back to the caller. Anything
// it still had buffered is discarded.
func (b *Bus) Unregister(id string) (*Subscriber, error) {
	b.mu.Lock()
	sub, ok := b.index[id]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("unregister %q: %w", id, ErrUnknownID)
	}
	delete(b.index, id)
	b.subs = slices.DeleteFunc(b.subs, func(s *Subscriber) bool { return s == sub })
	n := len(b.subs)
	b.mu.Unlock()

	discarded := sub.discard()
	b.metrics.SetSubscribers(n)
	b.log.Debug("subscriber unregistered", zap.String("subscriber", id), zap.Int("discarded", discarded))
	return sub, nil
}

func (b *Bus) Get(id string) (*Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.index[id]
	return s, ok
}

// Subscribers returns the registered subscribers in delivery order.
func (b *Bus) Subscribers() []*Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.subs)
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to every subscriber registered when the call starts.
// Subscribers added while it runs do not get ev. A failing subscriber is
// logged and reported, and delivery to the rest goes on.
//
// Sinks must not Publish on the same bus from inside Emit.
func (b *Bus) Publish(ev sdk.Event) sdk.Report {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.seq++
	ev = ev.Stamped(b.seq, b.clock.Now())

	b.mu.RLock()
	snapshot := slices.Clone(b.subs)
	b.mu.RUnlock()

	b.metrics.Published()
	report := sdk.Report{EventID: ev.ID, Seq: ev.Seq}
	for _, sub := range snapshot {
		r, err := sub.receive(ev)
		if err != nil {
			report.Failures = append(report.Failures, sdk.Failure{Subscriber: sub.id, Err: err})
			b.metrics.Failed(sub.id)
			b.log.Warn("delivery failed",
				zap.String("subscriber", sub.id),
				zap.String("event", ev.ID),
				zap.Error(err))
			continue
		}
		switch r {
		case receiptDelivered:
			report.Delivered++
			b.metrics.Delivered()
		case receiptDropped:
			report.Dropped++
			b.metrics.Dropped()
			fallthrough
		case receiptBuffered:
			report.Buffered++
			b.metrics.Buffered()
		}
	}

	b.log.Debug("event published",
		zap.String("event", ev.ID),
		zap.String("source", ev.Source),
		zap.Uint64("seq", ev.Seq),
		zap.Int("subscribers", len(snapshot)))
	return report
}
