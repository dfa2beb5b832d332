package events

import (
	"errors"
	"testing"
	"time"

	"github.com/EchoPBX/echofsm/pkg/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriber_StartsOffline(t *testing.T) {
	s := NewSubscriber("tom", &recorder{})
	assert.False(t, s.Connected())
	assert.Zero(t, s.Pending())
}

func TestSubscriber_ConnectedReceiveEmits(t *testing.T) {
	r := &recorder{}
	s := NewSubscriber("jack", r, WithConnected(true))

	ev := post("chloe", "hi")
	require.NoError(t, s.Receive(ev))
	assert.Equal(t, idsOf(ev), r.ids())
	assert.Zero(t, s.Pending())
}

func TestSubscriber_FlushInFIFOOrder(t *testing.T) {
	r := &recorder{}
	s := NewSubscriber("tom", r)

	var sent []sdk.Event
	for i := 0; i < 5; i++ {
		ev := post("chloe", "n")
		sent = append(sent, ev)
		require.NoError(t, s.Receive(ev))
	}
	assert.Equal(t, 5, s.Pending())
	assert.Empty(t, r.ids())

	require.NoError(t, s.SetConnected(true))
	assert.Equal(t, idsOf(sent...), r.ids())
	assert.Zero(t, s.Pending())
	assert.True(t, s.Connected())
}

func TestSubscriber_SetConnectedIdempotent(t *testing.T) {
	r := &recorder{}
	s := NewSubscriber("tom", r)
	require.NoError(t, s.Receive(post("chloe", "a")))

	require.NoError(t, s.SetConnected(true))
	require.NoError(t, s.SetConnected(true))
	assert.Len(t, r.ids(), 1)

	require.NoError(t, s.SetConnected(false))
	require.NoError(t, s.SetConnected(false))
	assert.False(t, s.Connected())
	assert.Len(t, r.ids(), 1)
}

func TestSubscriber_GoingOfflineKeepsNothingAndBuffersNew(t *testing.T) {
	r := &recorder{}
	s := NewSubscriber("tom", r, WithConnected(true))
	require.NoError(t, s.Receive(post("chloe", "seen")))

	require.NoError(t, s.SetConnected(false))
	assert.Zero(t, s.Pending())

	missed := post("chloe", "missed")
	require.NoError(t, s.Receive(missed))
	assert.Equal(t, idsOf(missed), idsOf(s.Buffered()...))

	require.NoError(t, s.SetConnected(true))
	assert.Len(t, r.ids(), 2)
	assert.Equal(t, missed.ID, r.ids()[1])
}

func TestSubscriber_BufferHoldsOnlyEventsSinceLastFlush(t *testing.T) {
	s := NewSubscriber("tom", &recorder{})
	require.NoError(t, s.Receive(post("x", "1")))
	require.NoError(t, s.SetConnected(true))
	require.NoError(t, s.Receive(post("x", "2")))
	require.NoError(t, s.SetConnected(false))

	e3, e4 := post("x", "3"), post("x", "4")
	require.NoError(t, s.Receive(e3))
	require.NoError(t, s.Receive(e4))
	assert.Equal(t, idsOf(e3, e4), idsOf(s.Buffered()...))
}

func TestSubscriber_FlushContinuesPastFailures(t *testing.T) {
	boom := errors.New("display broken")
	var got []string
	calls := 0
	sink := sdk.SinkFunc(func(ev sdk.Event) error {
		calls++
		if calls == 2 {
			return boom
		}
		got = append(got, ev.ID)
		return nil
	})
	s := NewSubscriber("tom", sink)
	e1, e2, e3 := post("x", "1"), post("x", "2"), post("x", "3")
	for _, ev := range []sdk.Event{e1, e2, e3} {
		require.NoError(t, s.Receive(ev))
	}

	err := s.SetConnected(true)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, idsOf(e1, e3), got)
	assert.Zero(t, s.Pending())
	assert.True(t, s.Connected())
}

func TestSubscriber_BufferLimitEvictsOldest(t *testing.T) {
	r := &recorder{}
	s := NewSubscriber("tom", r, WithBufferLimit(2))
	e1, e2, e3 := post("x", "1"), post("x", "2"), post("x", "3")
	for _, ev := range []sdk.Event{e1, e2, e3} {
		require.NoError(t, s.Receive(ev))
	}
	assert.Equal(t, idsOf(e2, e3), idsOf(s.Buffered()...))
	assert.Equal(t, uint64(1), s.Dropped())

	require.NoError(t, s.SetConnected(true))
	assert.Equal(t, idsOf(e2, e3), r.ids())
}

func TestSubscriber_BufferedIsACopy(t *testing.T) {
	s := NewSubscriber("tom", nil)
	require.NoError(t, s.Receive(post("x", "1")))
	buf := s.Buffered()
	buf[0] = sdk.Event{}
	assert.NotEmpty(t, s.Buffered()[0].ID)
}

func runWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("deadlocked")
	}
}

func TestSubscriber_SinkMayInspectItsSubscriber(t *testing.T) {
	var s *Subscriber
	var seen []int
	s = NewSubscriber("tom", sdk.SinkFunc(func(sdk.Event) error {
		seen = append(seen, s.Pending())
		_ = s.Connected()
		_ = s.Buffered()
		return nil
	}))

	require.NoError(t, s.Receive(post("chloe", "a")))
	require.NoError(t, s.Receive(post("chloe", "b")))
	runWithin(t, time.Second, func() { assert.NoError(t, s.SetConnected(true)) })
	runWithin(t, time.Second, func() { assert.NoError(t, s.Receive(post("chloe", "c"))) })
	assert.Equal(t, []int{0, 0, 0}, seen)
}

func TestSubscriber_SinkMayUnregisterItself(t *testing.T) {
	bus := NewBus()
	r := &recorder{}
	sub := NewSubscriber("tom", sdk.SinkFunc(func(ev sdk.Event) error {
		_, err := bus.Unregister("tom")
		return err
	}), WithConnected(true))
	require.NoError(t, bus.Register(sub))
	require.NoError(t, bus.Register(NewSubscriber("jack", r, WithConnected(true))))

	ev := post("chloe", "bye")
	runWithin(t, time.Second, func() {
		report := bus.Publish(ev)
		assert.True(t, report.OK())
	})
	_, ok := bus.Get("tom")
	assert.False(t, ok)
	assert.Equal(t, idsOf(ev), r.ids())
}
