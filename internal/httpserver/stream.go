package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/EchoPBX/echofsm/internal/events"
	"github.com/EchoPBX/echofsm/pkg/sdk"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errStreamFull = errors.New("stream client too slow, event dropped")

const (
	streamQueue   = 64
	streamIdle    = 60 * time.Second
	streamPing    = 25 * time.Second
	streamWriteTO = 5 * time.Second
)

// chanSink hands events to the connection's writer goroutine without
// blocking the publisher.
type chanSink chan sdk.Event

func (c chanSink) Emit(ev sdk.Event) error {
	select {
	case c <- ev:
		return nil
	default:
		return errStreamFull
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// stream registers the websocket client as a connected subscriber for the
// lifetime of the connection.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	id := "ws-" + uuid.NewString()
	ch := make(chanSink, streamQueue)
	sub := events.NewSubscriber(id, ch, events.WithConnected(true))
	if err := s.bus.Register(sub); err != nil {
		s.log.Warn("ws register failed", zap.Error(err))
		_ = conn.Close()
		return
	}
	log := s.log.With(zap.String("subscriber", id))
	log.Debug("ws client subscribed")

	done := make(chan struct{})
	go func() {
		defer func() {
			_, _ = s.bus.Unregister(id)
			_ = conn.Close()
		}()
		ping := time.NewTicker(streamPing)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case ev := <-ch:
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTO))
				if err := conn.WriteJSON(ev); err != nil {
					log.Debug("ws write error", zap.Error(err))
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTO)); err != nil {
					return
				}
			}
		}
	}()

	// reads only to notice the client going away
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(streamIdle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamIdle))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(done)
			return
		}
	}
}
