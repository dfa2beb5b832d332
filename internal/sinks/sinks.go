package sinks

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/EchoPBX/echofsm/pkg/sdk"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Log displays events as structured log lines.
func Log(log *zap.Logger, name string) sdk.Sink {
	return sdk.SinkFunc(func(ev sdk.Event) error {
		log.Info("event",
			zap.String("subscriber", name),
			zap.String("source", ev.Source),
			zap.String("id", ev.ID),
			zap.Uint64("seq", ev.Seq),
			zap.Any("payload", ev.Payload()))
		return nil
	})
}

// Writer prints one line per event, "name: source {payload}".
func Writer(w io.Writer, name string) sdk.Sink {
	var mu sync.Mutex
	return sdk.SinkFunc(func(ev sdk.Event) error {
		b, err := json.Marshal(ev.Payload())
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprintf(w, "%s: %s %s\n", name, ev.Source, b)
		return err
	})
}

// Filter only passes events accepted by keep to next. Others are dropped
// silently.
func Filter(next sdk.Sink, keep func(sdk.Event) bool) sdk.Sink {
	return sdk.SinkFunc(func(ev sdk.Event) error {
		if !keep(ev) {
			return nil
		}
		return next.Emit(ev)
	})
}

func FromSources(sources ...string) func(sdk.Event) bool {
	return func(ev sdk.Event) bool { return slices.Contains(sources, ev.Source) }
}

// Tee emits to every sink and combines their errors.
func Tee(sinks ...sdk.Sink) sdk.Sink {
	return sdk.SinkFunc(func(ev sdk.Event) error {
		var err error
		for _, s := range sinks {
			err = multierr.Append(err, s.Emit(ev))
		}
		return err
	})
}

var Discard sdk.Sink = sdk.SinkFunc(func(sdk.Event) error { return nil })

// ByName builds one of the sinks a config file can name: "log" or "stdout".
func ByName(kind string, name string, log *zap.Logger, stdout io.Writer) (sdk.Sink, error) {
	switch kind {
	case "", "log":
		return Log(log, name), nil
	case "stdout":
		return Writer(stdout, name), nil
	case "discard":
		return Discard, nil
	}
	return nil, fmt.Errorf("unknown sink %q", kind)
}
