// Package feed publishes posts from authors to their followers. Followers are
// bus subscribers that start offline and catch up when they come online.
package feed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/EchoPBX/echofsm/internal/events"
	"github.com/EchoPBX/echofsm/pkg/sdk"
)

var ErrInvalidPost = errors.New("invalid post")

var requiredKeys = []string{"name", "url", "description"}

// Validate checks that a post payload carries a non-empty string for every
// required key.
func Validate(payload map[string]any) error {
	var missing []string
	for _, k := range requiredKeys {
		if s, _ := payload[k].(string); s == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidPost, strings.Join(missing, ", "))
	}
	return nil
}

type Author struct {
	Name string
	bus  sdk.Bus
}

func NewAuthor(name string, bus sdk.Bus) *Author {
	return &Author{Name: name, bus: bus}
}

// CreatePost validates and publishes a post. Nothing is published when the
// post is invalid.
func (a *Author) CreatePost(url, description string) (sdk.Report, error) {
	payload := map[string]any{
		"name":        a.Name,
		"url":         url,
		"description": description,
	}
	if err := Validate(payload); err != nil {
		return sdk.Report{}, err
	}
	return a.bus.Publish(sdk.NewEvent(a.Name, payload)), nil
}

func Follow(bus *events.Bus, name string, sink sdk.Sink, opts ...events.SubscriberOption) (*events.Subscriber, error) {
	sub := events.NewSubscriber(name, sink, opts...)
	if err := bus.Register(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unfollow removes the follower; whatever it had not seen yet is lost.
func Unfollow(bus *events.Bus, name string) error {
	_, err := bus.Unregister(name)
	return err
}
