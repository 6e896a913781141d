package order

import (
	"context"
	"fmt"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"

	"github.com/appetiteclub/delivery/pkg/event"
)

// Broadcaster receives every decoded lifecycle envelope.
type Broadcaster interface {
	Broadcast(env *event.Envelope)
}

// LifecycleSubscriber relays lifecycle envelopes from the bus into the push
// channel, so every backend replica serves events published by any other.
type LifecycleSubscriber struct {
	subscriber  events.Subscriber
	broadcaster Broadcaster
	logger      aqm.Logger
}

func NewLifecycleSubscriber(sub events.Subscriber, broadcaster Broadcaster, logger aqm.Logger) *LifecycleSubscriber {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &LifecycleSubscriber{
		subscriber:  sub,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

func (s *LifecycleSubscriber) Start(ctx context.Context) error {
	s.log().Info("starting lifecycle subscriber", "topic", event.LifecycleTopic)
	if s.subscriber == nil {
		return fmt.Errorf("lifecycle subscriber not configured")
	}
	return s.subscriber.Subscribe(ctx, event.LifecycleTopic, s.handleEvent)
}

func (s *LifecycleSubscriber) Stop(ctx context.Context) error {
	return nil
}

func (s *LifecycleSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	env, err := event.Parse(msg)
	if err != nil {
		s.log().Info("invalid lifecycle event", "error", err)
		return nil
	}
	if _, err := env.Decode(); err != nil {
		s.log().Info("undecodable lifecycle event", "kind", string(env.Kind), "error", err)
		return nil
	}

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(&env)
	}
	return nil
}

func (s *LifecycleSubscriber) log() aqm.Logger {
	return s.logger.With("component", "lifecycle-subscriber")
}
