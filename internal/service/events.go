package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/turbotransfer/host/internal/sse"
)

// EventPublisher is the observable side of the core: registry, clipboard
// and transfer changes are published here for push transports.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event sse.Event) error
}

// publish never fails the caller; polling remains the source of truth.
func publish(ctx context.Context, events EventPublisher, topic, eventType string, data any) {
	if events == nil {
		return
	}
	event, err := sse.NewEvent(eventType, data)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to encode event")
		return
	}
	if err := events.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
		log.Warn().Err(err).Str("type", eventType).Str("topic", topic).Msg("failed to publish event")
	}
}
