package sideeffect

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the service log instead of a broker. Used
// when AMQP is not configured and in tests.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher creates a log-backed publisher.
func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish logs the event and always succeeds.
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.log.Info("side effect",
		zap.String("kind", event.Kind),
		zap.String("source", event.Source),
		zap.String("member_id", event.MemberID),
		zap.Strings("fields_changed", event.FieldsChanged))
	return nil
}
