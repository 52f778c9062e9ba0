package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
	"github.com/angelmondragon/todolimpio-backend/pkg/outbox"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type claimer interface {
	Claim(ctx context.Context, consumer, eventID string) (bool, error)
	Release(ctx context.Context, consumer, eventID string) error
}

type publisher interface {
	Publish(ctx context.Context, ev gateway.ChangeEvent)
}

// Consumer feeds change events from this instance's Pub/Sub subscription
// into the local hub, applying each event id at most once.
type Consumer struct {
	name  string
	sub   receiver
	guard claimer
	hub   publisher
	logg  *logger.Logger
}

type ConsumerParams struct {
	// Name scopes the dedupe keys; use the subscription name.
	Name         string
	Subscription receiver
	Guard        claimer
	Hub          publisher
	Logger       *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Name == "" {
		return nil, errors.New("consumer name is required")
	}
	if params.Subscription == nil {
		return nil, errors.New("pubsub subscription is required")
	}
	if params.Guard == nil {
		return nil, errors.New("idempotency guard is required")
	}
	if params.Hub == nil {
		return nil, errors.New("hub is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Consumer{
		name:  params.Name,
		sub:   params.Subscription,
		guard: params.Guard,
		hub:   params.Hub,
		logg:  logg,
	}, nil
}

// Run blocks until ctx ends or the subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.logg.Info(c.logg.WithField(ctx, "subscription", c.name), "change feed consumer started")
	err := c.sub.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if c.handle(msgCtx, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receiving change feed: %w", err)
	}
	return nil
}

// handle reports whether the message should be acked. Malformed messages are
// acked so they are not redelivered forever.
func (c *Consumer) handle(ctx context.Context, data []byte) bool {
	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "dropping malformed change feed message")
		return true
	}
	var ev gateway.ChangeEvent
	if err := json.Unmarshal(envelope.Data, &ev); err != nil {
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"event_id": envelope.EventID,
			"error":    err.Error(),
		}), "dropping undecodable change event")
		return true
	}

	ctx = c.logg.WithFields(ctx, map[string]any{
		"event_id": envelope.EventID,
		"table":    ev.Table,
		"type":     ev.Type,
	})
	claimed, err := c.guard.Claim(ctx, c.name, envelope.EventID)
	if err != nil {
		c.logg.Error(ctx, "change feed dedupe failed", err)
		return false
	}
	if !claimed {
		c.logg.Debug(ctx, "skipping duplicate change event")
		return true
	}

	// shutting down between claim and fan-out: hand the event back
	if ctx.Err() != nil {
		if err := c.guard.Release(context.WithoutCancel(ctx), c.name, envelope.EventID); err != nil {
			c.logg.Error(ctx, "releasing change event claim failed", err)
		}
		return false
	}

	c.hub.Publish(ctx, ev)
	return true
}
