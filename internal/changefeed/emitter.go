package changefeed

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/pkg/outbox"
)

// LocalEmitter publishes committed changes straight into the hub.
type LocalEmitter struct {
	hub *Hub
}

func NewLocalEmitter(hub *Hub) *LocalEmitter {
	return &LocalEmitter{hub: hub}
}

func (e *LocalEmitter) Stage(context.Context, *gorm.DB, gateway.ChangeEvent) error {
	return nil
}

func (e *LocalEmitter) Committed(ctx context.Context, ev gateway.ChangeEvent) {
	e.hub.Publish(ctx, ev)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (string, error)
}

// OutboxEmitter stages every change as an outbox row in the write
// transaction. Delivery to hubs happens through Pub/Sub and the Consumer.
type OutboxEmitter struct {
	outbox outboxEmitter
}

func NewOutboxEmitter(svc outboxEmitter) (*OutboxEmitter, error) {
	if svc == nil {
		return nil, errors.New("outbox service is required")
	}
	return &OutboxEmitter{outbox: svc}, nil
}

func (e *OutboxEmitter) Stage(ctx context.Context, tx *gorm.DB, ev gateway.ChangeEvent) error {
	_, err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventID:       ev.ID,
		EventType:     string(ev.Type),
		AggregateType: string(ev.Table),
		AggregateID:   ev.RowID(),
		Data:          ev,
		OccurredAt:    ev.CommitTimestamp,
	})
	return err
}

func (e *OutboxEmitter) Committed(context.Context, gateway.ChangeEvent) {}
