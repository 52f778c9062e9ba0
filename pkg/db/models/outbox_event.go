package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OutboxEvent is an append-only change staged in the writer's transaction and
// relayed to Pub/Sub by the outbox publisher.
type OutboxEvent struct {
	ID            uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	EventType     string         `gorm:"column:event_type;not null"`
	AggregateType string         `gorm:"column:aggregate_type;not null"`
	AggregateID   string         `gorm:"column:aggregate_id;not null"`
	Payload       datatypes.JSON `gorm:"column:payload;not null"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime;index:outbox_events_pending_idx"`
	PublishedAt   *time.Time     `gorm:"column:published_at;index:outbox_events_pending_idx"`
	AttemptCount  int            `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string        `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// All lists every model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{&User{}, &Product{}, &Order{}, &OutboxEvent{}}
}
