package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/todolimpio-backend/pkg/db/models"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

// DomainEvent is what writers hand to Emit. AggregateType and AggregateID
// together form the Pub/Sub ordering key.
type DomainEvent struct {
	EventID       string
	EventType     string
	AggregateType string
	AggregateID   string
	Data          any
	OccurredAt    time.Time
}

// OrderingKey returns the per-aggregate ordering key for Pub/Sub.
func OrderingKey(aggregateType, aggregateID string) string {
	return aggregateType + ":" + aggregateID
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit stages event inside tx. The row becomes visible to the publisher only
// when tx commits. It returns the envelope event id.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) (string, error) {
	if tx == nil {
		return "", errors.New("transaction required")
	}
	if event.EventType == "" || event.AggregateType == "" || event.AggregateID == "" {
		return "", errors.New("event type and aggregate are required")
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return "", fmt.Errorf("encoding event data: %w", err)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	envelope := PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    event.EventID,
		OccurredAt: event.OccurredAt.UTC(),
		Data:       data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("encoding envelope: %w", err)
	}

	row := models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return "", err
	}

	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_id":   event.AggregateID,
			"aggregate_type": event.AggregateType,
		}), "outbox event queued")
	}
	return envelope.EventID, nil
}
