package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	"github.com/angelmondragon/todolimpio-backend/pkg/db/models"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
	"github.com/angelmondragon/todolimpio-backend/pkg/outbox"
)

const (
	publishTimeout = 15 * time.Second
	maxIdleBackoff = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pinger interface {
	Ping(context.Context) error
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type RelayParams struct {
	Outbox    config.OutboxConfig
	Logger    *logger.Logger
	DB        txRunner
	PubSub    pinger
	Store     outboxStore
	Publisher publisher
}

// Relay moves committed outbox rows onto the change-feed topic. Rows of one
// aggregate share an ordering key; once a row fails, the rest of that key
// waits for the next batch.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	pubsub      pinger
	store       outboxStore
	publisher   publisher
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Store == nil:
		return nil, errors.New("outbox store is required")
	case params.Publisher == nil:
		return nil, errors.New("change feed publisher is required")
	}

	cfg := params.Outbox
	return &Relay{
		logg:        params.Logger,
		db:          params.DB,
		pubsub:      params.PubSub,
		store:       params.Store,
		publisher:   params.Publisher,
		batchSize:   positiveOr(cfg.BatchSize, 50),
		maxAttempts: positiveOr(cfg.MaxAttempts, 10),
		poll:        time.Duration(positiveOr(cfg.PollIntervalMS, 250)) * time.Millisecond,
	}, nil
}

// Run polls until ctx is done. Failed batches back off exponentially up to
// maxIdleBackoff; a full batch is followed immediately by the next one.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	wait := r.poll
	for ctx.Err() == nil {
		busy, err := r.drain(ctx)
		if err != nil {
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = min(2*wait, maxIdleBackoff)
		} else {
			wait = r.poll
			if busy {
				continue
			}
		}
		if err := pause(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
	r.logg.Info(ctx, "outbox relay stopping")
	return ctx.Err()
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeParked
)

// drain relays one batch inside a transaction holding the row locks and
// reports whether any rows were found.
func (r *Relay) drain(ctx context.Context) (bool, error) {
	var found bool
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.store.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		found = len(rows) > 0

		held := make(map[string]struct{})
		for _, row := range rows {
			key := outbox.OrderingKey(row.AggregateType, row.AggregateID)
			if _, waiting := held[key]; waiting {
				continue
			}
			result, err := r.relay(ctx, tx, row, key)
			if err != nil {
				return err
			}
			if result != outcomePublished {
				held[key] = struct{}{}
			}
		}
		return nil
	})
	return found, err
}

// relay publishes a single row and records the result on it. The returned
// error is a storage failure that aborts the batch.
func (r *Relay) relay(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, key string) (outcome, error) {
	rowCtx := r.logg.WithFields(ctx, rowFields(row))

	envelope, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return outcomeParked, r.park(rowCtx, tx, row, "malformed_envelope", err)
	}
	rowCtx = r.logg.WithField(rowCtx, "event_id", envelope.EventID)

	if err := r.send(ctx, row, envelope.EventID, key); err != nil {
		// the client pauses a key after a failed publish until resumed
		r.publisher.ResumePublish(key)
		if row.AttemptCount+1 >= r.maxAttempts {
			return outcomeParked, r.park(rowCtx, tx, row, "max_attempts", fmt.Errorf("max publish attempts reached: %w", err))
		}
		r.logg.Warn(r.logg.WithField(rowCtx, "error", err.Error()), "outbox publish failed, will retry")
		if err := r.store.MarkFailedTx(tx, row.ID, err); err != nil {
			return outcomeRetry, fmt.Errorf("mark failure %s: %w", row.ID, err)
		}
		return outcomeRetry, nil
	}

	if err := r.store.MarkPublishedTx(tx, row.ID); err != nil {
		return outcomePublished, fmt.Errorf("mark published %s: %w", row.ID, err)
	}
	r.logg.Debug(rowCtx, "outbox event published")
	return outcomePublished, nil
}

func (r *Relay) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason string, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"terminal_reason": reason,
		"error":           cause.Error(),
	}), "outbox event parked")
	if err := r.store.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

func (r *Relay) send(ctx context.Context, row models.OutboxEvent, eventID, key string) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := r.publisher.Publish(ctx, &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     row.EventType,
			"aggregate_type": row.AggregateType,
			"aggregate_id":   row.AggregateID,
			"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if result == nil {
		return errors.New("publisher returned no result")
	}
	_, err := result.Get(ctx)
	return err
}

func rowFields(row models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID,
		"attempt_count":  row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return fields
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

// topicPublisher adapts *pubsub.Publisher, whose Publish returns a concrete
// *PublishResult, to the publisher interface.
type topicPublisher struct {
	*gcppubsub.Publisher
}

func (p topicPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
