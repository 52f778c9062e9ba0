package cron

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	// Retention is how long published and parked rows are kept.
	Retention        time.Duration
	TerminalAttempts int
	Clock            func() time.Time
}

// OutboxRetentionJob prunes change-feed outbox rows that no publisher will
// touch again. Pending rows are never removed.
type OutboxRetentionJob struct {
	logg             *logger.Logger
	db               txRunner
	repo             outboxPruner
	retention        time.Duration
	terminalAttempts int
	now              func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (*OutboxRetentionJob, error) {
	if params.DB == nil {
		return nil, errors.New("db runner required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	if params.Retention <= 0 {
		return nil, errors.New("retention must be positive")
	}
	if params.TerminalAttempts <= 0 {
		return nil, errors.New("terminal attempts must be positive")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &OutboxRetentionJob{
		logg:             logg,
		db:               params.DB,
		repo:             params.Repository,
		retention:        params.Retention,
		terminalAttempts: params.TerminalAttempts,
		now:              clock,
	}, nil
}

func (j *OutboxRetentionJob) Name() string { return "outbox-retention" }

func (j *OutboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		deleted, err = j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.terminalAttempts)
		return err
	})
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "outbox retention cleanup complete")
	return nil
}
