package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeOutboxPruner struct {
	cutoff           time.Time
	terminalAttempts int
	calls            int
	err              error
}

func (f *fakeOutboxPruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	f.terminalAttempts = terminalAttempts
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newRetentionJob(t *testing.T, repo *fakeOutboxPruner, now time.Time) *OutboxRetentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		DB:               passthroughTx{},
		Repository:       repo,
		Retention:        7 * 24 * time.Hour,
		TerminalAttempts: 10,
		Clock:            func() time.Time { return now },
	})
	require.NoError(t, err)
	return job
}

func TestOutboxRetentionJobUsesCutoffAndTerminalAttempts(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeOutboxPruner{}
	job := newRetentionJob(t, repo, now)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, repo.calls)
	assert.True(t, repo.cutoff.Equal(now.Add(-7*24*time.Hour)), "cutoff %s", repo.cutoff)
	assert.Equal(t, 10, repo.terminalAttempts)
	assert.Equal(t, "outbox-retention", job.Name())
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxPruner{err: errors.New("boom")}
	job := newRetentionJob(t, repo, time.Now())
	assert.Error(t, job.Run(context.Background()))
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{DB: passthroughTx{}, Repository: &fakeOutboxPruner{}, TerminalAttempts: 1})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{DB: passthroughTx{}, Repository: &fakeOutboxPruner{}, Retention: time.Hour})
	assert.Error(t, err)
}
