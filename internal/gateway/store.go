package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

// Emitter hooks change events into the write path.
type Emitter interface {
	// Stage runs inside the write transaction. An error aborts the write.
	Stage(ctx context.Context, tx *gorm.DB, ev ChangeEvent) error
	// Committed runs once the write is durable.
	Committed(ctx context.Context, ev ChangeEvent)
}

type txRunner interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Store implements Gateway on GORM. Every write emits one change event.
type Store struct {
	db      txRunner
	feed    Feed
	emitter Emitter
	logg    *logger.Logger
	now     func() time.Time
	newID   func() string
}

type StoreParams struct {
	DB      txRunner
	Feed    Feed
	Emitter Emitter
	Logger  *logger.Logger
	Clock   func() time.Time
}

func NewStore(params StoreParams) (*Store, error) {
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Feed == nil {
		return nil, errors.New("change feed is required")
	}
	if params.Emitter == nil {
		return nil, errors.New("change emitter is required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Store{
		db:      params.DB,
		feed:    params.Feed,
		emitter: params.Emitter,
		logg:    logg,
		now:     clock,
		newID:   uuid.NewString,
	}, nil
}

func (s *Store) Select(ctx context.Context, table Table, q Query) ([]Row, error) {
	const op = "select"
	spec, err := specFor(op, table)
	if err != nil {
		return nil, err
	}

	tx := s.db.DB().WithContext(ctx).Table(string(table))
	for _, f := range q.Filters {
		if err := spec.checkColumn(op, f.Column); err != nil {
			return nil, err
		}
		tx = tx.Where(clause.Eq{Column: clause.Column{Name: f.Column}, Value: f.Value})
	}
	for _, o := range q.Order {
		if err := spec.checkColumn(op, o.Column); err != nil {
			return nil, err
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Column}, Desc: o.Desc})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	rows, err := spec.find(tx)
	if err != nil {
		return nil, classify(op, table, err)
	}
	for i := range rows {
		rows[i] = spec.redact(rows[i])
	}
	return rows, nil
}

func (s *Store) Insert(ctx context.Context, table Table, row Row) (Row, error) {
	const op = "insert"
	spec, err := specFor(op, table)
	if err != nil {
		return nil, err
	}
	input := row.Clone()
	delete(input, ColumnID)
	for column := range input {
		if err := spec.checkColumn(op, column); err != nil {
			return nil, err
		}
	}

	var ev ChangeEvent
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := spec.create(tx, input)
		if err != nil {
			return err
		}
		ev = s.event(EventInsert, table, spec.redact(created), nil)
		return s.emitter.Stage(ctx, tx, ev)
	})
	if err != nil {
		return nil, classify(op, table, err)
	}
	s.committed(ctx, ev)
	return ev.New.Clone(), nil
}

// Update merges changes into the stored row. Last write wins.
func (s *Store) Update(ctx context.Context, table Table, id string, changes Row) (Row, error) {
	const op = "update"
	spec, err := specFor(op, table)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, invalid(op, table, "id is required")
	}
	if len(changes) == 0 {
		return nil, invalid(op, table, "no changes")
	}
	for column := range changes {
		if column == ColumnID {
			return nil, invalid(op, table, "id is immutable")
		}
		if err := spec.checkColumn(op, column); err != nil {
			return nil, err
		}
	}

	var ev ChangeEvent
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		old, err := spec.first(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
		if err != nil {
			return err
		}
		merged := old.Clone()
		for column, value := range changes {
			merged[column] = value
		}
		updated, err := spec.save(tx, merged)
		if err != nil {
			return err
		}
		ev = s.event(EventUpdate, table, spec.redact(updated), spec.redact(old))
		return s.emitter.Stage(ctx, tx, ev)
	})
	if err != nil {
		return nil, classify(op, table, err)
	}
	s.committed(ctx, ev)
	return ev.New.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, table Table, id string) error {
	const op = "delete"
	spec, err := specFor(op, table)
	if err != nil {
		return err
	}
	if id == "" {
		return invalid(op, table, "id is required")
	}

	var ev ChangeEvent
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		old, err := spec.first(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
		if err != nil {
			return err
		}
		if err := spec.remove(tx, id); err != nil {
			return err
		}
		ev = s.event(EventDelete, table, nil, spec.redact(old))
		return s.emitter.Stage(ctx, tx, ev)
	})
	if err != nil {
		return classify(op, table, err)
	}
	s.committed(ctx, ev)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, table Table, filters ...Filter) (Subscription, error) {
	const op = "subscribe"
	spec, err := specFor(op, table)
	if err != nil {
		return nil, err
	}
	for _, f := range filters {
		if err := spec.checkColumn(op, f.Column); err != nil {
			return nil, err
		}
	}
	sub, err := s.feed.Subscribe(ctx, table, filters...)
	if err != nil {
		return nil, classify(op, table, err)
	}
	return sub, nil
}

func (s *Store) event(typ EventType, table Table, newRow, oldRow Row) ChangeEvent {
	return ChangeEvent{
		ID:              s.newID(),
		Type:            typ,
		Table:           table,
		New:             newRow,
		Old:             oldRow,
		CommitTimestamp: s.now().UTC(),
	}
}

func (s *Store) committed(ctx context.Context, ev ChangeEvent) {
	s.emitter.Committed(ctx, ev)
	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"table":    ev.Table,
		"type":     ev.Type,
		"row_id":   ev.RowID(),
		"event_id": ev.ID,
	}), "row change committed")
}
