package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

// Placement decides where an inserted record lands in the snapshot.
type Placement int

const (
	Prepend Placement = iota
	Append
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	// ChangeResync replaces the whole list after the feed was lost.
	ChangeResync ChangeType = "resync"
)

// Change is what one folded event did to the snapshot.
type Change[T any] struct {
	Type    ChangeType
	ID      string
	Record  *T
	Records []T
}

var (
	ErrNotActive   = errors.New("reconciler is not active")
	ErrDeactivated = errors.New("reconciler deactivated")
)

type Source interface {
	Select(ctx context.Context, table gateway.Table, q gateway.Query) ([]gateway.Row, error)
	Subscribe(ctx context.Context, table gateway.Table, filters ...gateway.Filter) (gateway.Subscription, error)
}

// Config scopes a reconciler. The same filters drive the query and the
// subscription.
type Config[T any] struct {
	Table     gateway.Table
	Filters   []gateway.Filter
	Order     []gateway.Order
	Placement Placement
	Decode    func(ctx context.Context, row gateway.Row) (T, error)
	Key       func(T) string
}

// Reconciler keeps a local ordered list in sync with a scoped remote query.
// Only the goroutine calling Next folds events; Snapshot is safe from any
// goroutine.
type Reconciler[T any] struct {
	src  Source
	cfg  Config[T]
	logg *logger.Logger

	mu      sync.Mutex
	items   []T
	sub     gateway.Subscription
	active  bool
	stopped bool
}

func New[T any](src Source, cfg Config[T], logg *logger.Logger) (*Reconciler[T], error) {
	if src == nil {
		return nil, errors.New("source is required")
	}
	if cfg.Table == "" {
		return nil, errors.New("table is required")
	}
	if cfg.Decode == nil || cfg.Key == nil {
		return nil, errors.New("decode and key functions are required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler[T]{src: src, cfg: cfg, logg: logg}, nil
}

// Activate subscribes, then loads the snapshot. Rows written between the two
// steps arrive as events and fold as idempotent upserts.
func (r *Reconciler[T]) Activate(ctx context.Context) error {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return ErrDeactivated
	}

	sub, items, err := r.open(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		sub.Release()
		return ErrDeactivated
	}
	if r.sub != nil {
		r.sub.Release()
	}
	r.sub = sub
	r.items = items
	r.active = true
	return nil
}

func (r *Reconciler[T]) open(ctx context.Context) (gateway.Subscription, []T, error) {
	sub, err := r.src.Subscribe(ctx, r.cfg.Table, r.cfg.Filters...)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", r.cfg.Table, err)
	}
	rows, err := r.src.Select(ctx, r.cfg.Table, gateway.Query{Filters: r.cfg.Filters, Order: r.cfg.Order})
	if err != nil {
		sub.Release()
		return nil, nil, fmt.Errorf("loading %s: %w", r.cfg.Table, err)
	}
	items := make([]T, 0, len(rows))
	for _, row := range rows {
		item, err := r.cfg.Decode(ctx, row)
		if err != nil {
			r.logDecode(ctx, row, err)
			continue
		}
		items = append(items, item)
	}
	return sub, items, nil
}

// Snapshot returns a copy of the current list.
func (r *Reconciler[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Apply folds one event. It reports false when the event changed nothing.
func (r *Reconciler[T]) Apply(ctx context.Context, ev gateway.ChangeEvent) (Change[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.stopped {
		return Change[T]{}, false
	}
	if !ev.Matches(r.cfg.Table, r.cfg.Filters) {
		return Change[T]{}, false
	}

	switch ev.Type {
	case gateway.EventInsert, gateway.EventUpdate:
		item, err := r.cfg.Decode(ctx, ev.New)
		if err != nil {
			r.logDecode(ctx, ev.New, err)
			// the held copy is stale now; drop it so clients do not keep it
			id := ev.New.ID()
			if !r.remove(id) {
				return Change[T]{}, false
			}
			return Change[T]{Type: ChangeDelete, ID: id}, true
		}
		typ := ChangeInsert
		if ev.Type == gateway.EventUpdate {
			typ = ChangeUpdate
		}
		key := r.cfg.Key(item)
		r.upsert(key, item)
		return Change[T]{Type: typ, ID: key, Record: &item}, true
	case gateway.EventDelete:
		id := ev.Old.ID()
		if !r.remove(id) {
			return Change[T]{}, false
		}
		return Change[T]{Type: ChangeDelete, ID: id}, true
	default:
		return Change[T]{}, false
	}
}

// upsert replaces by key in place or places a new item. Updates for unknown
// keys are placed like inserts.
func (r *Reconciler[T]) upsert(key string, item T) {
	for i := range r.items {
		if r.cfg.Key(r.items[i]) == key {
			r.items[i] = item
			return
		}
	}
	if r.cfg.Placement == Append {
		r.items = append(r.items, item)
		return
	}
	r.items = append([]T{item}, r.items...)
}

func (r *Reconciler[T]) remove(key string) bool {
	for i := range r.items {
		if r.cfg.Key(r.items[i]) == key {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return true
		}
	}
	return false
}

// Next blocks until an event changes the snapshot and returns that change.
// When the feed dropped this subscriber for lagging it resubscribes, reloads
// and returns a resync change.
func (r *Reconciler[T]) Next(ctx context.Context) (Change[T], error) {
	for {
		r.mu.Lock()
		sub, active, stopped := r.sub, r.active, r.stopped
		r.mu.Unlock()
		if stopped {
			return Change[T]{}, ErrDeactivated
		}
		if !active {
			return Change[T]{}, ErrNotActive
		}

		select {
		case <-ctx.Done():
			return Change[T]{}, ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return r.reopen(ctx, sub)
			}
			if change, changed := r.Apply(ctx, ev); changed {
				return change, nil
			}
		}
	}
}

func (r *Reconciler[T]) reopen(ctx context.Context, closed gateway.Subscription) (Change[T], error) {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return Change[T]{}, ErrDeactivated
	}
	if err := closed.Err(); !errors.Is(err, gateway.ErrLagged) {
		if err == nil {
			err = errors.New("subscription closed")
		}
		return Change[T]{}, fmt.Errorf("change feed for %s ended: %w", r.cfg.Table, err)
	}

	r.logg.Warn(r.logg.WithField(ctx, "table", r.cfg.Table), "reconciler lagged, reloading snapshot")
	if err := r.Activate(ctx); err != nil {
		return Change[T]{}, err
	}
	return Change[T]{Type: ChangeResync, Records: r.Snapshot()}, nil
}

// Deactivate releases the subscription. Safe to call more than once; events
// arriving afterwards are ignored.
func (r *Reconciler[T]) Deactivate() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.active = false
	r.stopped = true
	r.mu.Unlock()
	if sub != nil {
		sub.Release()
	}
}

func (r *Reconciler[T]) logDecode(ctx context.Context, row gateway.Row, err error) {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"table":  r.cfg.Table,
		"row_id": row.ID(),
		"error":  err.Error(),
	}), "skipping undecodable row")
}
