package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Table names a remote table reachable through the gateway.
type Table string

const (
	TableUsers    Table = "usuarios"
	TableProducts Table = "productos"
	TableOrders   Table = "pedidos"
)

// Row is one record keyed by column name.
type Row map[string]any

// ID returns the row's id column as a string, or "" when missing.
func (r Row) ID() string {
	return r.String(ColumnID)
}

// String renders a column value for comparison. Missing columns yield "".
func (r Row) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

const ColumnID = "id"

// Filter is an equality predicate on one column.
type Filter struct {
	Column string
	Value  any
}

func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

// Matches reports whether row satisfies every filter.
func Matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		if row == nil || row.String(f.Column) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

type Order struct {
	Column string
	Desc   bool
}

type Query struct {
	Filters []Filter
	Order   []Order
	Limit   int
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent describes one committed row change. Old is set for UPDATE and
// DELETE, New for INSERT and UPDATE.
type ChangeEvent struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	Table           Table     `json:"table"`
	New             Row       `json:"new,omitempty"`
	Old             Row       `json:"old,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

// RowID returns the id of the changed row.
func (e ChangeEvent) RowID() string {
	if id := e.New.ID(); id != "" {
		return id
	}
	return e.Old.ID()
}

// Matches reports whether the event falls inside a subscription scope.
// Deletes are matched against the old row.
func (e ChangeEvent) Matches(table Table, filters []Filter) bool {
	if e.Table != table {
		return false
	}
	if e.Type == EventDelete {
		return Matches(e.Old, filters)
	}
	return Matches(e.New, filters)
}

// ErrLagged closes a subscription whose consumer fell behind the feed.
var ErrLagged = errors.New("change feed subscription lagged")

// Subscription delivers change events until released. Events is closed when
// the subscription ends; Err then tells why (nil after Release).
type Subscription interface {
	Events() <-chan ChangeEvent
	Release()
	Err() error
}

// Feed is the subscribe side of the gateway.
type Feed interface {
	Subscribe(ctx context.Context, table Table, filters ...Filter) (Subscription, error)
}

// Gateway is the remote data contract used by the domain services.
type Gateway interface {
	Feed
	Select(ctx context.Context, table Table, q Query) ([]Row, error)
	Insert(ctx context.Context, table Table, row Row) (Row, error)
	Update(ctx context.Context, table Table, id string, changes Row) (Row, error)
	Delete(ctx context.Context, table Table, id string) error
}
