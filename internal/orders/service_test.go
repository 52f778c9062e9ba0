package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/internal/gateway/gatewaytest"
	"github.com/angelmondragon/todolimpio-backend/internal/reconciler"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
)

const (
	ownerA = "2b7d9c4e-1f0a-4c3b-8e2d-5a6b7c8d9e01"
	ownerB = "2b7d9c4e-1f0a-4c3b-8e2d-5a6b7c8d9e02"
)

var base = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (Service, *gatewaytest.Env) {
	t.Helper()
	env := gatewaytest.New(t)
	svc, err := NewService(env.Store, nil)
	require.NoError(t, err)
	return svc, env
}

func seedOrder(t *testing.T, env *gatewaytest.Env, owner string, status enums.OrderStatus, createdAt time.Time) string {
	t.Helper()
	row, err := env.Store.Insert(context.Background(), gateway.TableOrders, Record{
		OwnerID:    owner,
		OwnerName:  "ana",
		LocationID: "L1",
		Sheet:      Sheet{Products: []Line{{ProductName: "jabon", Quantity: 2}}},
		Status:     status,
		CreatedAt:  createdAt,
	}.ToRow())
	require.NoError(t, err)
	return row.ID()
}

func TestListForUserReturnsOwnOrdersNewestFirst(t *testing.T) {
	svc, env := newTestService(t)
	older := seedOrder(t, env, ownerA, enums.OrderStatusConfirmed, base)
	newer := seedOrder(t, env, ownerA, enums.OrderStatusAwaitingConfirmation, base.Add(time.Hour))
	seedOrder(t, env, ownerB, enums.OrderStatusAwaitingConfirmation, base.Add(2*time.Hour))

	records, err := svc.ListForUser(context.Background(), &auth.Identity{ID: ownerA})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer, records[0].ID)
	assert.Equal(t, older, records[1].ID)
	assert.Equal(t, []Line{{ProductName: "jabon", Quantity: 2}}, records[0].Sheet.Products)
	assert.True(t, records[1].CreatedAt.Equal(base))
}

func TestListForUserRequiresIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ListForUser(context.Background(), nil)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestListAllReturnsEveryOrder(t *testing.T) {
	svc, env := newTestService(t)
	seedOrder(t, env, ownerA, enums.OrderStatusConfirmed, base)
	latest := seedOrder(t, env, ownerB, enums.OrderStatusShipped, base.Add(time.Minute))

	records, err := svc.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, latest, records[0].ID)
}

func TestUpdateStatusFollowsTransitions(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	id := seedOrder(t, env, ownerA, enums.OrderStatusAwaitingConfirmation, base)

	rec, err := svc.UpdateStatus(ctx, id, string(enums.OrderStatusConfirmed))
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, rec.Status)
	assert.Equal(t, ownerA, rec.OwnerID)

	_, err = svc.UpdateStatus(ctx, id, string(enums.OrderStatusDelivered))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	rec, err = svc.UpdateStatus(ctx, id, string(enums.OrderStatusCancelled))
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, rec.Status)

	_, err = svc.UpdateStatus(ctx, id, string(enums.OrderStatusConfirmed))
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestUpdateStatusValidation(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	id := seedOrder(t, env, ownerA, enums.OrderStatusAwaitingConfirmation, base)

	_, err := svc.UpdateStatus(ctx, id, "enviado")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.UpdateStatus(ctx, " ", string(enums.OrderStatusConfirmed))
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.UpdateStatus(ctx, "2b7d9c4e-0000-0000-0000-000000000000", string(enums.OrderStatusConfirmed))
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestUpdateStatusPublishesChange(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	id := seedOrder(t, env, ownerA, enums.OrderStatusAwaitingConfirmation, base)

	sub, err := env.Hub.Subscribe(ctx, gateway.TableOrders, gateway.Eq("usuario_id", ownerA))
	require.NoError(t, err)
	defer sub.Release()

	_, err = svc.UpdateStatus(ctx, id, string(enums.OrderStatusConfirmed))
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, gateway.EventUpdate, ev.Type)
		assert.Equal(t, id, ev.RowID())
		assert.Equal(t, string(enums.OrderStatusConfirmed), ev.New.String("estadopedido"))
		assert.Equal(t, string(enums.OrderStatusAwaitingConfirmation), ev.Old.String("estadopedido"))
	case <-time.After(time.Second):
		t.Fatal("expected an update event")
	}
}

func TestDeleteRemovesOrder(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	id := seedOrder(t, env, ownerA, enums.OrderStatusDelivered, base)

	require.NoError(t, svc.Delete(ctx, id))
	records, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	err = svc.Delete(ctx, id)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestScopes(t *testing.T) {
	svc, _ := newTestService(t)

	admin := svc.AdminScope()
	assert.Equal(t, gateway.TableOrders, admin.Table)
	assert.Empty(t, admin.Filters)
	assert.Equal(t, reconciler.Prepend, admin.Placement)
	assert.Equal(t, []gateway.Order{{Column: "fechacreacion", Desc: true}}, admin.Order)

	user, err := svc.UserScope(&auth.Identity{ID: ownerA})
	require.NoError(t, err)
	assert.Equal(t, []gateway.Filter{gateway.Eq("usuario_id", ownerA)}, user.Filters)
	assert.Equal(t, "o1", user.Key(Record{ID: "o1"}))

	_, err = svc.UserScope(&auth.Identity{})
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestScopeFeedsReconciler(t *testing.T) {
	svc, env := newTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	seedOrder(t, env, ownerA, enums.OrderStatusConfirmed, base)

	scope, err := svc.UserScope(&auth.Identity{ID: ownerA})
	require.NoError(t, err)
	rec, err := reconciler.New(env.Store, scope, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Activate(ctx))
	defer rec.Deactivate()
	require.Len(t, rec.Snapshot(), 1)

	fresh := seedOrder(t, env, ownerA, enums.OrderStatusAwaitingConfirmation, base.Add(time.Hour))
	seedOrder(t, env, ownerB, enums.OrderStatusAwaitingConfirmation, base.Add(time.Hour))

	change, err := rec.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, reconciler.ChangeInsert, change.Type)
	snapshot := rec.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, fresh, snapshot[0].ID)
}

func TestReplayedStatusUpdateConverges(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	id := seedOrder(t, env, ownerA, enums.OrderStatusAwaitingConfirmation, base)

	rec, err := reconciler.New(env.Store, svc.AdminScope(), nil)
	require.NoError(t, err)
	require.NoError(t, rec.Activate(ctx))
	defer rec.Deactivate()
	require.Len(t, rec.Snapshot(), 1)

	row := Record{
		OwnerID:    ownerA,
		OwnerName:  "ana",
		LocationID: "L1",
		Sheet:      Sheet{Products: []Line{{ProductName: "jabon", Quantity: 2}}},
		Status:     enums.OrderStatusConfirmed,
		CreatedAt:  base,
	}.ToRow()
	row["id"] = id
	update := gateway.ChangeEvent{ID: "evt-1", Type: gateway.EventUpdate, Table: gateway.TableOrders, New: row}

	_, ok := rec.Apply(ctx, update)
	require.True(t, ok)
	once := rec.Snapshot()
	_, ok = rec.Apply(ctx, update)
	require.True(t, ok)
	twice := rec.Snapshot()

	assert.Equal(t, once, twice)
	require.Len(t, twice, 1)
	assert.Equal(t, id, twice[0].ID)
	assert.Equal(t, enums.OrderStatusConfirmed, twice[0].Status)
}

func TestUndecodableUpdateDropsStaleOrder(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	id := seedOrder(t, env, ownerA, enums.OrderStatusAwaitingConfirmation, base)

	rec, err := reconciler.New(env.Store, svc.AdminScope(), nil)
	require.NoError(t, err)
	require.NoError(t, rec.Activate(ctx))
	defer rec.Deactivate()

	row := gateway.Row{"id": id, "usuario_id": ownerA, "estadopedido": string(enums.OrderStatusConfirmed), "fechacreacion": "yesterday"}
	change, ok := rec.Apply(ctx, gateway.ChangeEvent{ID: "evt-2", Type: gateway.EventUpdate, Table: gateway.TableOrders, New: row})
	require.True(t, ok)
	assert.Equal(t, reconciler.ChangeDelete, change.Type)
	assert.Equal(t, id, change.ID)
	assert.Empty(t, rec.Snapshot())
}
