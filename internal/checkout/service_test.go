package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/todolimpio-backend/internal/cart"
	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/internal/gateway/gatewaytest"
	"github.com/angelmondragon/todolimpio-backend/internal/orders"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/metrics"
)

var submittedAt = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

var ana = &auth.Identity{
	ID:          "3c9e1a7b-5d2f-4e8a-9b1c-0d2e3f4a5b01",
	DisplayName: "ana",
	LocationID:  "L1",
	Role:        enums.RoleUser,
}

type stubInserter struct {
	calls int
	rows  []gateway.Row
	err   error
	ctxs  []context.Context
}

func (s *stubInserter) Insert(ctx context.Context, _ gateway.Table, row gateway.Row) (gateway.Row, error) {
	s.calls++
	s.ctxs = append(s.ctxs, ctx)
	s.rows = append(s.rows, row)
	if s.err != nil {
		return nil, s.err
	}
	out := row.Clone()
	out["id"] = "order-1"
	return out, nil
}

// clearFailingStorage accepts writes but refuses to delete, which is how an
// empty cart is persisted.
type clearFailingStorage struct {
	*cart.MemoryStorage
}

func (clearFailingStorage) Delete(context.Context, string) error {
	return errors.New("redis down")
}

func newCarts(t *testing.T, storage cart.Storage) *cart.Service {
	t.Helper()
	if storage == nil {
		storage = cart.NewMemoryStorage()
	}
	svc, err := cart.NewService(storage, nil)
	require.NoError(t, err)
	return svc
}

func newTestService(t *testing.T, carts *cart.Service, gw orderInserter, reg prometheus.Registerer) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Carts:   carts,
		Gateway: gw,
		Metrics: metrics.NewCheckoutMetrics(reg),
		Clock:   func() time.Time { return submittedAt },
	})
	require.NoError(t, err)
	return svc
}

func fillCart(t *testing.T, carts *cart.Service) {
	t.Helper()
	ctx := context.Background()
	_, err := carts.AddItem(ctx, ana.ID, cart.Line{ProductID: "p1", ProductName: "Cloro", Quantity: 2})
	require.NoError(t, err)
	_, err = carts.AddItem(ctx, ana.ID, cart.Line{ProductID: "p2", ProductName: "Jabon", Quantity: 1, Description: "neutro"})
	require.NoError(t, err)
}

func TestSubmitInsertsOrderAndClearsCart(t *testing.T) {
	carts := newCarts(t, nil)
	fillCart(t, carts)
	gw := &stubInserter{}
	svc := newTestService(t, carts, gw, nil)

	rec, err := svc.Submit(context.Background(), ana)
	require.NoError(t, err)
	assert.Equal(t, &orders.Record{
		ID:         "order-1",
		OwnerID:    ana.ID,
		OwnerName:  "ana",
		LocationID: "L1",
		Sheet: orders.Sheet{Products: []orders.Line{
			{ProductName: "cloro", Quantity: 2},
			{ProductName: "jabon", Quantity: 1},
		}},
		Status:    enums.OrderStatusAwaitingConfirmation,
		CreatedAt: submittedAt,
	}, rec)

	require.Equal(t, 1, gw.calls)
	_, hasID := gw.rows[0]["id"]
	assert.False(t, hasID)

	current, err := carts.Get(context.Background(), ana.ID)
	require.NoError(t, err)
	assert.True(t, current.IsEmpty())
}

func TestSubmitRejectsEmptyCartWithoutGatewayCall(t *testing.T) {
	gw := &stubInserter{}
	svc := newTestService(t, newCarts(t, nil), gw, nil)

	_, err := svc.Submit(context.Background(), ana)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Zero(t, gw.calls)
}

func TestSubmitRequiresIdentity(t *testing.T) {
	carts := newCarts(t, nil)
	fillCart(t, carts)
	gw := &stubInserter{}
	svc := newTestService(t, carts, gw, nil)

	for _, identity := range []*auth.Identity{nil, {DisplayName: "nobody"}} {
		_, err := svc.Submit(context.Background(), identity)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	}
	assert.Zero(t, gw.calls)
}

func TestSubmitFailureKeepsCart(t *testing.T) {
	carts := newCarts(t, nil)
	fillCart(t, carts)
	gw := &stubInserter{err: &gateway.Error{
		Kind:  gateway.KindUnavailable,
		Op:    "insert",
		Table: gateway.TableOrders,
		Err:   errors.New("connection refused"),
	}}
	svc := newTestService(t, carts, gw, nil)

	_, err := svc.Submit(context.Background(), ana)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
	assert.Equal(t, "order submission failed: connection refused", pkgerrors.As(err).Message())

	current, err := carts.Get(context.Background(), ana.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Len())
}

func TestSubmitInsertOutlivesCancelledContext(t *testing.T) {
	carts := newCarts(t, nil)
	fillCart(t, carts)
	gw := &stubInserter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService(t, carts, &cancellingInserter{inner: gw, cancel: cancel}, nil)

	rec, err := svc.Submit(ctx, ana)
	require.NoError(t, err)
	assert.Equal(t, "order-1", rec.ID)
	require.Len(t, gw.ctxs, 1)
	assert.NoError(t, gw.ctxs[0].Err())

	current, err := carts.Get(context.Background(), ana.ID)
	require.NoError(t, err)
	assert.True(t, current.IsEmpty())
}

// cancellingInserter cancels the request context the moment the insert starts.
type cancellingInserter struct {
	inner  orderInserter
	cancel context.CancelFunc
}

func (c *cancellingInserter) Insert(ctx context.Context, table gateway.Table, row gateway.Row) (gateway.Row, error) {
	c.cancel()
	return c.inner.Insert(ctx, table, row)
}

func TestSubmitReturnsOrderWhenClearFails(t *testing.T) {
	carts := newCarts(t, clearFailingStorage{MemoryStorage: cart.NewMemoryStorage()})
	fillCart(t, carts)
	gw := &stubInserter{}
	svc := newTestService(t, carts, gw, nil)

	rec, err := svc.Submit(context.Background(), ana)
	require.NoError(t, err)
	assert.Equal(t, "order-1", rec.ID)
}

func TestSubmitPublishesInsertEvent(t *testing.T) {
	env := gatewaytest.New(t)
	carts := newCarts(t, nil)
	fillCart(t, carts)
	svc := newTestService(t, carts, env.Store, nil)

	sub, err := env.Hub.Subscribe(context.Background(), gateway.TableOrders, gateway.Eq("usuario_id", ana.ID))
	require.NoError(t, err)
	defer sub.Release()

	rec, err := svc.Submit(context.Background(), ana)
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, gateway.EventInsert, ev.Type)
		assert.Equal(t, rec.ID, ev.RowID())
		decoded, err := orders.NewDecoder(nil).Decode(context.Background(), ev.New)
		require.NoError(t, err)
		assert.Equal(t, rec.Sheet, decoded.Sheet)
		assert.Equal(t, enums.OrderStatusAwaitingConfirmation, decoded.Status)
	case <-time.After(time.Second):
		t.Fatal("expected insert event")
	}
}

func TestSubmitRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	carts := newCarts(t, nil)
	svc := newTestService(t, carts, &stubInserter{}, reg)

	_, _ = svc.Submit(context.Background(), ana)
	fillCart(t, carts)
	_, err := svc.Submit(context.Background(), ana)
	require.NoError(t, err)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "todolimpio_checkout_submissions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" {
					counts[label.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"rejected": 1, "submitted": 1}, counts)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{Gateway: &stubInserter{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Carts: newCarts(t, nil)})
	assert.Error(t, err)
}
