package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/internal/gateway/gatewaytest"
	"github.com/angelmondragon/todolimpio-backend/internal/orders"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
)

func newOrdersRouter(t *testing.T) (http.Handler, *gatewaytest.Env) {
	t.Helper()
	env := gatewaytest.New(t)
	svc, err := orders.NewService(env.Store, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Get("/orders", OrderList(svc, nil))
	r.Get("/admin/orders", AdminOrderList(svc, nil))
	r.Patch("/admin/orders/{orderId}/status", AdminOrderUpdateStatus(svc, nil))
	r.Delete("/admin/orders/{orderId}", AdminOrderDelete(svc, nil))
	return r, env
}

func insertOrder(t *testing.T, env *gatewaytest.Env, ownerID string, status enums.OrderStatus, createdAt time.Time) string {
	t.Helper()
	row, err := env.Store.Insert(context.Background(), gateway.TableOrders, orders.Record{
		OwnerID:    ownerID,
		OwnerName:  "ana",
		LocationID: "L1",
		Sheet:      orders.Sheet{Products: []orders.Line{{ProductName: "jabon", Quantity: 1}}},
		Status:     status,
		CreatedAt:  createdAt,
	}.ToRow())
	require.NoError(t, err)
	return row.ID()
}

func TestOrderListScopesToCaller(t *testing.T) {
	router, env := newOrdersRouter(t)
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	mine := insertOrder(t, env, ana.ID, enums.OrderStatusAwaitingConfirmation, now)
	insertOrder(t, env, admin.ID, enums.OrderStatusAwaitingConfirmation, now.Add(time.Minute))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asIdentity(httptest.NewRequest(http.MethodGet, "/orders", nil), ana))
	require.Equal(t, http.StatusOK, resp.Code)
	list := decodeData[[]orders.Record](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, mine, list[0].ID)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, asIdentity(httptest.NewRequest(http.MethodGet, "/admin/orders", nil), admin))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decodeData[[]orders.Record](t, resp), 2)
}

func TestOrderListEmptyIsArray(t *testing.T) {
	router, _ := newOrdersRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asIdentity(httptest.NewRequest(http.MethodGet, "/orders", nil), ana))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"data":[]`)
}

func TestAdminOrderUpdateStatus(t *testing.T) {
	router, env := newOrdersRouter(t)
	id := insertOrder(t, env, ana.ID, enums.OrderStatusAwaitingConfirmation, time.Now().UTC())

	body := `{"estadopedido":"` + string(enums.OrderStatusConfirmed) + `"}`
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asIdentity(httptest.NewRequest(http.MethodPatch, "/admin/orders/"+id+"/status", strings.NewReader(body)), admin))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, enums.OrderStatusConfirmed, decodeData[orders.Record](t, resp).Status)

	// confirmed orders cannot go back to awaiting confirmation
	body = `{"estadopedido":"` + string(enums.OrderStatusAwaitingConfirmation) + `"}`
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, asIdentity(httptest.NewRequest(http.MethodPatch, "/admin/orders/"+id+"/status", strings.NewReader(body)), admin))
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeStateConflict), decodeErrorCode(t, resp))
}

func TestAdminOrderUpdateStatusRejectsUnknownStatus(t *testing.T) {
	router, env := newOrdersRouter(t)
	id := insertOrder(t, env, ana.ID, enums.OrderStatusAwaitingConfirmation, time.Now().UTC())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asIdentity(httptest.NewRequest(http.MethodPatch, "/admin/orders/"+id+"/status", strings.NewReader(`{"estadopedido":"perdido"}`)), admin))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAdminOrderDelete(t *testing.T) {
	router, env := newOrdersRouter(t)
	id := insertOrder(t, env, ana.ID, enums.OrderStatusCancelled, time.Now().UTC())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asIdentity(httptest.NewRequest(http.MethodDelete, "/admin/orders/"+id, nil), admin))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, asIdentity(httptest.NewRequest(http.MethodDelete, "/admin/orders/"+id, nil), admin))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
