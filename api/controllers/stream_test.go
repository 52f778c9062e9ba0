package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/internal/gateway/gatewaytest"
	"github.com/angelmondragon/todolimpio-backend/internal/orders"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
)

type orderFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Record  *orders.Record  `json:"record"`
	Records []orders.Record `json:"records"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func serveStream(t *testing.T, handler http.HandlerFunc, identity *auth.Identity) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, asIdentity(r, identity))
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) orderFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame orderFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestOrderStreamSendsSnapshotThenChanges(t *testing.T) {
	env := gatewaytest.New(t)
	svc, err := orders.NewService(env.Store, nil)
	require.NoError(t, err)
	existing := insertOrder(t, env, ana.ID, enums.OrderStatusAwaitingConfirmation, time.Now().UTC())

	conn := serveStream(t, OrderStream(NewStreamer(env.Store, nil, nil), svc), ana)

	snapshot := readFrame(t, conn)
	require.Equal(t, frameSnapshot, snapshot.Type)
	require.Len(t, snapshot.Records, 1)
	assert.Equal(t, existing, snapshot.Records[0].ID)

	// another user's order is outside the scope and never arrives
	insertOrder(t, env, admin.ID, enums.OrderStatusAwaitingConfirmation, time.Now().UTC())
	added := insertOrder(t, env, ana.ID, enums.OrderStatusAwaitingConfirmation, time.Now().UTC())

	frame := readFrame(t, conn)
	assert.Equal(t, "INSERT", frame.Type)
	require.NotNil(t, frame.Record)
	assert.Equal(t, added, frame.Record.ID)

	_, err = svc.UpdateStatus(context.Background(), added, string(enums.OrderStatusConfirmed))
	require.NoError(t, err)
	frame = readFrame(t, conn)
	assert.Equal(t, "UPDATE", frame.Type)
	require.NotNil(t, frame.Record)
	assert.Equal(t, enums.OrderStatusConfirmed, frame.Record.Status)

	require.NoError(t, svc.Delete(context.Background(), existing))
	frame = readFrame(t, conn)
	assert.Equal(t, "DELETE", frame.Type)
	assert.Equal(t, existing, frame.ID)
}

func TestOrderStreamEmptySnapshotCarriesRecords(t *testing.T) {
	env := gatewaytest.New(t)
	svc, err := orders.NewService(env.Store, nil)
	require.NoError(t, err)

	conn := serveStream(t, AdminOrderStream(NewStreamer(env.Store, nil, nil), svc), admin)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"snapshot","records":[]}`, string(raw))
}

func TestStreamReportsInitialLoadFailure(t *testing.T) {
	env := gatewaytest.New(t)
	svc, err := orders.NewService(env.Store, nil)
	require.NoError(t, err)

	conn := serveStream(t, AdminOrderStream(NewStreamer(failingSource{}, nil, nil), svc), admin)

	frame := readFrame(t, conn)
	assert.Equal(t, frameError, frame.Type)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "DEPENDENCY_ERROR", frame.Error.Code)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
}

func TestStreamRejectsMissingIdentityBeforeUpgrade(t *testing.T) {
	env := gatewaytest.New(t)
	svc, err := orders.NewService(env.Store, nil)
	require.NoError(t, err)
	handler := OrderStream(NewStreamer(env.Store, nil, nil), svc)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/orders/stream", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestOriginAllowed(t *testing.T) {
	origins := []string{"https://app.todolimpio.es"}
	assert.True(t, originAllowed(origins, ""))
	assert.True(t, originAllowed(origins, "https://app.todolimpio.es"))
	assert.False(t, originAllowed(origins, "https://evil.example"))
	assert.True(t, originAllowed([]string{"*"}, "https://evil.example"))
}

type failingSource struct{}

func (failingSource) Select(context.Context, gateway.Table, gateway.Query) ([]gateway.Row, error) {
	return nil, errors.New("select unavailable")
}

func (failingSource) Subscribe(context.Context, gateway.Table, ...gateway.Filter) (gateway.Subscription, error) {
	return nil, errors.New("feed unavailable")
}
