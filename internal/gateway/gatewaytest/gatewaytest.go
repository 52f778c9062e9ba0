// Package gatewaytest opens a gateway Store over an in-memory SQLite database
// with a local change feed, for tests of the packages built on the gateway.
package gatewaytest

import (
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/todolimpio-backend/internal/changefeed"
	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	"github.com/angelmondragon/todolimpio-backend/pkg/db"
	"github.com/angelmondragon/todolimpio-backend/pkg/db/models"
)

type Env struct {
	Store *gateway.Store
	Hub   *changefeed.Hub
	Conn  *gorm.DB
}

type Option func(*gateway.StoreParams)

// WithClock fixes the time stamped on change events.
func WithClock(now func() time.Time) Option {
	return func(p *gateway.StoreParams) { p.Clock = now }
}

func New(tb testing.TB, opts ...Option) *Env {
	tb.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	client := db.NewFromGorm(conn, config.DBDriverSQLite)
	tb.Cleanup(func() { _ = client.Close() })

	hub := changefeed.NewHub(16, nil, nil)
	tb.Cleanup(hub.Close)

	params := gateway.StoreParams{
		DB:      client,
		Feed:    hub,
		Emitter: changefeed.NewLocalEmitter(hub),
	}
	for _, opt := range opts {
		opt(&params)
	}
	store, err := gateway.NewStore(params)
	if err != nil {
		tb.Fatalf("new store: %v", err)
	}
	return &Env{Store: store, Hub: hub, Conn: conn}
}
