package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/todolimpio-backend/api/controllers"
	"github.com/angelmondragon/todolimpio-backend/api/middleware"
	"github.com/angelmondragon/todolimpio-backend/internal/auth"
	"github.com/angelmondragon/todolimpio-backend/internal/checkout"
	"github.com/angelmondragon/todolimpio-backend/internal/orders"
	"github.com/angelmondragon/todolimpio-backend/internal/products"
	"github.com/angelmondragon/todolimpio-backend/internal/reconciler"
	"github.com/angelmondragon/todolimpio-backend/internal/users"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth/session"
	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
	"github.com/angelmondragon/todolimpio-backend/pkg/metrics"
)

// Deps lists everything the HTTP surface is built from. Nil optional
// dependencies (Idempotency, Limiter, metrics) switch their feature off.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Ready    map[string]controllers.Pinger
	Sessions session.IdentityLookup
	Feed     reconciler.Source

	Idempotency middleware.IdempotencyStore
	Limiter     middleware.WindowLimiter

	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler

	Auth          auth.Service
	AdminRegister auth.AdminRegisterService
	Products      products.Service
	Carts         controllers.CartService
	Checkout      checkout.Service
	Orders        orders.Service
	Users         users.Service
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(d.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	streams := controllers.NewStreamer(d.Feed, cfg.App.CORSOrigins, logg)
	throttle := middleware.NewLoginThrottle(cfg.AuthRateLimit, d.Limiter, logg)
	idempotent := middleware.Idempotency(d.Idempotency, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, d.Ready, logg))
	})
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(throttle.Middleware).Post("/login", controllers.AuthLogin(d.Auth, logg))
		r.Post("/refresh", controllers.AuthRefresh(d.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(d.Auth, cfg.JWT, logg))
	})

	if !cfg.App.IsProd() {
		r.With(idempotent).Post("/api/admin/v1/auth/register", controllers.AdminRegister(d.AdminRegister, logg))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, d.Sessions, logg))
		r.Use(idempotent)

		r.Get("/auth/me", controllers.AuthMe(logg))
		r.Get("/products", controllers.ProductList(d.Products, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(d.Carts, logg))
			r.Delete("/", controllers.CartClear(d.Carts, logg))
			r.Post("/items", controllers.CartAddItem(d.Carts, logg))
			r.Patch("/items/{productId}", controllers.CartUpdateItem(d.Carts, logg))
			r.Delete("/items/{productId}", controllers.CartRemoveItem(d.Carts, logg))
		})

		r.Post("/checkout", controllers.CheckoutSubmit(d.Checkout, logg))

		r.Get("/orders", controllers.OrderList(d.Orders, logg))
		r.Get("/orders/stream", controllers.OrderStream(streams, d.Orders))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.RoleAdmin, logg))

			r.Get("/orders", controllers.AdminOrderList(d.Orders, logg))
			r.Get("/orders/stream", controllers.AdminOrderStream(streams, d.Orders))
			r.Patch("/orders/{orderId}/status", controllers.AdminOrderUpdateStatus(d.Orders, logg))
			r.Delete("/orders/{orderId}", controllers.AdminOrderDelete(d.Orders, logg))

			r.Get("/users", controllers.AdminUserList(d.Users, logg))
			r.Post("/users", controllers.AdminUserCreate(d.Users, logg))
			r.Get("/users/stream", controllers.AdminUserStream(streams, d.Users))
		})
	})

	return r
}
