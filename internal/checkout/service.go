package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/todolimpio-backend/internal/cart"
	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/internal/orders"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
	"github.com/angelmondragon/todolimpio-backend/pkg/metrics"
)

var (
	ErrNotAuthenticated = pkgerrors.New(pkgerrors.CodeValidation, "sign in before submitting an order")
	ErrEmptyCart        = pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
)

type cartConsumer interface {
	Consume(ctx context.Context, identityID string, fn func(ctx context.Context, c cart.Cart) error) error
}

type orderInserter interface {
	Insert(ctx context.Context, table gateway.Table, row gateway.Row) (gateway.Row, error)
}

// Service turns the signed-in identity's cart into an order.
type Service interface {
	Submit(ctx context.Context, identity *auth.Identity) (*orders.Record, error)
}

type ServiceParams struct {
	Carts   cartConsumer
	Gateway orderInserter
	Metrics *metrics.CheckoutMetrics
	Logger  *logger.Logger
	Clock   func() time.Time
}

type service struct {
	carts   cartConsumer
	gw      orderInserter
	metrics *metrics.CheckoutMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &service{
		carts:   params.Carts,
		gw:      params.Gateway,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     params.Clock,
	}, nil
}

// Submit inserts one order built from the whole cart and clears the cart. The
// cart stays untouched when the insert fails. Once the insert has started it
// runs to completion even if ctx is cancelled.
func (s *service) Submit(ctx context.Context, identity *auth.Identity) (*orders.Record, error) {
	started := time.Now()
	if !identity.Valid() {
		s.metrics.Observe(metrics.OutcomeRejected, 0, 0)
		return nil, ErrNotAuthenticated
	}
	ctx = s.logg.WithUserID(ctx, identity.ID)

	var submitted *orders.Record
	err := s.carts.Consume(ctx, identity.ID, func(ctx context.Context, c cart.Cart) error {
		if c.IsEmpty() {
			return ErrEmptyCart
		}
		record := buildRecord(identity, c, s.now())
		row, err := s.gw.Insert(context.WithoutCancel(ctx), gateway.TableOrders, record.ToRow())
		if err != nil {
			return submissionFailed(err)
		}
		if row.ID() == "" {
			return pkgerrors.New(pkgerrors.CodeInternal, "order stored without id")
		}
		record.ID = row.ID()
		submitted = &record
		return nil
	})

	switch {
	case err == nil:
	case submitted != nil && errors.Is(err, cart.ErrClearFailed):
		// the order exists; a stale cart is the lesser problem
		s.logg.Error(s.logg.WithField(ctx, "order_id", submitted.ID), "order submitted but cart not cleared", err)
	case errors.Is(err, ErrEmptyCart):
		s.metrics.Observe(metrics.OutcomeRejected, 0, 0)
		return nil, err
	default:
		s.metrics.Observe(metrics.OutcomeFailed, time.Since(started), 0)
		return nil, err
	}

	s.metrics.Observe(metrics.OutcomeSubmitted, time.Since(started), len(submitted.Sheet.Products))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id": submitted.ID,
		"lines":    len(submitted.Sheet.Products),
	}), "order submitted")
	return submitted, nil
}

func buildRecord(identity *auth.Identity, c cart.Cart, now time.Time) orders.Record {
	items := c.Items()
	lines := make([]orders.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, orders.Line{ProductName: item.ProductName, Quantity: item.Quantity})
	}
	return orders.Record{
		OwnerID:    identity.ID,
		OwnerName:  identity.DisplayName,
		LocationID: identity.LocationID,
		Sheet:      orders.Sheet{Products: lines},
		Status:     enums.OrderStatusAwaitingConfirmation,
		CreatedAt:  now.UTC(),
	}
}

func submissionFailed(err error) error {
	msg := "order submission failed"
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		msg += ": " + gwErr.Message()
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
