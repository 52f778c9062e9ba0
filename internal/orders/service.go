package orders

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/internal/reconciler"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

// Service covers order reads, the administrative writes and the stream
// scopes.
type Service interface {
	ListForUser(ctx context.Context, identity *auth.Identity) ([]Record, error)
	ListAll(ctx context.Context) ([]Record, error)
	UpdateStatus(ctx context.Context, orderID, status string) (*Record, error)
	Delete(ctx context.Context, orderID string) error
	UserScope(identity *auth.Identity) (reconciler.Config[Record], error)
	AdminScope() reconciler.Config[Record]
}

type service struct {
	gw      gateway.Gateway
	decoder *Decoder
	logg    *logger.Logger
}

func NewService(gw gateway.Gateway, logg *logger.Logger) (Service, error) {
	if gw == nil {
		return nil, errors.New("gateway is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{gw: gw, decoder: NewDecoder(logg), logg: logg}, nil
}

var newestFirst = []gateway.Order{{Column: "fechacreacion", Desc: true}}

func (s *service) ListForUser(ctx context.Context, identity *auth.Identity) ([]Record, error) {
	scope, err := s.UserScope(identity)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, scope.Filters)
}

func (s *service) ListAll(ctx context.Context) ([]Record, error) {
	return s.list(ctx, nil)
}

func (s *service) list(ctx context.Context, filters []gateway.Filter) ([]Record, error) {
	rows, err := s.gw.Select(ctx, gateway.TableOrders, gateway.Query{Filters: filters, Order: newestFirst})
	if err != nil {
		return nil, gateway.ToAPI(err, "list orders")
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := s.decoder.Decode(ctx, row)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "skipping undecodable order")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// UpdateStatus moves an order one step along the status chain, or cancels it.
func (s *service) UpdateStatus(ctx context.Context, orderID, status string) (*Record, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	target, err := enums.ParseOrderStatus(status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid estadopedido")
	}

	current, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(target) {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot move order from %q to %q", current.Status, target).
			WithDetails(map[string]any{"from": current.Status, "to": target})
	}

	row, err := s.gw.Update(ctx, gateway.TableOrders, orderID, gateway.Row{"estadopedido": string(target)})
	if err != nil {
		return nil, gateway.ToAPI(err, "update order")
	}
	rec, err := s.decoder.Decode(ctx, row)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode order")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id": orderID,
		"from":     current.Status,
		"to":       target,
	}), "order status updated")
	return &rec, nil
}

func (s *service) Delete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if err := s.gw.Delete(ctx, gateway.TableOrders, orderID); err != nil {
		return gateway.ToAPI(err, "delete order")
	}
	s.logg.Info(s.logg.WithField(ctx, "order_id", orderID), "order deleted")
	return nil
}

func (s *service) get(ctx context.Context, orderID string) (*Record, error) {
	rows, err := s.gw.Select(ctx, gateway.TableOrders, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq(gateway.ColumnID, orderID)},
		Limit:   1,
	})
	if err != nil {
		return nil, gateway.ToAPI(err, "load order")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	rec, err := s.decoder.Decode(ctx, rows[0])
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode order")
	}
	return &rec, nil
}

// UserScope follows one user's orders, newest first.
func (s *service) UserScope(identity *auth.Identity) (reconciler.Config[Record], error) {
	if !identity.Valid() {
		return reconciler.Config[Record]{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required")
	}
	cfg := s.AdminScope()
	cfg.Filters = []gateway.Filter{gateway.Eq("usuario_id", identity.ID)}
	return cfg, nil
}

// AdminScope follows every order, newest first.
func (s *service) AdminScope() reconciler.Config[Record] {
	return reconciler.Config[Record]{
		Table:     gateway.TableOrders,
		Order:     newestFirst,
		Placement: reconciler.Prepend,
		Decode:    s.decoder.Decode,
		Key:       Key,
	}
}
