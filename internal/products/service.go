package products

import (
	"context"
	"errors"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
)

// Product is a catalog entry of one location.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"nombreproducto"`
	Description string `json:"descripcion"`
	LocationID  string `json:"identificadorubicacion"`
}

// Service lists the catalog visible to the signed-in user.
type Service interface {
	List(ctx context.Context, identity *auth.Identity) ([]Product, error)
}

type selector interface {
	Select(ctx context.Context, table gateway.Table, q gateway.Query) ([]gateway.Row, error)
}

type service struct {
	gw selector
}

func NewService(gw selector) (Service, error) {
	if gw == nil {
		return nil, errors.New("gateway is required")
	}
	return &service{gw: gw}, nil
}

func (s *service) List(ctx context.Context, identity *auth.Identity) ([]Product, error) {
	if !identity.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required")
	}
	rows, err := s.gw.Select(ctx, gateway.TableProducts, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("identificadorubicacion", identity.LocationID)},
		Order:   []gateway.Order{{Column: "nombreproducto"}},
	})
	if err != nil {
		return nil, gateway.ToAPI(err, "list products")
	}
	out := make([]Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, Product{
			ID:          row.ID(),
			Name:        row.String("nombreproducto"),
			Description: row.String("descripcion"),
			LocationID:  row.String("identificadorubicacion"),
		})
	}
	return out, nil
}
