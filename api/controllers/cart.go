package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/todolimpio-backend/api/responses"
	"github.com/angelmondragon/todolimpio-backend/api/validators"
	"github.com/angelmondragon/todolimpio-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

// CartService is the per-identity cart surface used by the HTTP layer.
type CartService interface {
	Get(ctx context.Context, identityID string) (cart.Cart, error)
	AddItem(ctx context.Context, identityID string, line cart.Line) (cart.Cart, error)
	RemoveItem(ctx context.Context, identityID, productID string) (cart.Cart, error)
	UpdateQuantity(ctx context.Context, identityID, productID string, quantity int) (cart.Cart, error)
	Clear(ctx context.Context, identityID string) error
}

type cartResponse struct {
	Items         []cart.Line `json:"items"`
	TotalQuantity int         `json:"total_quantity"`
}

func newCartResponse(c cart.Cart) cartResponse {
	items := c.Items()
	if items == nil {
		items = []cart.Line{}
	}
	return cartResponse{Items: items, TotalQuantity: c.TotalQuantity()}
}

type addCartItemRequest struct {
	ProductID   string `json:"id" validate:"required"`
	ProductName string `json:"nombreproducto" validate:"required"`
	Quantity    int    `json:"cantidad" validate:"required,min=1,max=100000"`
	Description string `json:"descripcion"`
}

// a quantity of zero or less removes the line
type updateCartItemRequest struct {
	Quantity *int `json:"cantidad" validate:"required,max=100000"`
}

func CartFetch(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := requireIdentity(r.Context(), logg, w)
		if identity == nil {
			return
		}
		c, err := svc.Get(r.Context(), identity.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(c))
	}
}

func CartAddItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := requireIdentity(r.Context(), logg, w)
		if identity == nil {
			return
		}

		var body addCartItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		c, err := svc.AddItem(r.Context(), identity.ID, cart.Line{
			ProductID:   body.ProductID,
			ProductName: body.ProductName,
			Quantity:    body.Quantity,
			Description: body.Description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(c))
	}
}

func CartUpdateItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := requireIdentity(r.Context(), logg, w)
		if identity == nil {
			return
		}
		productID, ok := productIDParam(r, logg, w)
		if !ok {
			return
		}

		var body updateCartItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		c, err := svc.UpdateQuantity(r.Context(), identity.ID, productID, *body.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(c))
	}
}

func CartRemoveItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := requireIdentity(r.Context(), logg, w)
		if identity == nil {
			return
		}
		productID, ok := productIDParam(r, logg, w)
		if !ok {
			return
		}

		c, err := svc.RemoveItem(r.Context(), identity.ID, productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(c))
	}
}

func CartClear(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := requireIdentity(r.Context(), logg, w)
		if identity == nil {
			return
		}
		if err := svc.Clear(r.Context(), identity.ID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart.Cart{}))
	}
}

func productIDParam(r *http.Request, logg *logger.Logger, w http.ResponseWriter) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "productId"))
	if id == "" {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product id is required"))
		return "", false
	}
	return id, true
}
