package controllers

import (
	"net/http"

	"github.com/angelmondragon/todolimpio-backend/api/middleware"
	"github.com/angelmondragon/todolimpio-backend/api/responses"
	"github.com/angelmondragon/todolimpio-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
)

// CheckoutSubmit turns the caller's cart into an order. A missing identity is
// left to the service so it is counted as a rejected submission.
func CheckoutSubmit(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		record, err := svc.Submit(r.Context(), middleware.IdentityFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, record)
	}
}
