package checkout

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mena-commerce/nbe-checkout/internal/common"
)

// Handler exposes the checkout orchestration over HTTP.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

// Start handles POST /api/v1/checkout/{orderId}/start. It opens a checkout
// session for the order and returns the redirect target for the hosted
// payment page.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	orderID, ok := common.ParseOrderID(chi.URLParam(r, "orderId"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be a positive integer", nil)
		return
	}

	result, err := h.Svc.StartCheckout(r.Context(), orderID)
	if err != nil {
		if appErr, isApp := common.AsAppError(err); isApp {
			common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
			return
		}
		h.Logger.Error().Err(err).Int64("order_id", orderID).Msg("checkout start failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}

	common.JSON(w, http.StatusOK, result)
}
