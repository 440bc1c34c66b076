package callback

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mena-commerce/nbe-checkout/internal/common"
)

// Handler terminates the browser return redirect from the hosted checkout.
type Handler struct {
	Reconciler *Reconciler
	Logger     zerolog.Logger
}

// Return handles GET /payments/nbe/return?order_id=N&resultIndicator=S. The
// customer always leaves with a redirect; only an unknown order or an
// infrastructure failure produces an error response.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	orderID, ok := common.ParseOrderID(query.Get("order_id"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be a positive integer", nil)
		return
	}

	outcome, err := h.Reconciler.HandleReturn(r.Context(), Result{
		OrderID:         orderID,
		ResultIndicator: query.Get("resultIndicator"),
	})
	if err != nil {
		if appErr, isApp := common.AsAppError(err); isApp {
			common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
			return
		}
		h.Logger.Error().Err(err).Int64("order_id", orderID).Msg("callback reconciliation failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}

	http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
}
