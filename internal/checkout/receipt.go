package checkout

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mena-commerce/nbe-checkout/internal/common"
	"github.com/mena-commerce/nbe-checkout/internal/gateway"
	"github.com/mena-commerce/nbe-checkout/internal/order"
	"github.com/mena-commerce/nbe-checkout/internal/session"
)

// paymentPageTpl embeds the gateway's hosted checkout widget. The checkout.js
// callbacks route the customer back into our flow: completion hits the return
// endpoint with the result indicator, cancel and error land back on the cart
// with an advisory status.
var paymentPageTpl = template.Must(template.New("payment").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pay order {{.OrderID}}</title>
<script src="{{.ScriptURL}}"
        data-error="errorCallback"
        data-cancel="cancelCallback"
        data-complete="completeCallback"></script>
<script>
function errorCallback(error) {
	console.error(JSON.stringify(error));
	window.location.href = {{.ErrorURL}};
}
function cancelCallback() {
	window.location.href = {{.CancelURL}};
}
function completeCallback(resultIndicator, sessionVersion) {
	window.location.href = {{.ReturnURL}} + "&resultIndicator=" + encodeURIComponent(resultIndicator);
}
window.addEventListener("load", function () {
	Checkout.configure({
		merchant: {{.MerchantID}},
		session: { id: {{.SessionID}} },
		order: {
			id: {{.OrderIDString}},
			amount: {{.Amount}},
			currency: {{.Currency}},
			description: {{.Description}}
		},
		interaction: {
			operation: "PURCHASE",
			merchant: { name: {{.MerchantName}} }
		}
	});
	Checkout.showPaymentPage();
});
</script>
</head>
<body>
<noscript>JavaScript is required to complete the payment.</noscript>
</body>
</html>
`))

type paymentPageData struct {
	OrderID       int64
	OrderIDString string
	ScriptURL     string
	SessionID     string
	MerchantID    string
	MerchantName  string
	Amount        string
	Currency      string
	Description   string
	ReturnURL     string
	CancelURL     string
	ErrorURL      string
}

// PaymentPage serves the hosted payment page for an order with an open
// checkout session.
type PaymentPage struct {
	Orders       order.Store
	Sessions     session.Store
	Creds        gateway.Credentials
	MerchantName string
	CheckoutURL  string
	ReturnURL    func(orderID int64) string
	Logger       zerolog.Logger
}

// Serve handles GET /payments/nbe/pay?order_id=N&sessionId=S. The session id
// is always taken from the registry; the query parameter is only a hint and a
// mismatch sends the customer back to the cart to restart checkout.
func (p *PaymentPage) Serve(w http.ResponseWriter, r *http.Request) {
	orderID, ok := common.ParseOrderID(r.URL.Query().Get("order_id"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be a positive integer", nil)
		return
	}

	ord, err := p.Orders.Get(r.Context(), orderID)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return
	}

	sessionID, found, err := p.Sessions.Lookup(r.Context(), orderID)
	if err != nil {
		p.Logger.Error().Err(err).Int64("order_id", orderID).Msg("session lookup failed on payment page")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	if !found {
		http.Redirect(w, r, p.CheckoutURL, http.StatusFound)
		return
	}
	if hint := r.URL.Query().Get("sessionId"); hint != "" && hint != sessionID {
		p.Logger.Warn().Int64("order_id", orderID).Msg("payment page session hint does not match registry")
		http.Redirect(w, r, p.CheckoutURL, http.StatusFound)
		return
	}

	data := paymentPageData{
		OrderID:       ord.ID,
		OrderIDString: fmt.Sprintf("%d", ord.ID),
		ScriptURL:     p.Creds.CheckoutScriptURL(),
		SessionID:     sessionID,
		MerchantID:    p.Creds.MerchantID,
		MerchantName:  p.MerchantName,
		Amount:        ord.AmountString(),
		Currency:      ord.Currency,
		Description:   ord.Description(),
		ReturnURL:     p.ReturnURL(ord.ID),
		CancelURL:     fmt.Sprintf("%s?payment_status=cancelled&order_id=%d", p.CheckoutURL, ord.ID),
		ErrorURL:      fmt.Sprintf("%s?payment_status=error&order_id=%d", p.CheckoutURL, ord.ID),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := paymentPageTpl.Execute(w, data); err != nil {
		p.Logger.Error().Err(err).Int64("order_id", orderID).Msg("payment page render failed")
	}
}
