// Package callback reconciles the browser return from the hosted checkout with
// the authoritative payment state held by the gateway. The redirect itself is
// untrusted; the order only moves to paid after a successful server-side
// verification.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mena-commerce/nbe-checkout/internal/common"
	"github.com/mena-commerce/nbe-checkout/internal/events"
	"github.com/mena-commerce/nbe-checkout/internal/gateway"
	"github.com/mena-commerce/nbe-checkout/internal/lock"
	"github.com/mena-commerce/nbe-checkout/internal/obs"
	"github.com/mena-commerce/nbe-checkout/internal/order"
	"github.com/mena-commerce/nbe-checkout/internal/session"
)

// Verifier is the slice of the gateway client the reconciler needs.
type Verifier interface {
	VerifyPayment(ctx context.Context, orderID int64) gateway.VerificationOutcome
}

// Result carries the parameters of a hosted checkout return redirect.
type Result struct {
	OrderID         int64
	ResultIndicator string
}

// Outcome is the terminal state of a processed callback and where to send the
// customer next.
type Outcome struct {
	Status      order.Status
	RedirectURL string
}

// Reconciler processes return callbacks for orders awaiting payment.
type Reconciler struct {
	Orders           order.Store
	Sessions         session.Store
	Gateway          Verifier
	Creds            gateway.Credentials
	Locker           lock.Locker
	LockTTL          time.Duration
	CheckoutURL      string
	OrderReceivedURL string
	Events           *events.Bus
	Logger           zerolog.Logger
}

// HandleReturn reconciles one callback. Concurrent callbacks for the same
// order serialise on a per-order lock, and the conditional paid transition in
// the order store keeps a duplicate from re-applying side effects. The
// returned error is reserved for infrastructure problems; every payment
// outcome, including verification failure, resolves to an Outcome.
func (r *Reconciler) HandleReturn(ctx context.Context, res Result) (Outcome, error) {
	ctx, span := otel.Tracer("callback.Reconciler").Start(ctx, "Callback.HandleReturn")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", res.OrderID))

	if _, err := r.Orders.Get(ctx, res.OrderID); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			r.Logger.Warn().Int64("order_id", res.OrderID).Msg("callback references unknown order")
			return Outcome{}, common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, err)
		}
		return Outcome{}, err
	}

	var outcome Outcome
	err := r.Locker.WithLock(ctx, r.lockKey(res.OrderID), r.LockTTL, func(ctx context.Context) error {
		var lockErr error
		outcome, lockErr = r.reconcile(ctx, res)
		return lockErr
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

func (r *Reconciler) reconcile(ctx context.Context, res Result) (Outcome, error) {
	log := r.Logger.With().Int64("order_id", res.OrderID).Logger()

	// The registry association is informational here: verification is keyed by
	// merchant and order id, not by session id.
	if r.Sessions != nil {
		if sessionID, found, err := r.Sessions.Lookup(ctx, res.OrderID); err != nil {
			log.Warn().Err(err).Msg("session lookup failed during callback")
		} else if found {
			log = log.With().Str("session_sha256", common.Sha256Hex(sessionID)).Logger()
		} else {
			log.Warn().Msg("callback for order with no recorded checkout session")
		}
	}

	if !r.Creds.Configured() {
		log.Error().Strs("missing", r.Creds.MissingFields()).Msg("callback received with unconfigured gateway")
		return r.fail(ctx, res.OrderID, "Payment could not be verified: gateway is not configured.", "config_error")
	}

	// The return redirect carries a result indicator only when the hosted page
	// reported completion. Its absence means the customer came back without
	// paying, so there is nothing to verify.
	if res.ResultIndicator == "" {
		log.Warn().Msg("callback arrived without result indicator")
		return r.fail(ctx, res.OrderID, "Payment verification failed or payment was unsuccessful.", "failed")
	}
	log.Info().Str("indicator_sha256", common.Sha256Hex(res.ResultIndicator)).Msg("processing payment callback")

	verification := r.Gateway.VerifyPayment(ctx, res.OrderID)
	if !verification.Success {
		log.Warn().Str("gateway_result", verification.Result).Str("diagnostic", verification.Diagnostic).
			Msg("payment verification did not succeed")
		return r.fail(ctx, res.OrderID, "Payment verification failed or payment was unsuccessful.", "failed")
	}

	note := fmt.Sprintf("Payment completed via NBE. Transaction ID: %s", res.ResultIndicator)
	performed, err := r.Orders.MarkPaid(ctx, res.OrderID, note)
	if err != nil {
		return Outcome{}, err
	}
	if performed {
		if r.Events != nil {
			if _, err := r.Events.Emit(ctx, events.TopicPaymentCompleted, res.OrderID, map[string]any{
				"orderId": res.OrderID,
				"result":  verification.Result,
			}); err != nil {
				log.Warn().Err(err).Msg("record payment completed event")
			}
		}
		log.Info().Msg("order marked paid")
	} else {
		log.Info().Msg("order already paid, callback is a duplicate")
	}
	r.count("paid")
	return Outcome{Status: order.StatusPaid, RedirectURL: r.OrderReceivedURL}, nil
}

// fail records the failed transition and routes the customer back to checkout.
func (r *Reconciler) fail(ctx context.Context, orderID int64, note, metric string) (Outcome, error) {
	if err := r.Orders.UpdateStatus(ctx, orderID, order.StatusFailed, note); err != nil {
		return Outcome{}, err
	}
	if r.Events != nil {
		if _, err := r.Events.Emit(ctx, events.TopicPaymentFailed, orderID, map[string]any{
			"orderId": orderID,
			"reason":  note,
		}); err != nil {
			r.Logger.Warn().Err(err).Int64("order_id", orderID).Msg("record payment failed event")
		}
	}
	r.count(metric)
	return Outcome{Status: order.StatusFailed, RedirectURL: r.CheckoutURL}, nil
}

func (r *Reconciler) count(outcome string) {
	if obs.CallbackTotal != nil {
		obs.CallbackTotal.WithLabelValues(outcome).Inc()
	}
}

func (r *Reconciler) lockKey(orderID int64) string {
	return fmt.Sprintf("nbe:callback:order:%d", orderID)
}
