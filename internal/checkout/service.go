// Package checkout drives an order from pending into an open hosted checkout
// session and hands the customer over to the gateway's payment UI.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mena-commerce/nbe-checkout/internal/common"
	"github.com/mena-commerce/nbe-checkout/internal/events"
	"github.com/mena-commerce/nbe-checkout/internal/gateway"
	"github.com/mena-commerce/nbe-checkout/internal/order"
	"github.com/mena-commerce/nbe-checkout/internal/session"
)

// SessionCreator is the slice of the gateway client the orchestrator needs.
type SessionCreator interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (string, error)
}

// Service orchestrates checkout session creation for orders.
type Service struct {
	Orders        order.Store
	Sessions      session.Store
	Gateway       SessionCreator
	Creds         gateway.Credentials
	PublicBaseURL string
	Events        *events.Bus
	Logger        zerolog.Logger
}

// StartResult is the successful outcome of StartCheckout.
type StartResult struct {
	OrderID     int64  `json:"orderId"`
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

// StartCheckout creates a remote checkout session for the order and returns
// the redirect target that presents the hosted payment page. Incomplete
// credentials fail before any gateway traffic. A gateway failure leaves the
// order in pending.
func (s *Service) StartCheckout(ctx context.Context, orderID int64) (StartResult, error) {
	if s == nil || s.Orders == nil || s.Sessions == nil || s.Gateway == nil {
		return StartResult{}, errors.New("checkout: service not configured")
	}
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Checkout.Start")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	if !s.Creds.Configured() {
		s.Logger.Error().Int64("order_id", orderID).Strs("missing", s.Creds.MissingFields()).
			Msg("checkout attempted with unconfigured gateway")
		return StartResult{}, common.NewAppError("CONFIGURATION_ERROR",
			"payment gateway is not properly configured, please contact support",
			http.StatusServiceUnavailable, gateway.ErrNotConfigured)
	}

	ord, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return StartResult{}, common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, err)
		}
		return StartResult{}, err
	}

	if err := s.Orders.UpdateStatus(ctx, ord.ID, order.StatusPending, "Awaiting payment from NBE."); err != nil {
		return StartResult{}, err
	}

	sessionID, err := s.Gateway.CreateSession(ctx, gateway.SessionRequest{
		OrderID:     ord.ID,
		AmountMinor: ord.TotalMinor,
		Currency:    ord.Currency,
		Description: ord.Description(),
		ReturnURL:   s.ReturnURL(ord.ID),
	})
	if err != nil {
		span.RecordError(err)
		s.Logger.Error().Err(err).Int64("order_id", ord.ID).Msg("checkout session creation failed")
		// customer-facing message stays generic; diagnostic detail is logged only
		return StartResult{}, common.NewAppError("GATEWAY_ERROR",
			"payment error: unable to reach the payment gateway, please try again",
			http.StatusBadGateway, err)
	}

	if err := s.Sessions.Save(ctx, ord.ID, sessionID); err != nil {
		return StartResult{}, err
	}

	if s.Events != nil {
		// checkout succeeded at this point; a failed event write is
		// logged, not surfaced to the customer
		if _, err := s.Events.Emit(ctx, events.TopicSessionCreated, ord.ID, map[string]any{
			"orderId":  ord.ID,
			"amount":   ord.AmountString(),
			"currency": ord.Currency,
		}); err != nil {
			s.Logger.Warn().Err(err).Int64("order_id", ord.ID).Msg("record session created event")
		}
	}

	return StartResult{
		OrderID:     ord.ID,
		SessionID:   sessionID,
		RedirectURL: fmt.Sprintf("%s/payments/nbe/pay?order_id=%d&sessionId=%s", s.PublicBaseURL, ord.ID, sessionID),
	}, nil
}

// ReturnURL is the callback endpoint the hosted checkout redirects back to.
func (s *Service) ReturnURL(orderID int64) string {
	return fmt.Sprintf("%s/payments/nbe/return?order_id=%d", s.PublicBaseURL, orderID)
}
