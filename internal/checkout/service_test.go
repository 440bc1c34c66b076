package checkout_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mena-commerce/nbe-checkout/internal/checkout"
	"github.com/mena-commerce/nbe-checkout/internal/common"
	"github.com/mena-commerce/nbe-checkout/internal/events"
	"github.com/mena-commerce/nbe-checkout/internal/gateway"
	"github.com/mena-commerce/nbe-checkout/internal/order"
)

type failingEventStore struct{ err error }

func (s failingEventStore) InsertEvent(context.Context, events.Event) error { return s.err }

type stubOrders struct {
	orders  map[int64]order.Order
	updates []string
	notes   []string
}

func (s *stubOrders) Get(_ context.Context, id int64) (order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (s *stubOrders) UpdateStatus(_ context.Context, id int64, status order.Status, note string) error {
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	s.orders[id] = o
	s.updates = append(s.updates, string(status))
	if note != "" {
		s.notes = append(s.notes, note)
	}
	return nil
}

func (s *stubOrders) MarkPaid(_ context.Context, id int64, note string) (bool, error) {
	o, ok := s.orders[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.Status == order.StatusPaid {
		return false, nil
	}
	o.Status = order.StatusPaid
	s.orders[id] = o
	if note != "" {
		s.notes = append(s.notes, note)
	}
	return true, nil
}

func (s *stubOrders) AddNote(_ context.Context, id int64, note string) error {
	s.notes = append(s.notes, note)
	return nil
}

type stubSessions struct {
	saved map[int64]string
}

func (s *stubSessions) Save(_ context.Context, orderID int64, sessionID string) error {
	if s.saved == nil {
		s.saved = map[int64]string{}
	}
	s.saved[orderID] = sessionID
	return nil
}

func (s *stubSessions) Lookup(_ context.Context, orderID int64) (string, bool, error) {
	id, ok := s.saved[orderID]
	return id, ok, nil
}

type stubCreator struct {
	calls     int
	sessionID string
	err       error
	lastReq   gateway.SessionRequest
}

func (s *stubCreator) CreateSession(_ context.Context, req gateway.SessionRequest) (string, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return "", s.err
	}
	return s.sessionID, nil
}

func configuredCreds() gateway.Credentials {
	return gateway.Credentials{MerchantID: "MID", APIUsername: "user", APIPassword: "pass", TestMode: true}
}

func newService(orders *stubOrders, sessions *stubSessions, creator *stubCreator, creds gateway.Credentials) *checkout.Service {
	return &checkout.Service{
		Orders:        orders,
		Sessions:      sessions,
		Gateway:       creator,
		Creds:         creds,
		PublicBaseURL: "https://shop.example",
		Logger:        zerolog.Nop(),
	}
}

func TestStartCheckoutSuccess(t *testing.T) {
	orders := &stubOrders{orders: map[int64]order.Order{
		7: {ID: 7, TotalMinor: 1999, Currency: "EGP", Status: "new"},
	}}
	sessions := &stubSessions{}
	creator := &stubCreator{sessionID: "SESSION0042"}
	svc := newService(orders, sessions, creator, configuredCreds())

	result, err := svc.StartCheckout(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), result.OrderID)
	require.Equal(t, "SESSION0042", result.SessionID)
	require.Equal(t, "https://shop.example/payments/nbe/pay?order_id=7&sessionId=SESSION0042", result.RedirectURL)

	require.Equal(t, 1, creator.calls)
	require.Equal(t, "19.99", gateway.FormatAmount(creator.lastReq.AmountMinor))
	require.Equal(t, "Order #7", creator.lastReq.Description)
	require.Equal(t, "https://shop.example/payments/nbe/return?order_id=7", creator.lastReq.ReturnURL)

	require.Equal(t, order.StatusPending, orders.orders[7].Status)
	require.Contains(t, orders.notes, "Awaiting payment from NBE.")
	require.Equal(t, "SESSION0042", sessions.saved[7])
}

func TestStartCheckoutUnconfiguredMakesNoGatewayCalls(t *testing.T) {
	orders := &stubOrders{orders: map[int64]order.Order{7: {ID: 7}}}
	creator := &stubCreator{sessionID: "SESSION0042"}
	svc := newService(orders, &stubSessions{}, creator, gateway.Credentials{})

	_, err := svc.StartCheckout(context.Background(), 7)
	require.Error(t, err)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "CONFIGURATION_ERROR", appErr.Code)
	require.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)
	require.Zero(t, creator.calls)
	require.Empty(t, orders.updates)
}

func TestStartCheckoutSucceedsWhenEventWriteFails(t *testing.T) {
	orders := &stubOrders{orders: map[int64]order.Order{
		7: {ID: 7, TotalMinor: 1999, Currency: "EGP"},
	}}
	sessions := &stubSessions{}
	svc := newService(orders, sessions, &stubCreator{sessionID: "SESSION0042"}, configuredCreds())
	svc.Events = &events.Bus{Store: failingEventStore{err: errors.New("insert failed")}}

	result, err := svc.StartCheckout(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "SESSION0042", result.SessionID)
	require.Equal(t, "SESSION0042", sessions.saved[7])
}

func TestStartCheckoutOrderNotFound(t *testing.T) {
	svc := newService(&stubOrders{orders: map[int64]order.Order{}}, &stubSessions{}, &stubCreator{}, configuredCreds())

	_, err := svc.StartCheckout(context.Background(), 99)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "ORDER_NOT_FOUND", appErr.Code)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}

func TestStartCheckoutGatewayFailureLeavesOrderPending(t *testing.T) {
	orders := &stubOrders{orders: map[int64]order.Order{
		7: {ID: 7, TotalMinor: 500, Currency: "EGP"},
	}}
	sessions := &stubSessions{}
	creator := &stubCreator{err: errors.New("connection refused")}
	svc := newService(orders, sessions, creator, configuredCreds())

	_, err := svc.StartCheckout(context.Background(), 7)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "GATEWAY_ERROR", appErr.Code)
	require.Equal(t, http.StatusBadGateway, appErr.HTTPStatus)
	// the opaque upstream detail must not leak into the customer message
	require.NotContains(t, appErr.Message, "connection refused")

	require.Equal(t, order.StatusPending, orders.orders[7].Status)
	require.Empty(t, sessions.saved)
}
