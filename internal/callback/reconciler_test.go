package callback_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mena-commerce/nbe-checkout/internal/callback"
	"github.com/mena-commerce/nbe-checkout/internal/common"
	"github.com/mena-commerce/nbe-checkout/internal/events"
	"github.com/mena-commerce/nbe-checkout/internal/gateway"
	"github.com/mena-commerce/nbe-checkout/internal/lock"
	"github.com/mena-commerce/nbe-checkout/internal/order"
)

type failingEventStore struct{ err error }

func (s failingEventStore) InsertEvent(context.Context, events.Event) error { return s.err }

type stubOrders struct {
	orders        map[int64]order.Order
	notes         []string
	markPaidCalls int
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
	if note != "" {
		s.notes = append(s.notes, note)
	}
	return nil
}

func (s *stubOrders) MarkPaid(_ context.Context, id int64, note string) (bool, error) {
	s.markPaidCalls++
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
	saved   map[int64]string
	lookups int
}

func (s *stubSessions) Save(_ context.Context, orderID int64, sessionID string) error {
	if s.saved == nil {
		s.saved = map[int64]string{}
	}
	s.saved[orderID] = sessionID
	return nil
}

func (s *stubSessions) Lookup(_ context.Context, orderID int64) (string, bool, error) {
	s.lookups++
	id, ok := s.saved[orderID]
	return id, ok, nil
}

type stubVerifier struct {
	calls   int
	outcome gateway.VerificationOutcome
}

func (s *stubVerifier) VerifyPayment(_ context.Context, _ int64) gateway.VerificationOutcome {
	s.calls++
	return s.outcome
}

func configuredCreds() gateway.Credentials {
	return gateway.Credentials{MerchantID: "MID", APIUsername: "user", APIPassword: "pass", TestMode: true}
}

func newReconciler(t *testing.T, orders *stubOrders, verifier *stubVerifier, creds gateway.Credentials) *callback.Reconciler {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &callback.Reconciler{
		Orders:           orders,
		Sessions:         &stubSessions{},
		Gateway:          verifier,
		Creds:            creds,
		Locker:           lock.Locker{R: client},
		LockTTL:          5 * time.Second,
		CheckoutURL:      "https://shop.example/checkout",
		OrderReceivedURL: "https://shop.example/order-received",
		Logger:           zerolog.Nop(),
	}
}

func TestHandleReturnSuccessfulPayment(t *testing.T) {
	orders := &stubOrders{orders: map[int64]order.Order{
		7: {ID: 7, Status: order.StatusPending},
	}}
	verifier := &stubVerifier{outcome: gateway.VerificationOutcome{Success: true, Result: "SUCCESS"}}
	rec := newReconciler(t, orders, verifier, configuredCreds())

	outcome, err := rec.HandleReturn(context.Background(), callback.Result{OrderID: 7, ResultIndicator: "abc123"})
	require.NoError(t, err)
	require.Equal(t, order.StatusPaid, outcome.Status)
	require.Equal(t, "https://shop.example/order-received", outcome.RedirectURL)

	require.Equal(t, 1, verifier.calls)
	require.Equal(t, order.StatusPaid, orders.orders[7].Status)
	require.Len(t, orders.notes, 1)
	require.Contains(t, orders.notes[0], "Payment completed via NBE.")
	require.Contains(t, orders.notes[0], "abc123")
}

func TestHandleReturnDuplicateCallbackMarksPaidOnce(t *testing.T) {
	orders := &stubOrders{orders: map[int64]order.Order{
		7: {ID: 7, Status: order.StatusPending},
	}}
	verifier := &stubVerifier{outcome: gateway.VerificationOutcome{Success: true, Result: "SUCCESS"}}
	rec := newReconciler(t, orders, verifier, configuredCreds())

	first, err := rec.HandleReturn(context.Background(), callback.Result{OrderID: 7, ResultIndicator: "abc123"})
	require.NoError(t, err)
	second, err := rec.HandleReturn(context.Background(), callback.Result{OrderID: 7, ResultIndicator: "abc123"})
	require.NoError(t, err)

	require.Equal(t, first.RedirectURL, second.RedirectURL)
	// verification is intentionally repeated; the paid transition is not
	require.Equal(t, 2, verifier.calls)
	require.Equal(t, 2, orders.markPaidCalls)
	require.Len(t, orders.notes, 1)
}

func TestHandleReturnSucceedsWhenEventWriteFails(t *testing.T) {
	orders := &stubOrders{orders: map[int64]order.Order{
		7: {ID: 7, Status: order.StatusPending},
	}}
	verifier := &stubVerifier{outcome: gateway.VerificationOutcome{Success: true, Result: "SUCCESS"}}
	rec := newReconciler(t, orders, verifier, configuredCreds())
	rec.Events = &events.Bus{Store: failingEventStore{err: errors.New("insert failed")}}

	outcome, err := rec.HandleReturn(context.Background(), callback.Result{OrderID: 7, ResultIndicator: "abc123"})
	require.NoError(t, err)
	require.Equal(t, order.StatusPaid, outcome.Status)
	require.Equal(t, order.StatusPaid, orders.orders[7].Status)

	// the failed path must also stay resilient to event write errors
	orders.orders[8] = order.Order{ID: 8, Status: order.StatusPending}
	failed, err := rec.HandleReturn(context.Background(), callback.Result{OrderID: 8})
	require.NoError(t, err)
	require.Equal(t, order.StatusFailed, failed.Status)
}

func TestHandleReturnVerificationFailure(t *testing.T) {
	orders := &stubOrders{orders: map[int64]order.Order{
		7: {ID: 7, Status: order.StatusPending},
	}}
	verifier := &stubVerifier{outcome: gateway.VerificationOutcome{Result: "FAILURE", Diagnostic: "gateway result \"FAILURE\""}}
	rec := newReconciler(t, orders, verifier, configuredCreds())

	outcome, err := rec.HandleReturn(context.Background(), callback.Result{OrderID: 7, ResultIndicator: "abc123"})
	require.NoError(t, err)
	require.Equal(t, order.StatusFailed, outcome.Status)
	require.Equal(t, "https://shop.example/checkout", outcome.RedirectURL)

	require.Equal(t, order.StatusFailed, orders.orders[7].Status)
	require.Contains(t, orders.notes, "Payment verification failed or payment was unsuccessful.")
}

func TestHandleReturnMissingIndicatorSkipsVerification(t *testing.T) {
	orders := &stubOrders{orders: map[int64]order.Order{
		7: {ID: 7, Status: order.StatusPending},
	}}
	verifier := &stubVerifier{outcome: gateway.VerificationOutcome{Success: true}}
	rec := newReconciler(t, orders, verifier, configuredCreds())

	outcome, err := rec.HandleReturn(context.Background(), callback.Result{OrderID: 7})
	require.NoError(t, err)
	require.Equal(t, order.StatusFailed, outcome.Status)
	require.Zero(t, verifier.calls)
}

func TestHandleReturnUnknownOrder(t *testing.T) {
	rec := newReconciler(t, &stubOrders{orders: map[int64]order.Order{}}, &stubVerifier{}, configuredCreds())

	_, err := rec.HandleReturn(context.Background(), callback.Result{OrderID: 99, ResultIndicator: "abc"})
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "ORDER_NOT_FOUND", appErr.Code)
}

func TestHandleReturnUnconfiguredGateway(t *testing.T) {
	orders := &stubOrders{orders: map[int64]order.Order{
		7: {ID: 7, Status: order.StatusPending},
	}}
	verifier := &stubVerifier{outcome: gateway.VerificationOutcome{Success: true}}
	rec := newReconciler(t, orders, verifier, gateway.Credentials{})

	outcome, err := rec.HandleReturn(context.Background(), callback.Result{OrderID: 7, ResultIndicator: "abc123"})
	require.NoError(t, err)
	require.Equal(t, order.StatusFailed, outcome.Status)
	require.Zero(t, verifier.calls)

	var found bool
	for _, note := range orders.notes {
		if strings.Contains(note, "gateway is not configured") {
			found = true
		}
	}
	require.True(t, found)
}
