package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mena-commerce/nbe-checkout/internal/common"
)

func TestAppErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	appErr := common.NewAppError("GATEWAY_ERROR", "payment error", http.StatusBadGateway, cause)

	require.ErrorIs(t, appErr, cause)
	wrapped := fmt.Errorf("outer: %w", appErr)
	got, ok := common.AsAppError(wrapped)
	require.True(t, ok)
	require.Equal(t, "GATEWAY_ERROR", got.Code)
	require.Equal(t, http.StatusBadGateway, got.HTTPStatus)
}

func TestAsAppErrorOnPlainError(t *testing.T) {
	_, ok := common.AsAppError(errors.New("plain"))
	require.False(t, ok)
}

func TestJSONErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	common.JSONError(rec, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"error":{"code":"ORDER_NOT_FOUND","message":"order not found"}}`, rec.Body.String())
}

func TestParseOrderID(t *testing.T) {
	v, ok := common.ParseOrderID("42")
	require.True(t, ok)
	require.Equal(t, int64(42), v)

	_, ok = common.ParseOrderID("")
	require.False(t, ok)
	_, ok = common.ParseOrderID("abc")
	require.False(t, ok)
	_, ok = common.ParseOrderID("12.5")
	require.False(t, ok)

	// order ids are positive keys
	_, ok = common.ParseOrderID("0")
	require.False(t, ok)
	_, ok = common.ParseOrderID("-5")
	require.False(t, ok)
}

func TestSha256Hex(t *testing.T) {
	digest := common.Sha256Hex("abc")
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", digest)
	require.NotEqual(t, digest, common.Sha256Hex("abd"))
}
