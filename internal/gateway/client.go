// Package gateway implements the REST client for the NBE hosted checkout API:
// checkout session creation and the authoritative server-side payment
// verification call.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mena-commerce/nbe-checkout/internal/obs"
	"github.com/mena-commerce/nbe-checkout/internal/resilience"
)

// ErrNotConfigured is returned when an API call is attempted without complete
// credentials.
var ErrNotConfigured = errors.New("gateway: credentials not configured")

// Error wraps a failure while talking to the remote gateway. Session creation
// surfaces it to the caller; verification swallows it into an outcome.
type Error struct {
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Op, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// SessionRequest carries the order fields needed to open a checkout session.
type SessionRequest struct {
	OrderID     int64
	AmountMinor int64
	Currency    string
	Description string
	ReturnURL   string
}

// VerificationOutcome is the result of the server-side payment status check.
// Success is true only when the gateway reported the literal result "SUCCESS";
// every other response, including transport failures, maps to not-success with
// a diagnostic for the operator log.
type VerificationOutcome struct {
	Success    bool
	Result     string
	Diagnostic string
}

// Client issues authenticated calls against the NBE REST API.
type Client struct {
	Creds Credentials
	HTTP  resilience.HTTPClient
	// BaseURL overrides the environment host derived from Creds. Must end with
	// a slash when set.
	BaseURL        string
	SessionTimeout time.Duration
	VerifyTimeout  time.Duration
	Logger         zerolog.Logger
}

// NewClient constructs a gateway client with the source timeouts (45s session
// creation, 30s verification) as defaults.
func NewClient(creds Credentials, httpClient resilience.HTTPClient, logger zerolog.Logger) *Client {
	return &Client{
		Creds:          creds,
		HTTP:           httpClient,
		SessionTimeout: 45 * time.Second,
		VerifyTimeout:  30 * time.Second,
		Logger:         logger,
	}
}

type sessionPayload struct {
	APIOperation string `json:"apiOperation"`
	Interaction  struct {
		Operation string `json:"operation"`
		ReturnURL string `json:"returnUrl"`
	} `json:"interaction"`
	Order struct {
		Amount      string `json:"amount"`
		Currency    string `json:"currency"`
		ID          string `json:"id"`
		Description string `json:"description"`
	} `json:"order"`
}

type sessionResponse struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

// CreateSession opens a hosted checkout session for the order and returns the
// gateway-issued session id. Any transport error, non-JSON body or missing
// session id is reported as a *Error.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (string, error) {
	if !c.Creds.Configured() {
		return "", ErrNotConfigured
	}
	ctx, span := otel.Tracer("gateway.Client").Start(ctx, "Gateway.CreateSession")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", req.OrderID))

	result := "error"
	defer func() {
		if obs.SessionCreateTotal != nil {
			obs.SessionCreateTotal.WithLabelValues(result).Inc()
		}
	}()

	payload := sessionPayload{APIOperation: "CREATE_CHECKOUT_SESSION"}
	payload.Interaction.Operation = "PURCHASE"
	payload.Interaction.ReturnURL = req.ReturnURL
	payload.Order.Amount = FormatAmount(req.AmountMinor)
	payload.Order.Currency = req.Currency
	payload.Order.ID = fmt.Sprintf("%d", req.OrderID)
	payload.Order.Description = req.Description

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Op: "create session", Detail: "encode payload", Err: err}
	}

	url := c.baseURL() + "api/rest/version/" + apiVersion + "/merchant/" + c.Creds.MerchantID + "/session"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return "", &Error{Op: "create session", Detail: "build request", Err: err}
	}
	httpReq.SetBasicAuth(c.Creds.APIUsername, c.Creds.APIPassword)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, httpReq, c.sessionTimeout())
	if err != nil {
		span.RecordError(err)
		return "", &Error{Op: "create session", Detail: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return "", &Error{Op: "create session", Detail: "read response", Err: err}
	}
	var parsed sessionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		span.RecordError(err)
		return "", &Error{Op: "create session", Detail: fmt.Sprintf("invalid response (status %d)", resp.StatusCode), Err: err}
	}
	sessionID := strings.TrimSpace(parsed.Session.ID)
	if sessionID == "" {
		return "", &Error{Op: "create session", Detail: fmt.Sprintf("response missing session id (status %d)", resp.StatusCode)}
	}

	result = "success"
	c.Logger.Info().Int64("order_id", req.OrderID).Msg("checkout session created")
	return sessionID, nil
}

type verifyResponse struct {
	Result string `json:"result"`
}

// VerifyPayment performs the authoritative payment status check for the order.
// It never returns an error: transport failures resolve to a not-success
// outcome carrying the diagnostic.
func (c *Client) VerifyPayment(ctx context.Context, orderID int64) VerificationOutcome {
	if !c.Creds.Configured() {
		return c.record(VerificationOutcome{Diagnostic: "gateway not configured"})
	}
	ctx, span := otel.Tracer("gateway.Client").Start(ctx, "Gateway.VerifyPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	url := fmt.Sprintf("%sapi/rest/version/%s/merchant/%s/order/%d",
		c.baseURL(), apiVersion, c.Creds.MerchantID, orderID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return c.record(VerificationOutcome{Diagnostic: "build request: " + err.Error()})
	}
	httpReq.SetBasicAuth(c.Creds.APIUsername, c.Creds.APIPassword)

	resp, err := c.do(ctx, httpReq, c.verifyTimeout())
	if err != nil {
		span.RecordError(err)
		c.Logger.Warn().Err(err).Int64("order_id", orderID).Msg("payment verification request failed")
		return c.record(VerificationOutcome{Diagnostic: "request failed: " + err.Error()})
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return c.record(VerificationOutcome{Diagnostic: "read response: " + err.Error()})
	}
	var parsed verifyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return c.record(VerificationOutcome{Diagnostic: fmt.Sprintf("invalid response (status %d)", resp.StatusCode)})
	}
	if parsed.Result != "SUCCESS" {
		return c.record(VerificationOutcome{
			Result:     parsed.Result,
			Diagnostic: fmt.Sprintf("gateway result %q (status %d)", parsed.Result, resp.StatusCode),
		})
	}
	return c.record(VerificationOutcome{Success: true, Result: parsed.Result})
}

func (c *Client) record(out VerificationOutcome) VerificationOutcome {
	if obs.VerificationTotal != nil {
		label := "not_success"
		if out.Success {
			label = "success"
		}
		obs.VerificationTotal.WithLabelValues(label).Inc()
	}
	return out
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return c.Creds.BaseURL()
}

func (c *Client) do(ctx context.Context, req *http.Request, timeout time.Duration) (*http.Response, error) {
	h := c.HTTP
	h.Timeout = timeout
	return h.Do(ctx, req)
}

func (c *Client) sessionTimeout() time.Duration {
	if c.SessionTimeout <= 0 {
		return 45 * time.Second
	}
	return c.SessionTimeout
}

func (c *Client) verifyTimeout() time.Duration {
	if c.VerifyTimeout <= 0 {
		return 30 * time.Second
	}
	return c.VerifyTimeout
}

// FormatAmount renders a minor-unit amount as the fixed two-decimal string the
// gateway expects, e.g. 1999 -> "19.99".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
