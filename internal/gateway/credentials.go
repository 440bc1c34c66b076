package gateway

import "strings"

const (
	testBaseURL = "https://test-nbe.gateway.mastercard.com/"
	liveBaseURL = "https://nbe.gateway.mastercard.com/"

	apiVersion = "57"
)

// Credentials identify the merchant against the NBE gateway. The environment
// flag selects the test or live hostname.
type Credentials struct {
	MerchantID  string
	APIUsername string
	APIPassword string
	TestMode    bool
}

// Configured reports whether all credential fields required for API calls are
// present. An unconfigured gateway blocks both session creation and callback
// verification.
func (c Credentials) Configured() bool {
	return strings.TrimSpace(c.MerchantID) != "" &&
		strings.TrimSpace(c.APIUsername) != "" &&
		c.APIPassword != ""
}

// MissingFields names the credential fields that are absent, for operator logs.
func (c Credentials) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(c.MerchantID) == "" {
		missing = append(missing, "merchant id")
	}
	if strings.TrimSpace(c.APIUsername) == "" {
		missing = append(missing, "api username")
	}
	if c.APIPassword == "" {
		missing = append(missing, "api password")
	}
	return missing
}

// BaseURL returns the gateway host for the configured environment.
func (c Credentials) BaseURL() string {
	if c.TestMode {
		return testBaseURL
	}
	return liveBaseURL
}

// CheckoutScriptURL returns the hosted checkout widget script for the
// configured environment.
func (c Credentials) CheckoutScriptURL() string {
	return c.BaseURL() + "checkout/version/" + apiVersion + "/checkout.js"
}
