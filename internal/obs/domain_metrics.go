package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SessionCreateTotal counts checkout session creation attempts against the gateway.
	SessionCreateTotal *prometheus.CounterVec
	// VerificationTotal counts server-side payment verification calls by outcome.
	VerificationTotal *prometheus.CounterVec
	// CallbackTotal counts processed payment callbacks by terminal outcome.
	CallbackTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SessionCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_session_create_total",
			Help:      "Count of hosted checkout session creation outcomes.",
		}, []string{"result"})
		VerificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verification_total",
			Help:      "Count of server-side payment verification outcomes.",
		}, []string{"result"})
		CallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callback_total",
			Help:      "Count of processed payment callbacks by outcome.",
		}, []string{"outcome"})

		registerOrReuse(reg, SessionCreateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SessionCreateTotal = v
			}
		})
		registerOrReuse(reg, VerificationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				VerificationTotal = v
			}
		})
		registerOrReuse(reg, CallbackTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CallbackTotal = v
			}
		})
	})
}
