package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// StatusRecorder wraps ResponseWriter to capture the status code and body size
// for request logs and metrics.
type StatusRecorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

// NewStatusRecorder constructs a recorder. Handlers that never call
// WriteHeader report 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader stores the status code before delegating.
func (sr *StatusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Write records the number of bytes written.
func (sr *StatusRecorder) Write(p []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(p)
	sr.bytesWritten += int64(n)
	return n, err
}

// Status returns the response status code.
func (sr *StatusRecorder) Status() int { return sr.status }

// BytesWritten returns the number of bytes written to the client.
func (sr *StatusRecorder) BytesWritten() int64 { return sr.bytesWritten }

// matchedRoute resolves the chi route pattern for the request, falling back to
// the raw path. Checkout and payment-page URLs carry order ids, so the pattern
// keeps metric and span cardinality bounded.
func matchedRoute(r *http.Request, fallback string) string {
	if route := RoutePatternFromContext(r.Context()); route != "" {
		return route
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return fallback
}

// RoutePatternMiddleware records the matched route pattern on the request
// context so downstream middleware sees it even after chi unwinds.
func RoutePatternMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if rc := chi.RouteContext(ctx); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				ctx = WithRoutePattern(ctx, pattern)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HTTPObs instruments handlers with the request counter, latency histogram and
// in-flight gauge.
type HTTPObs struct {
	Metrics *HTTPMetrics
}

// Middleware records one observation per request, labelled by method, matched
// route and status.
func (o HTTPObs) Middleware(next http.Handler) http.Handler {
	if o.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := NewStatusRecorder(w)
		o.Metrics.InFlight.Inc()
		start := time.Now()
		next.ServeHTTP(recorder, r)
		o.Metrics.InFlight.Dec()

		route := matchedRoute(r, "unknown")
		o.Metrics.ReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.Status())).Inc()
		o.Metrics.ReqDur.WithLabelValues(r.Method, route).Observe(DurationMillis(time.Since(start)))
	})
}

// TracingMiddleware opens a server span per request. Checkout, payment page
// and callback handlers start child spans off this one.
func TracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("nbe-checkout/http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := matchedRoute(r, r.URL.Path)
		ctx, span := tracer.Start(r.Context(), r.Method+" "+route)
		defer span.End()

		recorder := NewStatusRecorder(w)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("http.target", r.URL.Path),
			attribute.Int("http.status_code", recorder.Status()),
		)
		if recorder.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.Status()))
		}
	})
}
