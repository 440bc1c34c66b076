package resilience

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"time"
)

// HTTPClient wraps an http.Client with timeout, bounded retry and
// circuit-breaker logic.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
}

// Do executes the request applying retry semantics. The provided request body is
// buffered automatically so it can be replayed. When the breaker is open
// ErrOpenCircuit is returned.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		// default to a closed breaker that never trips
		breaker = NewBreaker(math.MaxInt, 1, time.Second)
	}
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	originalBody, err := bufferRequestBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			break
		}
		attemptReq := cloneRequest(ctx, req, originalBody)
		resp, err := cl.doOnce(ctx, attemptReq)
		if err == nil && resp.StatusCode < 500 {
			breaker.Report(ctx, true)
			return resp, nil
		}
		if err == nil {
			lastErr = errors.New(resp.Status)
			_ = resp.Body.Close()
		} else {
			lastErr = err
		}
		breaker.Report(ctx, false)
		if attempt == maxAttempts {
			break
		}
		sleepFor := Backoff(baseBackoff, attempt, cl.Jitter)
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var callCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	// The attempt context must outlive this call: callers stream resp.Body
	// after Do returns, and cancelling here would abort that read mid-body.
	// Cancellation is deferred to Body.Close instead.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func bufferRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return data, nil
}

func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}
