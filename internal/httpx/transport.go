// Package httpx holds the outbound HTTP plumbing shared by the API clients:
// client-side rate limiting, request IDs and request logging.
package httpx

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries a fresh UUID on every request for correlation
const RequestIDHeader = "X-Request-Id"

// Transport paces requests through Limiter, stamps each with a request ID
// and logs its outcome at debug level
type Transport struct {
	Base      http.RoundTripper
	Limiter   *rate.Limiter
	Logger    zerolog.Logger
	UserAgent string
}

// NewLimiter returns a limiter allowing perSecond requests with burst, or nil
// when perSecond is not positive
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	req2 := req.Clone(req.Context())
	requestID := uuid.NewString()
	req2.Header.Set(RequestIDHeader, requestID)
	if req2.Header.Get("User-Agent") == "" && t.UserAgent != "" {
		req2.Header.Set("User-Agent", t.UserAgent)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	start := time.Now()
	resp, err := base.RoundTrip(req2)
	event := t.Logger.Debug().
		Str("method", req2.Method).
		Str("path", req2.URL.Path).
		Str("request_id", requestID).
		Dur("elapsed", time.Since(start))
	if err != nil {
		event.Err(err).Msg("request failed")
		return nil, err
	}
	event.Int("status", resp.StatusCode).Msg("request completed")
	return resp, nil
}

// WrapClient returns a copy of base (or a client with timeout when base is
// nil) whose transport is wrapped by t
func WrapClient(base *http.Client, timeout time.Duration, t *Transport) *http.Client {
	out := &http.Client{Timeout: timeout}
	if base != nil {
		out.Timeout = base.Timeout
		out.CheckRedirect = base.CheckRedirect
		out.Jar = base.Jar
		if t.Base == nil {
			t.Base = base.Transport
		}
	}
	out.Transport = t
	return out
}
