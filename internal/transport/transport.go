// Package transport is the single funnel for KIS trading-gateway calls:
// every request passes the shared rate limiter, carries the auth headers
// and an endpoint tr_id, and comes back as a classified envelope.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"KisBridge/internal/ratelimit"
	"KisBridge/internal/response"
)

// HeaderProvider supplies the credential headers for each request.
type HeaderProvider interface {
	Headers(ctx context.Context) (http.Header, error)
}

const (
	// maxAttempts bounds transport-level retries for transient failures.
	maxAttempts = 5
	// backoffBase is doubled per attempt.
	backoffBase = 500 * time.Millisecond
	// rateRetryDelay is the pause before retrying a page the gateway
	// rejected with its per-second cap.
	rateRetryDelay = 100 * time.Millisecond
)

// Request is one gateway call.
type Request struct {
	Method string
	// Path is the endpoint path including its leading slash; it is
	// appended to the gateway base URL as-is.
	Path string
	// TrID selects the upstream transaction.
	TrID string
	// TrCont is the continuation flag for paged endpoints ("" first
	// page, "N" thereafter).
	TrCont string
	Query  url.Values
	// Body is marshaled as the JSON request body for POST calls.
	Body any
}

// Transport dispatches rate-limited requests against one gateway.
type Transport struct {
	BaseURL string
	Auth    HeaderProvider
	Limiter *ratelimit.Limiter
	Client  *http.Client

	sleep func(time.Duration)
}

// New creates a Transport with a 30s client timeout and optional proxy
// support.
func New(baseURL string, auth HeaderProvider, limiter *ratelimit.Limiter, proxyURL string) *Transport {
	tr := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			tr.Proxy = http.ProxyURL(u)
		}
	}
	return &Transport{
		BaseURL: baseURL,
		Auth:    auth,
		Limiter: limiter,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: tr,
		},
		sleep: time.Sleep,
	}
}

// Do executes the request. Transient transport failures (connection
// errors, 429 and 5xx statuses) are retried with exponential backoff; a
// rate-exceeded envelope retries the same request after a short pause.
// Any other non-success envelope is returned as its classified error.
func (t *Transport) Do(ctx context.Context, req Request) (*response.Envelope, error) {
	for {
		t.Limiter.Admit()

		env, err := t.send(ctx, req)
		if err != nil {
			return nil, err
		}
		if envErr := env.Err(); envErr != nil {
			var rate *response.RateExceededError
			if errors.As(envErr, &rate) {
				log.Printf("[WARN] gateway call rate exceeded, retrying %s", req.Path)
				t.sleep(rateRetryDelay)
				continue
			}
			return nil, envErr
		}
		return env, nil
	}
}

func (t *Transport) send(ctx context.Context, req Request) (*response.Envelope, error) {
	headers, err := t.Auth.Headers(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := backoffBase << uint(attempt-1)
			log.Printf("[WARN] %s %s failed (attempt %d/%d): %v, retrying in %v",
				req.Method, req.Path, attempt, maxAttempts, lastErr, backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := t.build(ctx, req, headers)
		if err != nil {
			return nil, err
		}
		resp, err := t.Client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read %s body: %w", req.Path, err)
			continue
		}
		if retryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("%s %s: status %d", req.Method, req.Path, resp.StatusCode)
			continue
		}
		return response.New(resp.StatusCode, resp.Header, body)
	}
	return nil, fmt.Errorf("all %d attempts exhausted: %w", maxAttempts, lastErr)
}

func (t *Transport) build(ctx context.Context, req Request, headers http.Header) (*http.Request, error) {
	u := t.BaseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", req.Path, err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Path, err)
	}
	httpReq.Header = headers.Clone()
	httpReq.Header.Set("tr_id", req.TrID)
	if req.TrCont != "" {
		httpReq.Header.Set("tr_cont", req.TrCont)
	}
	return httpReq, nil
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
