// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the search backends.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// HTTP 429 responses. Tests override this to avoid real sleeps.
var RetryBaseDelay = 10 * time.Second

const defaultMaxRetries = 5

var (
	errRateLimited = errors.New("rate limited")
	errTransport   = errors.New("transport failure")
)

// DoWithRetry executes an HTTP request and retries on HTTP 429 (Too Many
// Requests) with exponential backoff. The delay starts at RetryBaseDelay
// (10 s) and doubles each attempt: 10 s, 20 s, 40 s, 80 s, 160 s.
//
// When maxRetries is 0 the default (5) is used. On each 429 the response
// body is drained and closed before sleeping. Transport errors are not
// retried. If the context is cancelled during a backoff wait the context
// error is returned. After exhausting retries the last 429 response is
// returned so the caller can inspect it.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	attempts := maxRetries + 1

	r := retry.New[*http.Response](retry.Config{
		MaxAttempts:        attempts,
		InitialDelay:       RetryBaseDelay,
		BackoffPolicy:      retry.BackoffExponential,
		Multiplier:         2.0,
		NonRetryableErrors: []error{errTransport},
	})

	attempt := 0
	var transportErr error
	resp, err := r.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		attempt++
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			transportErr = err
			return nil, errTransport
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= attempts {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, errRateLimited
	})
	switch {
	case err == nil:
		return resp, nil
	case transportErr != nil:
		return nil, transportErr
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
}
