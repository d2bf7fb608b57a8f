// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package upstream provides the authenticated HTTP client for the external
// mapping API.
//
// The client exposes three operations: full/incremental map state fetches,
// binary media fetches, and feature property pushes. All calls run through
// a circuit breaker and handle HTTP 429 with exponential backoff
// (1s, 2s, 4s, 8s, 16s, max 5 attempts). Failures surface as typed
// *upstream.Error values carrying the HTTP status and response body.
package upstream

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/alpinetrack/pistebridge/internal/logging"
	"github.com/alpinetrack/pistebridge/internal/metrics"
)

// maxErrorBodySize limits how much of a response body is read for error
// reporting, preventing unbounded allocation on large error responses.
const maxErrorBodySize = 64 * 1024

// maxRateLimitRetries bounds the HTTP 429 backoff loop.
const maxRateLimitRetries = 5

// Client defines the upstream mapping API operations used by the pipeline.
// Implemented by HTTPClient for production and by fakes in tests.
type Client interface {
	// FetchMapState fetches the map's feature set. sinceEpochSeconds = 0
	// requests full state; a non-zero value requests changes since that
	// upstream timestamp.
	FetchMapState(ctx context.Context, mapID string, sinceEpochSeconds int64) (*MapState, error)

	// FetchMedia fetches binary media content. Returns the bytes and the
	// declared content type.
	FetchMedia(ctx context.Context, mediaID, sizeVariant string) ([]byte, string, error)

	// PushFeature pushes a property patch to an upstream feature, trying
	// update strategies in fixed priority order; first success wins.
	PushFeature(ctx context.Context, mapID, featureID string, patch FeaturePatch) error
}

// apiResponse is the raw result of one upstream round trip.
type apiResponse struct {
	status      int
	body        []byte
	contentType string
}

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	baseURL       string
	credentialID  string
	credentialKey string
	httpClient    *http.Client
	cb            *gobreaker.CircuitBreaker[*apiResponse]

	// sleep is swappable in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient creates an upstream client for the given base URL.
// Credentials may be empty for unauthenticated upstreams.
func NewHTTPClient(baseURL, credentialID, credentialKey string, timeout time.Duration) *HTTPClient {
	const cbName = "upstream"

	cb := gobreaker.NewCircuitBreaker[*apiResponse](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		// Open when failure rate >= 60% with at least 10 requests
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &HTTPClient{
		baseURL:       baseURL,
		credentialID:  credentialID,
		credentialKey: credentialKey,
		httpClient:    &http.Client{Timeout: timeout},
		cb:            cb,
		sleep:         sleepCtx,
	}
}

// FetchMapState fetches full (since=0) or incremental map state.
func (c *HTTPClient) FetchMapState(ctx context.Context, mapID string, sinceEpochSeconds int64) (*MapState, error) {
	path := fmt.Sprintf("/map/%s/since/%d", mapID, sinceEpochSeconds)
	resp, err := c.do(ctx, "map_state", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var env mapStateEnvelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, &Error{Operation: "map_state", Err: fmt.Errorf("malformed response body: %w", err)}
	}

	return &MapState{
		Features:  env.State.Features,
		Timestamp: env.Timestamp,
	}, nil
}

// FetchMedia fetches binary media content by backend media ID.
func (c *HTTPClient) FetchMedia(ctx context.Context, mediaID, sizeVariant string) ([]byte, string, error) {
	path := fmt.Sprintf("/media/%s/%s", mediaID, sizeVariant)
	resp, err := c.do(ctx, "media", http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	return resp.body, resp.contentType, nil
}

// PushFeature tries the update strategies in priority order. The first
// success wins; if every strategy fails the aggregate error lists each
// attempt's failure reason.
func (c *HTTPClient) PushFeature(ctx context.Context, mapID, featureID string, patch FeaturePatch) error {
	var attempts []AttemptError

	for _, strategy := range updateStrategies {
		body, err := json.Marshal(strategy.body(featureID, patch))
		if err != nil {
			attempts = append(attempts, AttemptError{Strategy: strategy.name, Err: fmt.Errorf("marshal body: %w", err)})
			continue
		}

		_, err = c.do(ctx, "push_feature", strategy.method, strategy.path(mapID, featureID), body)
		if err == nil {
			logging.Ctx(ctx).Debug().
				Str("strategy", strategy.name).
				Str("map_id", mapID).
				Str("feature_id", featureID).
				Msg("Feature update accepted")
			return nil
		}
		attempts = append(attempts, AttemptError{Strategy: strategy.name, Err: err})
	}

	return &StrategyError{Attempts: attempts}
}

// do executes one authenticated request with circuit breaker protection and
// 429 backoff. Returns a typed *Error on any failure.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body []byte) (*apiResponse, error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	for attempt := 0; ; attempt++ {
		resp, err := c.cb.Execute(func() (*apiResponse, error) {
			return c.roundTrip(ctx, method, path, body)
		})
		if err != nil {
			metrics.UpstreamRequests.WithLabelValues(op, "error").Inc()
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				metrics.CircuitBreakerRequests.WithLabelValues("upstream", "rejected").Inc()
				return nil, &Error{Operation: op, Err: err}
			}
			metrics.CircuitBreakerRequests.WithLabelValues("upstream", "failure").Inc()
			var upErr *Error
			if errors.As(err, &upErr) {
				upErr.Operation = op
				return nil, upErr
			}
			return nil, &Error{Operation: op, Err: err}
		}
		metrics.CircuitBreakerRequests.WithLabelValues("upstream", "success").Inc()

		if resp.status == http.StatusTooManyRequests {
			if attempt >= maxRateLimitRetries-1 {
				metrics.UpstreamRequests.WithLabelValues(op, "rate_limited").Inc()
				return nil, &Error{Operation: op, StatusCode: resp.status, Body: string(resp.body)}
			}
			backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s, 4s, 8s, 16s
			logging.Ctx(ctx).Warn().Dur("backoff", backoff).Int("attempt", attempt+1).Msg("Upstream rate limited, backing off")
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, &Error{Operation: op, Err: err}
			}
			continue
		}

		if resp.status < 200 || resp.status > 299 {
			metrics.UpstreamRequests.WithLabelValues(op, strconv.Itoa(resp.status)).Inc()
			return nil, &Error{Operation: op, StatusCode: resp.status, Body: string(resp.body)}
		}

		metrics.UpstreamRequests.WithLabelValues(op, "ok").Inc()
		return resp, nil
	}
}

// roundTrip performs one HTTP request. Transport failures and 5xx responses
// return errors so the circuit breaker counts them; everything else passes
// through as a response.
func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, body []byte) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.sign(req, method, path)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if httpResp.StatusCode >= 500 {
		return nil, &Error{
			StatusCode: httpResp.StatusCode,
			Body:       string(truncateBody(respBody)),
		}
	}

	return &apiResponse{
		status:      httpResp.StatusCode,
		body:        respBody,
		contentType: httpResp.Header.Get("Content-Type"),
	}, nil
}

// sign attaches credential headers when credentials are configured. The
// signature covers the method, path, and an expiry so captured requests
// cannot be replayed indefinitely.
func (c *HTTPClient) sign(req *http.Request, method, path string) {
	if c.credentialID == "" {
		return
	}

	expires := time.Now().Add(2 * time.Minute).UnixMilli()
	payload := fmt.Sprintf("%s %s\n%d", method, path, expires)

	mac := hmac.New(sha256.New, []byte(c.credentialKey))
	mac.Write([]byte(payload))

	req.Header.Set("X-Credential-Id", c.credentialID)
	req.Header.Set("X-Expires", strconv.FormatInt(expires, 10))
	req.Header.Set("X-Signature", base64.URLEncoding.EncodeToString(mac.Sum(nil)))
}

// truncateBody caps error bodies at maxErrorBodySize.
func truncateBody(body []byte) []byte {
	if len(body) <= maxErrorBodySize {
		return body
	}
	return append(body[:maxErrorBodySize:maxErrorBodySize], []byte("\n... (truncated)")...)
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stateToFloat converts circuit breaker state to a metric value.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to a label value.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
