// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

// Package api exposes the HTTP surface: sync and GPX triggers, status,
// health, and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/alpinetrack/pistebridge/internal/logging"
)

// APIResponse is the standard envelope for status and error responses.
// The sync and GPX trigger endpoints return their contract shapes directly
// instead, since callers inspect success/errors from the top level.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

// APIError carries a machine-readable code plus a human-readable message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta carries per-request metadata.
type Meta struct {
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Error codes returned by this API.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeValidation    = "VALIDATION_FAILED"
	ErrCodeConflict      = "SYNC_IN_PROGRESS"
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnprocessable = "UNPROCESSABLE"
)

func newMeta(r *http.Request) *Meta {
	return &Meta{
		RequestID: logging.RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
	}
}

// writeJSON serializes v with the shared JSON codec. Encoding failures are
// logged; headers are already gone at that point.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondData wraps data in the success envelope.
func respondData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta:    newMeta(r),
	})
}

// respondError wraps an error code and message in the envelope.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Meta:    newMeta(r),
	})
}
