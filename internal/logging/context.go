// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys for logging.
type contextKey string

const (
	// requestIDKey is the context key for HTTP request IDs.
	requestIDKey contextKey = "request_id"

	// syncIDKey is the context key for sync-pass identifiers.
	syncIDKey contextKey = "sync_id"
)

// GenerateRequestID creates a new unique request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithSyncID returns a new context carrying the sync-log ID of the
// running sync pass. All pipeline stages log with this ID attached.
func ContextWithSyncID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, syncIDKey, id)
}

// SyncIDFromContext retrieves the sync-pass ID from context.
// Returns empty string if not present.
func SyncIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(syncIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with request_id and sync_id automatically added when
// present. This is the recommended way to log inside handlers and pipeline
// stages.
//
//	logging.Ctx(ctx).Info().Msg("Processing request")
func Ctx(ctx context.Context) *zerolog.Logger {
	contextLogger := Logger()

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		contextLogger = contextLogger.With().Str("request_id", requestID).Logger()
	}
	if syncID := SyncIDFromContext(ctx); syncID != "" {
		contextLogger = contextLogger.With().Str("sync_id", syncID).Logger()
	}

	return &contextLogger
}
