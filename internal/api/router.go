// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alpinetrack/pistebridge/internal/logging"
	"github.com/alpinetrack/pistebridge/internal/metrics"
)

// NewRouter wires the HTTP routes and middleware stack.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	if timeout := s.cfg.Server.Timeout; timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	corsOrigins := s.cfg.Server.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	rateReqs := s.cfg.Server.RateLimitReqs
	rateWindow := s.cfg.Server.RateLimitWindow
	if rateReqs <= 0 {
		rateReqs = 100
	}
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	r.Use(httprate.LimitByIP(rateReqs, rateWindow))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealthLive)
		r.Get("/health/live", s.handleHealthLive)
		r.Get("/health/ready", s.handleHealthReady)

		r.Post("/sync", s.handleSync)
		r.Get("/sync/status", s.handleSyncStatus)
		r.Post("/gpx", s.handleGPX)
	})

	return r
}

// requestIDMiddleware tags every request with an ID, honoring one supplied
// by the caller, and echoes it back in the response header.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = logging.GenerateRequestID()
		}
		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// metricsMiddleware records request counts and latency per route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
