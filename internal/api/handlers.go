// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alpinetrack/pistebridge/internal/config"
	"github.com/alpinetrack/pistebridge/internal/logging"
	"github.com/alpinetrack/pistebridge/internal/models"
	"github.com/alpinetrack/pistebridge/internal/syncer"
)

// Pinger verifies a storage dependency for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	manager  *syncer.Manager
	db       Pinger
	cfg      *config.Config
	validate *validator.Validate
	started  time.Time
}

// NewServer builds the handler set.
func NewServer(manager *syncer.Manager, db Pinger, cfg *config.Config) *Server {
	return &Server{
		manager:  manager,
		db:       db,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		started:  time.Now().UTC(),
	}
}

// SyncResponse is the sync trigger contract: always HTTP 200, with partial
// failure reported through the errors array rather than the status code.
type SyncResponse struct {
	Success bool             `json:"success"`
	Stats   models.SyncStats `json:"stats"`
	Errors  []string         `json:"errors,omitempty"`
}

// GPXResponse is the GPX trigger contract.
type GPXResponse struct {
	Success   bool      `json:"success"`
	Path      string    `json:"path,omitempty"`
	Checksum  string    `json:"checksum,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Method    string    `json:"method"`
	Error     string    `json:"error,omitempty"`
}

// handleSync triggers a sync pass for one map or for every configured map.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := decodeRequest(r, s.validate, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	mapIDs := []string{req.MapID}
	if req.MapID == "" {
		mapIDs = s.cfg.Sync.MapIDs
	}
	if len(mapIDs) == 0 {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest,
			"mapId is required when no maps are configured")
		return
	}

	resp := SyncResponse{Success: true}
	for _, mapID := range mapIDs {
		log, err := s.manager.Sync(r.Context(), mapID, req.SyncType)
		if errors.Is(err, syncer.ErrSyncInProgress) {
			resp.Success = false
			resp.Errors = append(resp.Errors, "map "+mapID+": sync already in progress")
			continue
		}
		if log != nil {
			resp.Stats.Features += log.Stats.Features
			resp.Stats.Markers += log.Stats.Markers
			resp.Stats.Points += log.Stats.Points
			resp.Stats.Images += log.Stats.Images
			resp.Stats.Folders += log.Stats.Folders
			resp.Stats.Errors += log.Stats.Errors
			resp.Errors = append(resp.Errors, log.Errors...)
		}
		if err != nil {
			resp.Success = false
		}
	}

	// Partial failure is a 200: callers inspect the errors array.
	writeJSON(w, http.StatusOK, resp)
}

// handleGPX derives and caches a GPX document for one feature.
func (s *Server) handleGPX(w http.ResponseWriter, r *http.Request) {
	var req GPXRequest
	if err := decodeRequest(r, s.validate, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	res, err := s.manager.GenerateGPX(r.Context(), req.MapID, req.FeatureID, req.RunID)
	if err != nil {
		logging.Ctx(r.Context()).Warn().
			Str("map_id", req.MapID).
			Str("feature_id", req.FeatureID).
			Err(err).
			Msg("GPX derivation failed")
		writeJSON(w, http.StatusOK, GPXResponse{
			Success: false,
			Method:  res.Method,
			Error:   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, GPXResponse{
		Success:   true,
		Path:      res.Path,
		Checksum:  res.Checksum,
		UpdatedAt: &res.UpdatedAt,
		Method:    res.Method,
	})
}

// handleSyncStatus reports the mirrored maps and recent sync attempts.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Status(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Status query failed")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, "failed to load sync status")
		return
	}
	respondData(w, r, http.StatusOK, report)
}

type healthStatus struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// handleHealthLive reports process liveness.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, healthStatus{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

// handleHealthReady verifies the mirror database connection.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeInternal, "database not ready")
		return
	}
	respondData(w, r, http.StatusOK, healthStatus{
		Status: "ready",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}
