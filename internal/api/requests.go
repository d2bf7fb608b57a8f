// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// maxRequestBody bounds trigger request bodies.
const maxRequestBody = 1 << 20

// SyncRequest triggers a sync pass. MapID is optional; when omitted, every
// configured map is synced.
type SyncRequest struct {
	MapID    string `json:"mapId" validate:"omitempty,max=128"`
	SyncType string `json:"syncType" validate:"required,oneof=full incremental"`
}

// GPXRequest triggers a GPX derivation for one feature. RunID, when set,
// gets its stored GPX reference updated on success.
type GPXRequest struct {
	MapID     string `json:"mapId" validate:"required,max=128"`
	FeatureID string `json:"featureId" validate:"required,max=128"`
	RunID     string `json:"runId" validate:"omitempty,max=128"`
}

// decodeRequest decodes and validates a JSON request body into dst.
func decodeRequest(r *http.Request, validate *validator.Validate, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxRequestBody)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("validation failed: %s", formatValidationErrors(verrs))
		}
		return err
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}
