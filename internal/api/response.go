// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package api provides the HTTP surface of the Tabsync server: ticket log
// writes, table occupancy, the add-item approval workflow, notifications,
// and the device websocket.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/models"
)

// Error codes returned in the response envelope.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// respond writes a success envelope.
func respond(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	writeJSON(w, r, statusCode, models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp: time.Now().UTC(),
		},
	})
}

// respondError writes an error envelope.
func respondError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	respondErrorDetails(w, r, statusCode, &models.APIError{Code: code, Message: message})
}

func respondErrorDetails(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *models.APIError) {
	writeJSON(w, r, statusCode, models.APIResponse{
		Status: "error",
		Error:  apiErr,
		Metadata: models.Metadata{
			Timestamp: time.Now().UTC(),
		},
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

// decodeBody parses a JSON request body into dst. Returns false after
// writing the error response when the body is malformed.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "malformed JSON body")
		return false
	}
	return true
}
