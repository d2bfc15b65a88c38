// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package api

import (
	"errors"
	"net/http"

	"github.com/coverpoint/tabsync/internal/models"
)

// Identity headers set by the external auth collaborator (or the device
// client, on deployments that terminate sessions upstream).
const (
	HeaderUserID        = "X-User-ID"
	HeaderBusinessID    = "X-Business-ID"
	HeaderUserRole      = "X-User-Role"
	HeaderAdminApproval = "X-Admin-Approval"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("missing identity headers")

// Authenticator resolves the acting identity of a request. Session issuance
// and verification live outside Tabsync; this only consumes the result.
type Authenticator interface {
	Authenticate(r *http.Request) (models.Identity, error)
}

// ApprovalVerifier checks an admin-approval token presented by a non-admin
// for a privileged operation. Verification is the external collaborator's
// job; deployments plug their own implementation.
type ApprovalVerifier func(businessID, token string) bool

// HeaderAuthenticator reads the resolved identity from request headers.
type HeaderAuthenticator struct {
	// VerifyApproval validates admin-approval tokens. When nil, any
	// non-empty token is accepted.
	VerifyApproval ApprovalVerifier
}

// Authenticate implements Authenticator.
func (a *HeaderAuthenticator) Authenticate(r *http.Request) (models.Identity, error) {
	userID := r.Header.Get(HeaderUserID)
	businessID := r.Header.Get(HeaderBusinessID)
	if userID == "" || businessID == "" {
		return models.Identity{}, ErrUnauthenticated
	}

	role := models.RoleWaiter
	if models.Role(r.Header.Get(HeaderUserRole)) == models.RoleAdmin {
		role = models.RoleAdmin
	}

	identity := models.Identity{
		UserID:     userID,
		BusinessID: businessID,
		Role:       role,
	}

	if token := r.Header.Get(HeaderAdminApproval); token != "" {
		if a.VerifyApproval == nil || a.VerifyApproval(businessID, token) {
			identity.AdminApproved = true
		}
	}
	return identity, nil
}
