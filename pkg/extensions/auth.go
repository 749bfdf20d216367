// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable identity surface of the
// gateway.
//
// The open source gateway ships concrete authenticators for bearer
// tokens, trusted front-end headers, and basic credentials. Deployments
// with their own identity infrastructure implement these interfaces
// instead and wire them in at startup; nothing else in the codebase
// knows which implementation is active.
package extensions

import (
	"context"
	"errors"
	"net/http"
)

// ErrUnauthorized is returned when no acceptable credential is present.
// Maps to HTTP 401.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when the credential is valid but the subject
// is not permitted to use the tutor. Maps to HTTP 403.
var ErrForbidden = errors.New("forbidden")

// Platform label values for AuthInfo.Platform.
const (
	PlatformWeb    = "web"
	PlatformVSCode = "vscode"
)

// AuthInfo is the identity established for one request.
//
// Required fields:
//   - Subject: The unique user id. Never empty on a successful
//     authentication.
//   - Platform: Which client surface the credential came from
//     (PlatformWeb or PlatformVSCode).
//
// Optional fields:
//   - DisplayName: Human-readable name when the credential carries one.
//   - Metadata: Provider-specific claims. Implementations may stash
//     extra claims here without changing this struct.
type AuthInfo struct {
	Subject     string
	Platform    string
	DisplayName string
	Metadata    map[string]string
}

// Authenticator establishes identity from request evidence.
//
// # Description
//
// Authenticate inspects the request's credential headers and returns the
// caller's identity, ErrUnauthorized (possibly wrapped) when no valid
// credential is present, or another error for provider failures. It must
// not read the request body.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*AuthInfo, error)
}

// Authorizer decides whether an authenticated subject may use the tutor.
//
// Returns nil to admit, ErrForbidden (possibly wrapped) to refuse.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Authorizer interface {
	Authorize(ctx context.Context, info *AuthInfo) error
}

// AllowAllAuthorizer admits every authenticated subject. Used when no
// roster is configured.
type AllowAllAuthorizer struct{}

// Authorize always returns nil.
func (AllowAllAuthorizer) Authorize(_ context.Context, _ *AuthInfo) error { return nil }

var _ Authorizer = AllowAllAuthorizer{}
