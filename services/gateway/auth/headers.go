// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
)

// Header names accepted from the trusted front end.
const (
	headerRemoteUser      = "X-Remote-User"
	headerFrontendUser    = "X-Frontend-Authenticated"
	headerFrontendDomain  = "X-Frontend-Domain"
	headerDevelopmentMode = "X-Development-Mode"
)

// FrontendHeaders authenticates requests whose identity was established
// by a trusted front end.
//
// # Description
//
// Three header families are accepted:
//
//   - X-Remote-User: set by the SSO reverse proxy sitting directly in
//     front of the gateway. Trusted unconditionally, since the proxy
//     strips the header from client traffic.
//   - X-Frontend-Authenticated plus X-Frontend-Domain: set by a browser
//     front end on another host. Honored only when the asserted domain
//     is in the configured allow list.
//   - X-Development-Mode: names a dev identity. Honored only when the
//     gateway runs in development mode.
//
// All three yield web-platform identities.
//
// # Limitations
//
//   - This authenticator is only sound behind infrastructure that strips
//     these headers from untrusted traffic. Exposing the gateway
//     directly to clients with it enabled is an open door.
type FrontendHeaders struct {
	allowedDomains map[string]bool
	devMode        bool
}

// NewFrontendHeaders creates a FrontendHeaders authenticator.
func NewFrontendHeaders(allowedDomains []string, devMode bool) *FrontendHeaders {
	allowed := make(map[string]bool, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			allowed[d] = true
		}
	}
	return &FrontendHeaders{allowedDomains: allowed, devMode: devMode}
}

// Authenticate checks the header families in trust order.
func (f *FrontendHeaders) Authenticate(_ context.Context, r *http.Request) (*extensions.AuthInfo, error) {
	if user := strings.TrimSpace(r.Header.Get(headerRemoteUser)); user != "" {
		return &extensions.AuthInfo{Subject: user, Platform: extensions.PlatformWeb}, nil
	}

	if user := strings.TrimSpace(r.Header.Get(headerFrontendUser)); user != "" {
		domain := strings.ToLower(strings.TrimSpace(r.Header.Get(headerFrontendDomain)))
		if !f.allowedDomains[domain] {
			return nil, fmt.Errorf("front-end domain %q not allowed: %w", domain, extensions.ErrUnauthorized)
		}
		return &extensions.AuthInfo{Subject: user, Platform: extensions.PlatformWeb}, nil
	}

	if f.devMode {
		if user := strings.TrimSpace(r.Header.Get(headerDevelopmentMode)); user != "" {
			return &extensions.AuthInfo{Subject: user, Platform: extensions.PlatformWeb}, nil
		}
	}

	return nil, extensions.ErrUnauthorized
}

var _ extensions.Authenticator = (*FrontendHeaders)(nil)
