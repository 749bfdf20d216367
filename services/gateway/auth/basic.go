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
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
)

// CredentialVerifier checks a username/password pair.
//
// Deployments back this with their directory service. The gateway only
// ships StaticCredentials, which is meant for development and small
// pilots.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) error
}

// Basic authenticates Authorization: Basic headers through a
// CredentialVerifier.
type Basic struct {
	verifier CredentialVerifier
}

// NewBasic creates a Basic authenticator.
func NewBasic(verifier CredentialVerifier) *Basic {
	return &Basic{verifier: verifier}
}

// Authenticate checks basic credentials, if present.
func (b *Basic) Authenticate(ctx context.Context, r *http.Request) (*extensions.AuthInfo, error) {
	username, password, ok := r.BasicAuth()
	if !ok || username == "" {
		return nil, extensions.ErrUnauthorized
	}
	if err := b.verifier.VerifyCredentials(ctx, username, password); err != nil {
		return nil, fmt.Errorf("basic credentials rejected: %w", extensions.ErrUnauthorized)
	}
	return &extensions.AuthInfo{Subject: username, Platform: extensions.PlatformWeb}, nil
}

var _ extensions.Authenticator = (*Basic)(nil)

// StaticCredentials verifies against a fixed in-memory credential map.
type StaticCredentials struct {
	creds map[string]string
}

// NewStaticCredentials creates a StaticCredentials verifier. The map is
// copied.
func NewStaticCredentials(creds map[string]string) *StaticCredentials {
	copied := make(map[string]string, len(creds))
	for k, v := range creds {
		copied[k] = v
	}
	return &StaticCredentials{creds: copied}
}

// VerifyCredentials checks the pair in constant time per candidate.
func (s *StaticCredentials) VerifyCredentials(_ context.Context, username, password string) error {
	want, ok := s.creds[username]
	if !ok {
		// Burn a comparison anyway so unknown and known users take the
		// same path.
		subtle.ConstantTimeCompare([]byte(password), []byte(password))
		return extensions.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(want)) != 1 {
		return extensions.ErrUnauthorized
	}
	return nil
}

var _ CredentialVerifier = (*StaticCredentials)(nil)
