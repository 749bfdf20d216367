// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth implements the gateway's concrete authenticators.
//
// # Description
//
// Identity evidence is accepted in a fixed order of preference:
//
//  1. Authorization: Bearer <jwt> - editor extensions holding a token
//     minted by the pairing flow.
//  2. Trusted front-end headers - a reverse proxy or SSO front end
//     asserting the user it already authenticated.
//  3. Authorization: Basic - direct credentials checked against a
//     pluggable verifier.
//
// Each mechanism is its own extensions.Authenticator; Chain composes
// them. Authorization (who may use the tutor at all) is separate and
// lives in the Roster type.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
)

// tokenLifetime is how long a minted bearer token stays valid.
const tokenLifetime = 24 * time.Hour

// =============================================================================
// Token Issuing and Verification
// =============================================================================

// TokenService mints and verifies the gateway's own bearer tokens.
//
// Tokens are HS256 JWTs with subject, platform, and expiry claims. The
// signing secret is shared across gateway replicas; there is no key
// rotation story beyond restarting with a new secret, which invalidates
// outstanding tokens.
//
// # Thread Safety
//
// Safe for concurrent use.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given signing secret.
func NewTokenService(secret []byte) *TokenService {
	return &TokenService{secret: secret}
}

type tokenClaims struct {
	Platform string `json:"platform"`
	jwt.RegisteredClaims
}

// Issue mints a token for subject on platform.
func (s *TokenService) Issue(subject, platform string) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Platform: platform,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning subject and platform.
func (s *TokenService) Verify(raw string) (subject, platform string, err error) {
	var claims tokenClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", "", fmt.Errorf("token missing subject")
	}
	return claims.Subject, claims.Platform, nil
}

// =============================================================================
// Bearer Authenticator
// =============================================================================

// Bearer authenticates Authorization: Bearer headers against the token
// service.
type Bearer struct {
	tokens *TokenService
}

// NewBearer creates a Bearer authenticator.
func NewBearer(tokens *TokenService) *Bearer {
	return &Bearer{tokens: tokens}
}

// Authenticate validates the bearer token, if any.
func (b *Bearer) Authenticate(_ context.Context, r *http.Request) (*extensions.AuthInfo, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, extensions.ErrUnauthorized
	}

	subject, platform, err := b.tokens.Verify(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid bearer token: %w", extensions.ErrUnauthorized)
	}
	if platform == "" {
		platform = extensions.PlatformVSCode
	}
	return &extensions.AuthInfo{Subject: subject, Platform: platform}, nil
}

// bearerToken extracts the token from the Authorization header. The
// scheme comparison is case-insensitive per RFC 7235.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

var _ extensions.Authenticator = (*Bearer)(nil)
