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
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
)

func newRequest(t *testing.T, headers map[string]string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

// =============================================================================
// TokenService and Bearer
// =============================================================================

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService([]byte("secret"))

	token, err := svc.Issue("jsmith01", extensions.PlatformVSCode)
	require.NoError(t, err)

	subject, platform, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "jsmith01", subject)
	assert.Equal(t, extensions.PlatformVSCode, platform)
}

func TestTokenService_WrongSecretRejected(t *testing.T) {
	token, err := NewTokenService([]byte("secret-a")).Issue("jsmith01", "vscode")
	require.NoError(t, err)

	_, _, err = NewTokenService([]byte("secret-b")).Verify(token)
	assert.Error(t, err)
}

func TestTokenService_ExpiredRejected(t *testing.T) {
	secret := []byte("secret")
	claims := tokenClaims{
		Platform: extensions.PlatformVSCode,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "jsmith01",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-48 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-24 * time.Hour)),
		},
	}
	stale, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	_, _, err = NewTokenService(secret).Verify(stale)
	assert.Error(t, err)
}

func TestBearer_Authenticate(t *testing.T) {
	svc := NewTokenService([]byte("secret"))
	bearer := NewBearer(svc)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		token, err := svc.Issue("jsmith01", extensions.PlatformVSCode)
		require.NoError(t, err)

		info, err := bearer.Authenticate(ctx, newRequest(t, map[string]string{
			"Authorization": "Bearer " + token,
		}))
		require.NoError(t, err)
		assert.Equal(t, "jsmith01", info.Subject)
		assert.Equal(t, extensions.PlatformVSCode, info.Platform)
	})

	t.Run("missing header declines", func(t *testing.T) {
		_, err := bearer.Authenticate(ctx, newRequest(t, nil))
		assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	})

	t.Run("garbage token declines", func(t *testing.T) {
		_, err := bearer.Authenticate(ctx, newRequest(t, map[string]string{
			"Authorization": "Bearer not.a.jwt",
		}))
		assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	})

	t.Run("case-insensitive scheme", func(t *testing.T) {
		token, _ := svc.Issue("jsmith01", extensions.PlatformVSCode)
		info, err := bearer.Authenticate(ctx, newRequest(t, map[string]string{
			"Authorization": "bearer " + token,
		}))
		require.NoError(t, err)
		assert.Equal(t, "jsmith01", info.Subject)
	})
}

// =============================================================================
// FrontendHeaders
// =============================================================================

func TestFrontendHeaders_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("remote user trusted", func(t *testing.T) {
		f := NewFrontendHeaders(nil, false)
		info, err := f.Authenticate(ctx, newRequest(t, map[string]string{
			"X-Remote-User": "jsmith01",
		}))
		require.NoError(t, err)
		assert.Equal(t, "jsmith01", info.Subject)
		assert.Equal(t, extensions.PlatformWeb, info.Platform)
	})

	t.Run("front-end assertion with allowed domain", func(t *testing.T) {
		f := NewFrontendHeaders([]string{"tutor.example.edu"}, false)
		info, err := f.Authenticate(ctx, newRequest(t, map[string]string{
			"X-Frontend-Authenticated": "mdoe02",
			"X-Frontend-Domain":        "Tutor.Example.EDU",
		}))
		require.NoError(t, err)
		assert.Equal(t, "mdoe02", info.Subject)
	})

	t.Run("front-end assertion with unlisted domain declines", func(t *testing.T) {
		f := NewFrontendHeaders([]string{"tutor.example.edu"}, false)
		_, err := f.Authenticate(ctx, newRequest(t, map[string]string{
			"X-Frontend-Authenticated": "mdoe02",
			"X-Frontend-Domain":        "evil.example.com",
		}))
		assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	})

	t.Run("dev header honored only in dev mode", func(t *testing.T) {
		headers := map[string]string{"X-Development-Mode": "dev-user"}

		_, err := NewFrontendHeaders(nil, false).Authenticate(ctx, newRequest(t, headers))
		assert.ErrorIs(t, err, extensions.ErrUnauthorized)

		info, err := NewFrontendHeaders(nil, true).Authenticate(ctx, newRequest(t, headers))
		require.NoError(t, err)
		assert.Equal(t, "dev-user", info.Subject)
	})
}

// =============================================================================
// Basic
// =============================================================================

func TestBasic_Authenticate(t *testing.T) {
	verifier := NewStaticCredentials(map[string]string{"jsmith01": "hunter2"})
	b := NewBasic(verifier)
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		r := newRequest(t, nil)
		r.SetBasicAuth("jsmith01", "hunter2")
		info, err := b.Authenticate(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, "jsmith01", info.Subject)
		assert.Equal(t, extensions.PlatformWeb, info.Platform)
	})

	t.Run("wrong password declines", func(t *testing.T) {
		r := newRequest(t, nil)
		r.SetBasicAuth("jsmith01", "wrong")
		_, err := b.Authenticate(ctx, r)
		assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	})

	t.Run("unknown user declines", func(t *testing.T) {
		r := newRequest(t, nil)
		r.SetBasicAuth("nobody", "hunter2")
		_, err := b.Authenticate(ctx, r)
		assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	})

	t.Run("no basic header declines", func(t *testing.T) {
		_, err := b.Authenticate(ctx, newRequest(t, nil))
		assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	})
}

// =============================================================================
// Chain
// =============================================================================

type staticAuth struct {
	info *extensions.AuthInfo
	err  error
}

func (s *staticAuth) Authenticate(_ context.Context, _ *http.Request) (*extensions.AuthInfo, error) {
	return s.info, s.err
}

func TestChain_Authenticate(t *testing.T) {
	ctx := context.Background()
	r := httptest.NewRequest(http.MethodPost, "/api", nil)

	t.Run("first success wins", func(t *testing.T) {
		chain := NewChain(
			&staticAuth{err: extensions.ErrUnauthorized},
			&staticAuth{info: &extensions.AuthInfo{Subject: "second"}},
			&staticAuth{info: &extensions.AuthInfo{Subject: "third"}},
		)
		info, err := chain.Authenticate(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, "second", info.Subject)
	})

	t.Run("all decline", func(t *testing.T) {
		chain := NewChain(
			&staticAuth{err: extensions.ErrUnauthorized},
			&staticAuth{err: extensions.ErrUnauthorized},
		)
		_, err := chain.Authenticate(ctx, r)
		assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	})

	t.Run("provider fault aborts chain", func(t *testing.T) {
		fault := errors.New("directory unreachable")
		chain := NewChain(
			&staticAuth{err: fault},
			&staticAuth{info: &extensions.AuthInfo{Subject: "never"}},
		)
		_, err := chain.Authenticate(ctx, r)
		assert.ErrorIs(t, err, fault)
	})
}

// =============================================================================
// Roster
// =============================================================================

func TestRoster(t *testing.T) {
	ctx := context.Background()

	t.Run("csv roster admits members only", func(t *testing.T) {
		r := NewRosterFromList("jsmith01, mdoe02 ,achen03")
		assert.Equal(t, 3, r.Len())
		assert.NoError(t, r.Authorize(ctx, &extensions.AuthInfo{Subject: "mdoe02"}))
		assert.ErrorIs(t, r.Authorize(ctx, &extensions.AuthInfo{Subject: "stranger"}), extensions.ErrForbidden)
	})

	t.Run("empty roster admits everyone", func(t *testing.T) {
		r := NewRosterFromList("")
		assert.NoError(t, r.Authorize(ctx, &extensions.AuthInfo{Subject: "anyone"}))
	})

	t.Run("group file parsing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "groups")
		content := "# course staff\nstaff: prof01 ta02\nstudents: jsmith01 mdoe02\n\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		r, err := NewRosterFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 4, r.Len())
		assert.NoError(t, r.Authorize(ctx, &extensions.AuthInfo{Subject: "ta02"}))
		assert.NoError(t, r.Authorize(ctx, &extensions.AuthInfo{Subject: "jsmith01"}))
		assert.ErrorIs(t, r.Authorize(ctx, &extensions.AuthInfo{Subject: "stranger"}), extensions.ErrForbidden)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := NewRosterFromFile(filepath.Join(t.TempDir(), "absent"))
		assert.Error(t, err)
	})
}

// =============================================================================
// Pairing
// =============================================================================

func TestPairing_Flow(t *testing.T) {
	tokens := NewTokenService([]byte("secret"))
	p := NewPairing(tokens, "https://tutor.example.edu/login")

	sessionID, loginURL := p.Begin()
	assert.NotEmpty(t, sessionID)
	assert.Contains(t, loginURL, "pairing_session="+sessionID)

	status, token, err := p.Claim(sessionID)
	require.NoError(t, err)
	assert.Equal(t, PairingPending, status)
	assert.Empty(t, token)

	require.NoError(t, p.Complete(sessionID, "jsmith01"))

	status, token, err = p.Claim(sessionID)
	require.NoError(t, err)
	assert.Equal(t, PairingComplete, status)

	subject, platform, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "jsmith01", subject)
	assert.Equal(t, extensions.PlatformVSCode, platform)

	// Tokens are claimable exactly once.
	_, _, err = p.Claim(sessionID)
	assert.ErrorIs(t, err, ErrPairingNotFound)
}

func TestPairing_UnknownSession(t *testing.T) {
	p := NewPairing(NewTokenService([]byte("s")), "https://x/login")
	assert.ErrorIs(t, p.Complete("nope", "u"), ErrPairingNotFound)
	_, _, err := p.Claim("nope")
	assert.ErrorIs(t, err, ErrPairingNotFound)
}

func TestPairing_Expiry(t *testing.T) {
	p := NewPairing(NewTokenService([]byte("s")), "https://x/login")
	now := time.Now()
	p.now = func() time.Time { return now }

	sessionID, _ := p.Begin()
	now = now.Add(pairingTTL + time.Minute)

	_, _, err := p.Claim(sessionID)
	assert.ErrorIs(t, err, ErrPairingNotFound)
}
