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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
)

// pairingTTL bounds how long a pending pairing waits for the browser
// side to complete.
const pairingTTL = 10 * time.Minute

// ErrPairingNotFound is returned for unknown or expired pairing sessions.
var ErrPairingNotFound = errors.New("pairing session not found")

// PairingStatus is the poll state of a pairing session.
type PairingStatus string

const (
	PairingPending  PairingStatus = "pending"
	PairingComplete PairingStatus = "complete"
)

type pairingSession struct {
	subject   string
	status    PairingStatus
	createdAt time.Time
}

// Pairing implements the editor-extension login handshake.
//
// # Description
//
// The extension cannot drive a browser SSO flow itself, so it pairs:
//
//  1. The extension calls Begin and gets a session id plus a login URL
//     to open in the user's browser.
//  2. The browser hits the login URL, authenticates through the normal
//     web path, and the front end calls Complete with the session id.
//  3. The extension polls Claim until the session is complete, at which
//     point it receives a bearer token and the session is deleted.
//
// Sessions are single-use and expire after ten minutes. State is
// in-memory; pairings do not survive a restart, which only costs the
// user a retry.
//
// # Thread Safety
//
// Safe for concurrent use.
type Pairing struct {
	tokens   *TokenService
	loginURL string

	mu       sync.Mutex
	sessions map[string]*pairingSession

	now func() time.Time
}

// NewPairing creates a Pairing service. loginURL is the browser page
// that completes pairings; the session id is appended as a query
// parameter.
func NewPairing(tokens *TokenService, loginURL string) *Pairing {
	return &Pairing{
		tokens:   tokens,
		loginURL: loginURL,
		sessions: make(map[string]*pairingSession),
		now:      time.Now,
	}
}

// Begin opens a new pairing session.
func (p *Pairing) Begin() (sessionID, loginURL string) {
	sessionID = uuid.New().String()

	p.mu.Lock()
	p.prune()
	p.sessions[sessionID] = &pairingSession{status: PairingPending, createdAt: p.now()}
	p.mu.Unlock()

	return sessionID, fmt.Sprintf("%s?pairing_session=%s", p.loginURL, sessionID)
}

// Complete binds an authenticated subject to a pending session.
func (p *Pairing) Complete(sessionID, subject string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok || p.expired(s) {
		return ErrPairingNotFound
	}
	s.subject = subject
	s.status = PairingComplete
	return nil
}

// Claim reports the session status. When the session is complete it
// mints the bearer token and deletes the session, so a token can be
// claimed exactly once.
func (p *Pairing) Claim(sessionID string) (status PairingStatus, token string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok || p.expired(s) {
		return "", "", ErrPairingNotFound
	}
	if s.status != PairingComplete {
		return PairingPending, "", nil
	}

	token, err = p.tokens.Issue(s.subject, extensions.PlatformVSCode)
	if err != nil {
		return "", "", fmt.Errorf("issue pairing token: %w", err)
	}
	delete(p.sessions, sessionID)
	return PairingComplete, token, nil
}

func (p *Pairing) expired(s *pairingSession) bool {
	return p.now().Sub(s.createdAt) > pairingTTL
}

// prune drops expired sessions. Called with the mutex held.
func (p *Pairing) prune() {
	for id, s := range p.sessions {
		if p.expired(s) {
			delete(p.sessions, id)
		}
	}
}
