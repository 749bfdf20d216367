// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
	"github.com/AleutianAI/tutor-gateway/services/gateway/auth"
	"github.com/AleutianAI/tutor-gateway/services/gateway/middleware"
	"github.com/AleutianAI/tutor-gateway/services/gateway/observability"
)

// HandlePairBegin serves POST /api/pair/begin. The editor extension
// calls it unauthenticated to open a pairing session; the user finishes
// the pairing in a browser at the returned login URL.
func HandlePairBegin(pairing *auth.Pairing, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		sessionID, loginURL := pairing.Begin()
		metrics.RecordRequest(observability.EndpointPair, observability.OutcomeOK, time.Since(started))
		c.JSON(http.StatusOK, gin.H{
			"pairing_session": sessionID,
			"login_url":       loginURL,
		})
	}
}

// HandlePairComplete serves POST /api/pair/complete. It runs behind the
// web auth middleware; the authenticated subject is bound to the
// pending session named in the body.
func HandlePairComplete(pairing *auth.Pairing, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		var req struct {
			PairingSession string `json:"pairing_session" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			metrics.RecordRequest(observability.EndpointPair, observability.OutcomeBadRequest, time.Since(started))
			c.JSON(http.StatusBadRequest, gin.H{"error": "pairing_session is required"})
			return
		}

		info := middleware.GetAuthInfo(c)
		if info == nil {
			metrics.RecordRequest(observability.EndpointPair, observability.OutcomeUnauthorized, time.Since(started))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		if err := pairing.Complete(req.PairingSession, info.Subject); err != nil {
			metrics.RecordRequest(observability.EndpointPair, observability.OutcomeBadRequest, time.Since(started))
			c.JSON(http.StatusNotFound, gin.H{"error": "pairing session not found or expired"})
			return
		}
		metrics.RecordRequest(observability.EndpointPair, observability.OutcomeOK, time.Since(started))
		c.JSON(http.StatusOK, gin.H{"status": string(auth.PairingComplete)})
	}
}

// HandlePairClaim serves GET /api/pair/claim. The extension polls it
// with its session id; tokens can be claimed exactly once.
func HandlePairClaim(pairing *auth.Pairing, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		sessionID := c.Query("pairing_session")
		if sessionID == "" {
			metrics.RecordRequest(observability.EndpointPair, observability.OutcomeBadRequest, time.Since(started))
			c.JSON(http.StatusBadRequest, gin.H{"error": "pairing_session is required"})
			return
		}

		status, token, err := pairing.Claim(sessionID)
		if err != nil {
			if errors.Is(err, auth.ErrPairingNotFound) {
				metrics.RecordRequest(observability.EndpointPair, observability.OutcomeBadRequest, time.Since(started))
				c.JSON(http.StatusNotFound, gin.H{"error": "pairing session not found or expired"})
				return
			}
			slog.Error("pairing claim failed", "error", err)
			metrics.RecordRequest(observability.EndpointPair, observability.OutcomeInternal, time.Since(started))
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
			return
		}

		metrics.RecordRequest(observability.EndpointPair, observability.OutcomeOK, time.Since(started))
		if status == auth.PairingPending {
			c.JSON(http.StatusOK, gin.H{"status": string(auth.PairingPending)})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": string(auth.PairingComplete),
			"token":  token,
		})
	}
}

// HandlePairDirect serves POST /api/pair/direct: a bearer token minted
// straight from credentials the auth middleware already verified, for
// setups without a browser in reach.
func HandlePairDirect(tokens *auth.TokenService, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		info := middleware.GetAuthInfo(c)
		if info == nil {
			metrics.RecordRequest(observability.EndpointPair, observability.OutcomeUnauthorized, time.Since(started))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		token, err := tokens.Issue(info.Subject, extensions.PlatformVSCode)
		if err != nil {
			slog.Error("direct pairing token issue failed", "error", err)
			metrics.RecordRequest(observability.EndpointPair, observability.OutcomeInternal, time.Since(started))
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
			return
		}
		metrics.RecordRequest(observability.EndpointPair, observability.OutcomeOK, time.Since(started))
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}
