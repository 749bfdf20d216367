// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the gateway.
//
// # Authentication Flow
//
// The auth middleware runs the configured authenticator chain over the
// request's credential headers, then the authorizer over the resulting
// identity, and stores the AuthInfo in the Gin context for handlers.
// Both checks happen before any handler code runs, so a refused request
// never touches conversation state.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
)

// authInfoKey is the Gin context key for the request identity.
const authInfoKey = "tutor_auth_info"

// SetAuthInfo stores the authenticated identity in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated identity, or nil when the
// request did not pass the auth middleware.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if v, exists := c.Get(authInfoKey); exists {
		if info, ok := v.(*extensions.AuthInfo); ok {
			return info
		}
	}
	return nil
}

// Auth creates the authentication and authorization middleware.
//
// # Description
//
// Runs authenticator over the request, then authorizer over the
// identity. Refusals abort with 401 (no usable credential) or 403
// (credential fine, subject not enrolled) and a fixed error string;
// provider faults also map to 401 so callers cannot distinguish them
// from bad credentials.
func Auth(authenticator extensions.Authenticator, authorizer extensions.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := authenticator.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		if err := authorizer.Authorize(c.Request.Context(), info); err != nil {
			if errors.Is(err, extensions.ErrForbidden) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "not authorized for this course",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		SetAuthInfo(c, info)
		c.Next()
	}
}
