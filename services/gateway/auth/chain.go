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

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
)

// Chain tries authenticators in order and returns the first identity.
//
// An authenticator that returns ErrUnauthorized simply passes the
// request to the next one; any other error aborts the chain, since it
// signals a provider fault rather than absent evidence. When every
// authenticator declines, the chain declines.
type Chain struct {
	authenticators []extensions.Authenticator
}

// NewChain creates a Chain in the given preference order.
func NewChain(authenticators ...extensions.Authenticator) *Chain {
	return &Chain{authenticators: authenticators}
}

// Authenticate walks the chain.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) (*extensions.AuthInfo, error) {
	for _, a := range c.authenticators {
		info, err := a.Authenticate(ctx, r)
		if err == nil {
			return info, nil
		}
		if errors.Is(err, extensions.ErrUnauthorized) {
			continue
		}
		return nil, err
	}
	return nil, extensions.ErrUnauthorized
}

var _ extensions.Authenticator = (*Chain)(nil)
