// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an idle per-subject limiter survives
// before the sweep removes it.
const limiterIdleTTL = 10 * time.Minute

// SubjectLimiter enforces a per-subject request rate.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Limiters are created
// lazily per subject and swept after limiterIdleTTL of inactivity.
type SubjectLimiter struct {
	mu       sync.Mutex
	limiters map[string]*subjectEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type subjectEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSubjectLimiter creates a limiter allowing perMinute requests per
// subject with the given burst. A perMinute of 0 disables limiting.
func NewSubjectLimiter(perMinute int, burst int) *SubjectLimiter {
	var limit rate.Limit
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	} else {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &SubjectLimiter{
		limiters: make(map[string]*subjectEntry),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether the subject may proceed right now.
func (s *SubjectLimiter) Allow(subject string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.limiters[subject]
	if !ok {
		entry = &subjectEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[subject] = entry
		s.sweepLocked(now)
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// sweepLocked drops subjects idle past limiterIdleTTL. Caller holds mu.
func (s *SubjectLimiter) sweepLocked(now time.Time) {
	for subject, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(s.limiters, subject)
		}
	}
}

// RateLimit creates middleware rejecting over-rate subjects with 429.
// It must run after Auth so the subject identity is available;
// requests without an identity are limited under a shared bucket.
// onLimited receives the rejected request's context so rejections can
// be attributed to the route that refused them.
func RateLimit(limiter *SubjectLimiter, onLimited func(c *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := ""
		if info := GetAuthInfo(c); info != nil {
			subject = info.Subject
		}
		if !limiter.Allow(subject) {
			if onLimited != nil {
				onLimited(c)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
