// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"fmt"
	"math"
	"time"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
)

// engagementPeriodDays is the lookback window for engagement figures.
const engagementPeriodDays = 30

// Exporter walks stored records in chronological order.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Exporter interface {
	Export(fn func(rec StoredRecord) error) error
}

var _ Exporter = (*BadgerStore)(nil)

// SystemAnalytics is the whole-system view over the interaction log.
type SystemAnalytics struct {
	TotalUsers                     int     `json:"total_users"`
	TotalConversations             int     `json:"total_conversations"`
	TotalInteractions              int     `json:"total_interactions"`
	ActiveUsersToday               int     `json:"active_users_today"`
	WebInteractions                int     `json:"web_interactions"`
	VSCodeInteractions             int     `json:"vscode_interactions"`
	AvgConversationsPerUser        float64 `json:"average_conversations_per_user"`
	AvgInteractionsPerConversation float64 `json:"average_interactions_per_conversation"`
	AvgResponseTimeMS              float64 `json:"average_response_time_ms"`
}

// EngagementAnalytics reports how many users come back for more than one
// conversation inside the lookback period.
type EngagementAnalytics struct {
	PeriodDays           int     `json:"period_days"`
	TotalUsersInPeriod   int     `json:"total_users_in_period"`
	ReturningUsers       int     `json:"returning_users"`
	ReturnRatePercentage float64 `json:"return_rate_percentage"`
}

// Analytics is the aggregate surface served to authenticated staff.
type Analytics struct {
	System     SystemAnalytics     `json:"system_analytics"`
	Engagement EngagementAnalytics `json:"engagement_analytics"`
}

// Summarize computes analytics in one pass over the store. All figures
// derive from anonymized records; no real identity is observable here.
func Summarize(exp Exporter, now time.Time) (Analytics, error) {
	var (
		interactions int
		webCount     int
		vscodeCount  int
		latencySum   int64

		users       = map[string]struct{}{}
		convs       = map[string]struct{}{}
		activeToday = map[string]struct{}{}
		// periodConvs tracks, per user, the conversations they touched
		// inside the engagement window.
		periodConvs = map[string]map[string]struct{}{}
	)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, -engagementPeriodDays)

	err := exp.Export(func(rec StoredRecord) error {
		interactions++
		latencySum += rec.LatencyMS
		users[rec.AnonymousID] = struct{}{}
		convs[rec.ConversationID] = struct{}{}

		switch rec.Platform {
		case extensions.PlatformWeb:
			webCount++
		case extensions.PlatformVSCode:
			vscodeCount++
		}
		if !rec.CreatedAt.Before(dayStart) {
			activeToday[rec.AnonymousID] = struct{}{}
		}
		if !rec.CreatedAt.Before(cutoff) {
			seen, ok := periodConvs[rec.AnonymousID]
			if !ok {
				seen = map[string]struct{}{}
				periodConvs[rec.AnonymousID] = seen
			}
			seen[rec.ConversationID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return Analytics{}, fmt.Errorf("summarize audit store: %w", err)
	}

	returning := 0
	for _, seen := range periodConvs {
		if len(seen) > 1 {
			returning++
		}
	}

	a := Analytics{
		System: SystemAnalytics{
			TotalUsers:         len(users),
			TotalConversations: len(convs),
			TotalInteractions:  interactions,
			ActiveUsersToday:   len(activeToday),
			WebInteractions:    webCount,
			VSCodeInteractions: vscodeCount,
		},
		Engagement: EngagementAnalytics{
			PeriodDays:         engagementPeriodDays,
			TotalUsersInPeriod: len(periodConvs),
			ReturningUsers:     returning,
		},
	}
	if len(users) > 0 {
		a.System.AvgConversationsPerUser = float64(len(convs)) / float64(len(users))
	}
	if len(convs) > 0 {
		a.System.AvgInteractionsPerConversation = float64(interactions) / float64(len(convs))
	}
	if interactions > 0 {
		a.System.AvgResponseTimeMS = float64(latencySum) / float64(interactions)
	}
	if len(periodConvs) > 0 {
		rate := float64(returning) / float64(len(periodConvs)) * 100
		a.Engagement.ReturnRatePercentage = math.Round(rate*100) / 100
	}
	return a, nil
}
