// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"fmt"
	"strings"
)

// renderPreamble introduces the accumulated context block inside the
// system prompt. The wording is part of the prompt contract; changing it
// changes model behavior, so it stays a single fixed constant.
const renderPreamble = "The following course material has been retrieved for this conversation. " +
	"Cite it by its numbered labels when it supports your answer."

// =============================================================================
// ContextLog
// =============================================================================

// ContextLog is the append-only record of retrieved passage groups for one
// conversation.
//
// # Description
//
// Every retrieval that returns results is merged into the log in arrival
// order. Groups are never deduplicated, reordered, or removed: if the same
// document is retrieved in two different turns it appears twice, under two
// labels. Tutors reference earlier labels in later turns, so stability of
// numbering matters more than compactness.
//
// # Thread Safety
//
// Not safe for concurrent use. Access is serialized by the owning
// conversation's exchange lock.
type ContextLog struct {
	groups []RetrievedGroup
}

// Merge appends the given groups, preserving their order.
//
// Duplicates of already-logged groups are appended as new entries.
func (l *ContextLog) Merge(groups []RetrievedGroup) {
	l.groups = append(l.groups, groups...)
}

// Len reports the number of logged groups.
func (l *ContextLog) Len() int {
	return len(l.groups)
}

// Groups returns a copy of the logged groups in append order.
func (l *ContextLog) Groups() []RetrievedGroup {
	out := make([]RetrievedGroup, len(l.groups))
	copy(out, l.groups)
	return out
}

// Render produces the numbered context block for the system prompt.
//
// # Description
//
// An empty log renders to the empty string. A non-empty log renders to the
// fixed preamble, a blank line, and one block per group:
//
//	#1 Lecture 5: Sorting
//	#1.1 Merge sort splits the input...
//	#1.2 The recurrence T(n) = 2T(n/2) + n...
//	#2 Problem Set 3
//	#2.1 ...
//
// Rendering is pure: it reads only the log, so rendering twice without an
// intervening Merge gives identical output, and rendering after a Merge
// yields the previous rendering plus the new groups' lines.
func (l *ContextLog) Render() string {
	if len(l.groups) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(renderPreamble)
	b.WriteString("\n")
	for i, g := range l.groups {
		fmt.Fprintf(&b, "\n#%d %s", i+1, g.Summary)
		for j, chunk := range g.Chunks {
			fmt.Fprintf(&b, "\n#%d.%d %s", i+1, j+1, chunk)
		}
	}
	return b.String()
}
