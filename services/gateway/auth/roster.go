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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/tutor-gateway/pkg/extensions"
)

// Roster authorizes subjects against a course enrollment list.
//
// # Description
//
// The roster is loaded once at startup from either a comma-separated
// value or a group file and held immutable; enrollment changes take a
// restart. An empty roster admits everyone, which is the posture for
// open pilots.
type Roster struct {
	members map[string]bool
}

// NewRosterFromList builds a Roster from a comma-separated subject list.
func NewRosterFromList(csv string) *Roster {
	members := make(map[string]bool)
	for _, s := range strings.Split(csv, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			members[s] = true
		}
	}
	return &Roster{members: members}
}

// NewRosterFromFile builds a Roster from a group file.
//
// The format is one group per line, "groupname: member member member",
// the same shape htgroup files use. Members of every group are admitted;
// group names themselves carry no meaning here. Blank lines and lines
// starting with # are skipped.
func NewRosterFromFile(path string) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster file %s: %w", path, err)
	}
	defer f.Close()

	members := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		_, rest, found := strings.Cut(line, ":")
		if !found {
			rest = line
		}
		for _, m := range strings.Fields(rest) {
			members[m] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read roster file %s: %w", path, err)
	}
	return &Roster{members: members}, nil
}

// Len reports the number of enrolled subjects.
func (r *Roster) Len() int { return len(r.members) }

// Authorize admits enrolled subjects. An empty roster admits everyone.
func (r *Roster) Authorize(_ context.Context, info *extensions.AuthInfo) error {
	if len(r.members) == 0 {
		return nil
	}
	if !r.members[info.Subject] {
		return fmt.Errorf("subject not enrolled: %w", extensions.ErrForbidden)
	}
	return nil
}

var _ extensions.Authorizer = (*Roster)(nil)
