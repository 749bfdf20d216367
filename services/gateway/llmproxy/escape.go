// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llmproxy

import "strings"

// transportEscaper escapes text embedded into the proxy's server-side JSON
// template. A single-pass Replacer never rescans its own output, so the
// backslashes it introduces are not escaped again.
var transportEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\b", `\b`,
	"\f", `\f`,
)

// EscapeForTransport returns s with backslashes, double quotes, and
// control whitespace escaped for the proxy wire format. The transform is
// pure; it never errors and leaves all other bytes untouched.
func EscapeForTransport(s string) string {
	return transportEscaper.Replace(s)
}
