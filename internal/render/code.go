// Package render formats a dotted-integer cluster path into the emitted
// allele code string (organism prefix, version, dotted digits, and the
// excluded-codes cosmetic truncation/marking rule).
package render

import (
	"fmt"
	"strconv"
	"strings"
)

// NameToStr renders a dotted path as "1.2.3".
func NameToStr(parts []int) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ".")
}

// Code renders the full emitted code for a path: "PREFIXversion - dotted".
// If any entry in excluded is a dotted prefix of parts, the code is
// truncated to that entry and marked with a trailing "x" instead — the
// first matching entry in excluded wins, matching the original script's
// first-match (not longest-match) semantics.
func Code(prefix, version string, parts []int, excluded []string) string {
	return fmt.Sprintf("%s%s - %s", prefix, version, BareCode(parts, excluded))
}

// BareCode renders just the dotted portion of a code ("1.2.3" or "1.2.3x"),
// without the organism-prefix/version label, for comparisons that need to
// split on "." (e.g. change classification).
func BareCode(parts []int, excluded []string) string {
	for _, ex := range excluded {
		if matchesExcludedPrefix(parts, ex) {
			return ex + "x"
		}
	}
	return NameToStr(parts)
}

func matchesExcludedPrefix(parts []int, excluded string) bool {
	exParts := strings.Split(excluded, ".")
	if len(parts) < len(exParts) {
		return false
	}
	return NameToStr(parts[:len(exParts)]) == excluded
}
