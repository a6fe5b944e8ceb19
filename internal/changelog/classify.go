// Package changelog classifies how a key's dotted code changed across a run.
package changelog

import (
	"fmt"
	"strings"
)

// Change describes one key's code transition.
type Change struct {
	Key  string
	Old  string
	New  string
	Type string // "X", "Extended", "Merged@i", or "Other"
}

// Classify compares a key's pre-run and post-run dotted codes (the bare
// "1.2.3" or "1.2.3x" portion, without the organism-prefix/version label)
// and returns the classification, or ok=false if there's nothing to report
// (no prior code, or no change at all).
func Classify(key, oldCode, newCode string) (Change, bool) {
	if oldCode == "" || newCode == "" || oldCode == newCode {
		return Change{}, false
	}

	oldXcoded := strings.HasSuffix(oldCode, "x")
	newXcoded := strings.HasSuffix(newCode, "x")
	if oldXcoded || newXcoded {
		return Change{Key: key, Old: oldCode, New: newCode, Type: "X"}, true
	}

	oldSeg := strings.Split(oldCode, ".")
	newSeg := strings.Split(newCode, ".")

	if extends(oldSeg, newSeg) {
		return Change{Key: key, Old: oldCode, New: newCode, Type: "Extended"}, true
	}

	n := len(oldSeg)
	if len(newSeg) < n {
		n = len(newSeg)
	}
	for i := 0; i < n; i++ {
		if oldSeg[i] != newSeg[i] {
			return Change{Key: key, Old: oldCode, New: newCode, Type: fmt.Sprintf("Merged@%d", i+1)}, true
		}
	}

	return Change{Key: key, Old: oldCode, New: newCode, Type: "Other"}, true
}

// extends reports whether newSeg is oldSeg with one or more additional
// trailing segments appended (i.e. the code grew more specific without any
// of its existing digits changing).
func extends(oldSeg, newSeg []string) bool {
	if len(newSeg) <= len(oldSeg) {
		return false
	}
	for i := range oldSeg {
		if oldSeg[i] != newSeg[i] {
			return false
		}
	}
	return true
}
