// Package reconcile derives current room/card/package assignments and
// availability from the access-control log and the hotel catalogs.
//
// Every function in this package is pure: inputs are never mutated and no
// I/O is performed.
package reconcile

import "strings"

// Verdict is the classified meaning of a raw status string
type Verdict int

const (
	Unknown Verdict = iota
	Granted
	Denied
	Deleted
)

func (v Verdict) String() string {
	switch v {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Blocked reports whether the verdict withholds access
func (v Verdict) Blocked() bool {
	return v != Granted
}

// Positive terms win over negative ones appearing in the same string.
var (
	positiveTerms = []string{"reactivated", "granted", "new"}
	negativeTerms = []struct {
		term    string
		verdict Verdict
	}{
		{"deleted", Deleted},
		{"denied", Denied},
	}
)

// Classify maps a raw access status to a Verdict. Matching is by
// case-insensitive substring. An empty status has never been granted and
// classifies as Deleted; any other unrecognised status is Unknown, which is
// also blocked.
func Classify(status string) Verdict {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return Deleted
	}

	for _, term := range positiveTerms {
		if strings.Contains(s, term) {
			return Granted
		}
	}

	for _, neg := range negativeTerms {
		if strings.Contains(s, neg.term) {
			return neg.verdict
		}
	}

	return Unknown
}
