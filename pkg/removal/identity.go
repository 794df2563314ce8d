package removal

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// canonical normalizes a field for content comparison: Unicode NFC, case
// folded, surrounding whitespace trimmed.
func canonical(s string) string {
	return foldCaser.String(norm.NFC.String(strings.TrimSpace(s)))
}

// IdentityKey returns the logical content identity of a profile query. Two
// queries with the same key describe the same person/address variant even
// when their row ids or field casing differ; the reconciliation diff is
// keyed on this value.
func (q ProfileQuery) IdentityKey() string {
	parts := []string{
		canonical(q.FirstName),
		canonical(q.MiddleName),
		canonical(q.LastName),
		canonical(q.City),
		canonical(q.State),
		strconv.Itoa(q.BirthYear),
	}
	return strings.Join(parts, "\x1f")
}

// SameContent reports whether two queries are logically equal by content.
func (q ProfileQuery) SameContent(other ProfileQuery) bool {
	return q.IdentityKey() == other.IdentityKey()
}
