// Package sqlguard validates generated query text before it reaches a store.
//
// Validate is the only gate between language-model output and the
// structured stores. It accepts a single read-only SELECT/WITH statement
// and rejects everything else, including text it cannot classify.
package sqlguard

import (
	"errors"
	"regexp"
	"strings"
)

// ErrRejected is the fixed, non-leaky error agents report for unsafe text.
var ErrRejected = errors.New("generated query rejected: only a single read-only SELECT statement is allowed")

const (
	fence      = "```"
	terminator = ";"
)

var (
	leadingVerb = regexp.MustCompile(`^(SELECT|WITH)\b`)
	// Whole-word match; identifiers like CREATED_AT or UPDATED_BY do not match.
	forbidden = regexp.MustCompile(`\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|GRANT|REVOKE|BEGIN|COMMIT|ROLLBACK)\b`)
	// Optional language tag on the opening fence line, e.g. ```sql
	fenceTag = regexp.MustCompile(`^[A-Za-z0-9_+-]*[ \t]*\r?\n`)
)

// Result is the outcome of Validate. Normalized keeps the caller's casing.
type Result struct {
	OK         bool   `json:"ok"`
	Normalized string `json:"normalized"`
}

// Validate reports whether raw is a single read-only statement and returns
// its normalized form (fence and trailing terminators removed).
func Validate(raw string) Result {
	text := stripFence(strings.TrimSpace(raw))
	text = strings.TrimSpace(strings.TrimRight(text, terminator))

	upper := strings.ToUpper(text)
	ok := leadingVerb.MatchString(upper) &&
		!strings.Contains(upper, terminator) &&
		!forbidden.MatchString(upper)

	return Result{OK: ok, Normalized: text}
}

// stripFence removes at most one leading and one trailing code fence.
func stripFence(s string) string {
	if strings.HasPrefix(s, fence) {
		s = strings.TrimPrefix(s, fence)
		if loc := fenceTag.FindStringIndex(s); loc != nil {
			s = s[loc[1]:]
		}
		s = strings.TrimSpace(s)
	}
	if strings.HasSuffix(s, fence) {
		s = strings.TrimSpace(strings.TrimSuffix(s, fence))
	}
	return s
}
