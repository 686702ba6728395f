package search

import (
	"regexp"
	"strings"
)

// Word characters for boundary purposes are Unicode letters, digits, and
// underscore. Go's RE2 `\b` and `\w` are ASCII-only, which would make terms
// edged by diacritic letters ("café", "médecins") unmatched in Dutch and
// French recipient names, so all boundaries here are built explicitly.
var (
	startsWithWordChar = regexp.MustCompile(`^[\p{L}\p{N}_]`)
	endsWithWordChar   = regexp.MustCompile(`[\p{L}\p{N}_]$`)
)

// MatchesWordBoundary reports whether ALL terms of the search input appear
// as whole tokens in text, case-insensitively. Phrases must appear as a
// contiguous word sequence in order; bare words may appear anywhere; all
// are ANDed. A term embedded in a longer compound token does not count:
// "politie" matches "Nationale Politie" but not "Designpolitie".
//
// Returns false on empty search or empty text.
func MatchesWordBoundary(searchInput, text string) bool {
	if searchInput == "" || text == "" {
		return false
	}
	return Parse(searchInput).MatchesWordBoundary(text)
}

// MatchesWordBoundary is the parsed-query form of the package function.
func (q Query) MatchesWordBoundary(text string) bool {
	if q.IsEmpty() || text == "" {
		return false
	}
	for _, term := range q.Terms() {
		re, err := regexp.Compile(`(?i)` + boundedPattern(term, `(^|[^\p{L}\p{N}_])`, `([^\p{L}\p{N}_]|$)`))
		if err != nil {
			return false
		}
		if !re.MatchString(text) {
			return false
		}
	}
	return true
}

// BoundaryPattern builds the PostgreSQL regex pattern for the normalized
// query, to be bound as a parameter of a `~*` predicate. `\y` is the
// PostgreSQL word boundary, Unicode-aware server-side.
func BoundaryPattern(searchInput string) string {
	normalized := strings.ToLower(strings.TrimSpace(Parse(searchInput).Raw))
	return boundedPattern(normalized, `\y`, `\y`)
}

// boundedPattern escapes term and attaches boundary anchors only where the
// term's edge is a word character ("b.v." keeps its trailing edge
// unanchored, since a boundary only exists at a word/non-word transition).
func boundedPattern(term, left, right string) string {
	escaped := regexp.QuoteMeta(term)
	if startsWithWordChar.MatchString(term) {
		escaped = left + escaped
	}
	if endsWithWordChar.MatchString(term) {
		escaped = escaped + right
	}
	return escaped
}
