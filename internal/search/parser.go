// Package search implements the hybrid-search half of the query engine:
// parsing free-text input, whole-token match semantics, and the text-search
// index client used for fast candidate generation.
package search

import (
	"regexp"
	"strings"
)

var quotedSegment = regexp.MustCompile(`"([^"]*)"`)

// Query is parsed user search input. Phrases come from double-quoted
// segments and must match as contiguous word sequences; Words match
// anywhere; Raw is all terms rejoined with single spaces, quoting and
// wildcards stripped, and is what the text index receives.
type Query struct {
	Phrases []string
	Words   []string
	Raw     string
}

// IsEmpty reports whether the query carries no terms at all.
func (q Query) IsEmpty() bool { return len(q.Phrases) == 0 && len(q.Words) == 0 }

// Terms returns phrases followed by words, the order relevance tie-breaks
// and post-filtering use.
func (q Query) Terms() []string {
	terms := make([]string, 0, len(q.Phrases)+len(q.Words))
	terms = append(terms, q.Phrases...)
	terms = append(terms, q.Words...)
	return terms
}

// Parse turns raw user input into a structured query.
//
//	"rode kruis"        → phrase "rode kruis"
//	rode kruis          → words ["rode", "kruis"]
//	prorail*            → word "prorail" (wildcard stripped)
//	"van oord" bouw     → phrase "van oord" + word "bouw"
//
// Malformed quoting never fails: an unmatched quote is stripped and its
// contents degrade to bare words. Empty or whitespace-only quoted segments
// are discarded. Parse is total and idempotent on its own Raw output.
func Parse(raw string) Query {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Query{}
	}

	var phrases []string
	var remainderParts []string

	lastEnd := 0
	for _, loc := range quotedSegment.FindAllStringSubmatchIndex(text, -1) {
		if before := strings.TrimSpace(text[lastEnd:loc[0]]); before != "" {
			remainderParts = append(remainderParts, before)
		}
		if phrase := strings.TrimSpace(text[loc[2]:loc[3]]); phrase != "" {
			phrases = append(phrases, phrase)
		}
		lastEnd = loc[1]
	}
	if after := strings.TrimSpace(text[lastEnd:]); after != "" {
		remainderParts = append(remainderParts, after)
	}

	// Strip leftover unmatched quotes and a trailing wildcard marker.
	remainder := strings.ReplaceAll(strings.Join(remainderParts, " "), `"`, "")
	remainder = strings.TrimSpace(strings.TrimRight(remainder, "*"))

	var words []string
	if remainder != "" {
		words = strings.Fields(remainder)
	}

	rawParts := make([]string, 0, len(phrases)+len(words))
	rawParts = append(rawParts, phrases...)
	rawParts = append(rawParts, words...)

	return Query{Phrases: phrases, Words: words, Raw: strings.Join(rawParts, " ")}
}
