package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
)

// RecipientsCollection holds one document per distinct recipient across all
// datasets, keyed by the normalized recipient key.
const RecipientsCollection = "recipients"

const perFieldPageCap = 250

// FieldMatch records which non-primary field satisfied a search for a
// given primary value, and the matching value itself.
type FieldMatch struct {
	Field string
	Value string
}

// CandidateKeys asks the index which primary values match the search, one
// query per searchable field. Multi-field relevance in the index is
// unreliable for this corpus, so each field is queried independently with
// prefix matching and hits are merged by primary identity in first-seen
// order (field order = descriptor priority). Prefix hits that do not
// survive the word-boundary filter are discarded: "COA" must not match
// "Coaching".
//
// The returned map carries matched-field annotations for values found via
// a non-primary field only; primary matches are already visible in the
// result row. Empty keys mean the caller must fall back to a direct
// relational pattern match.
func (c *Client) CandidateKeys(ctx context.Context, d *dataset.Descriptor, searchInput string, limit int) ([]string, map[string]FieldMatch) {
	matched := make(map[string]FieldMatch)
	if !c.Configured() || d.Collection == "" {
		return nil, matched
	}

	parsed := Parse(searchInput)
	if parsed.IsEmpty() {
		return nil, matched
	}

	perPage := limit * 5
	if perPage > perFieldPageCap {
		perPage = perFieldPageCap
	}

	seen := make(map[string]struct{})
	var keys []string

	for _, field := range d.SearchFields {
		if len(keys) >= limit {
			break
		}

		queryBy := field
		if contains(d.LowerFields, field) {
			queryBy = fmt.Sprintf("%s,%s_lower", field, field)
		}

		params := url.Values{}
		params.Set("q", parsed.Raw)
		params.Set("query_by", queryBy)
		params.Set("prefix", "true")
		params.Set("per_page", strconv.Itoa(perPage))
		params.Set("highlight_full_fields", field)

		result := c.Search(ctx, d.Collection, params)

		for _, hit := range result.Hits {
			value := hit.Document.String(d.PrimaryField)
			if value == "" {
				continue
			}
			if _, dup := seen[value]; dup {
				continue
			}
			fieldValue := hit.Document.String(field)
			if fieldValue == "" || !parsed.MatchesWordBoundary(fieldValue) {
				continue
			}

			seen[value] = struct{}{}
			keys = append(keys, value)
			if field != d.PrimaryField {
				matched[value] = FieldMatch{Field: field, Value: fieldValue}
			}
			if len(keys) >= limit {
				break
			}
		}
	}

	slog.Info("Index candidate search",
		"dataset", d.Name,
		"query", parsed.Raw,
		"candidates", len(keys),
		"secondary_matches", len(matched))
	return keys, matched
}

// RecipientKeys searches the cross-dataset recipients collection and
// returns matching recipient keys (document IDs). Empty means fall back
// to the relational pattern match.
func (c *Client) RecipientKeys(ctx context.Context, searchInput string, limit int) []string {
	if !c.Configured() {
		return nil
	}

	parsed := Parse(searchInput)
	if parsed.IsEmpty() {
		return nil
	}

	perPage := limit * 5
	if perPage > perFieldPageCap {
		perPage = perFieldPageCap
	}

	params := url.Values{}
	params.Set("q", parsed.Raw)
	params.Set("query_by", "name,name_lower")
	params.Set("prefix", "true")
	params.Set("per_page", strconv.Itoa(perPage))

	result := c.Search(ctx, RecipientsCollection, params)

	var keys []string
	for _, hit := range result.Hits {
		name := hit.Document.String("name")
		id := hit.Document.String("id")
		if name == "" || id == "" {
			continue
		}
		if !parsed.MatchesWordBoundary(name) {
			continue
		}
		keys = append(keys, id)
		if len(keys) >= limit {
			break
		}
	}

	slog.Info("Index recipient search", "query", parsed.Raw, "matches", len(keys))
	return keys
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
