package search

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
)

// Suggestion is one autocomplete entry. MatchType distinguishes
// word-boundary matches ("exact") from bare prefix matches ("prefix");
// exact matches rank first.
type Suggestion struct {
	Name      string
	Totaal    int64
	Datasets  []string
	MatchType string
}

// FieldSuggestion is a match found in a secondary field rather than on a
// recipient name.
type FieldSuggestion struct {
	Value string
	Field string
}

// Suggestions groups autocomplete output: hits in the requested dataset,
// secondary-field hits, and recipients known only from other datasets.
type Suggestions struct {
	CurrentDataset []Suggestion
	FieldMatches   []FieldSuggestion
	OtherDatasets  []Suggestion
}

// sourceToDataset maps recipient-document source labels (full display
// names in older index builds) back to dataset names.
var sourceToDataset = map[string]string{
	"financiële instrumenten":        "instrumenten",
	"instrumenten":                   "instrumenten",
	"apparaatsuitgaven":              "apparaat",
	"apparaat":                       "apparaat",
	"inkoopuitgaven":                 "inkoop",
	"inkoop":                         "inkoop",
	"provinciale subsidieregisters":  "provincie",
	"provincie":                      "provincie",
	"gemeentelijke subsidieregisters": "gemeente",
	"gemeente":                       "gemeente",
	"publiek":                        "publiek",
}

const maxFieldMatchFields = 3

// Autocomplete fans out all index queries for one dataset concurrently:
// a grouped primary-field query sorted by amount, one grouped query per
// secondary field (capped), and the cross-dataset recipients collection.
// Prefix hits are split into exact/prefix by the word-boundary rule, exact
// first. An all-empty result is possible whenever the index is degraded;
// the query layer then falls back to the relational store.
func (c *Client) Autocomplete(ctx context.Context, d *dataset.Descriptor, searchInput string, limit int) Suggestions {
	var out Suggestions
	parsed := Parse(searchInput)
	if parsed.IsEmpty() {
		return out
	}

	secondary := d.SecondaryFields()
	if len(secondary) > maxFieldMatchFields {
		secondary = secondary[:maxFieldMatchFields]
	}

	var (
		wg            sync.WaitGroup
		primaryResult Result
		fieldResults  = make([]Result, len(secondary))
		recipients    Result
	)

	if c.Configured() && d.Collection != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queryBy := d.PrimaryField
			if contains(d.LowerFields, d.PrimaryField) {
				queryBy = d.PrimaryField + "," + d.PrimaryField + "_lower"
			}
			sortField := "bedrag"
			if d.Name == "apparaat" {
				sortField = "totaal"
			}
			params := url.Values{}
			params.Set("q", parsed.Raw)
			params.Set("query_by", queryBy)
			params.Set("prefix", "true")
			params.Set("per_page", strconv.Itoa(limit*20))
			params.Set("sort_by", sortField+":desc")
			params.Set("group_by", d.PrimaryField)
			params.Set("group_limit", "1")
			primaryResult = c.Search(ctx, d.Collection, params)
		}()

		for i, field := range secondary {
			wg.Add(1)
			go func(i int, field string) {
				defer wg.Done()
				params := url.Values{}
				params.Set("q", parsed.Raw)
				params.Set("query_by", field)
				params.Set("prefix", "true")
				params.Set("per_page", "10")
				params.Set("group_by", field)
				params.Set("group_limit", "1")
				fieldResults[i] = c.Search(ctx, d.Collection, params)
			}(i, field)
		}
	}

	if c.Configured() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			params := url.Values{}
			params.Set("q", parsed.Raw)
			params.Set("query_by", "name,name_lower")
			params.Set("prefix", "true")
			params.Set("per_page", strconv.Itoa(limit*20))
			params.Set("sort_by", "totaal:desc")
			recipients = c.Search(ctx, RecipientsCollection, params)
		}()
	}

	wg.Wait()

	// 1. Hits in the requested dataset, exact before prefix.
	var exact, prefix []Suggestion
	for _, group := range primaryResult.GroupedHits {
		if len(group.Hits) == 0 {
			continue
		}
		doc := group.Hits[0].Document
		name := doc.String(d.PrimaryField)
		if name == "" {
			continue
		}
		amount := doc.Int64("bedrag")
		if amount == 0 {
			amount = doc.Int64("totaal")
		}
		s := Suggestion{Name: name, Totaal: amount, MatchType: "prefix"}
		if parsed.MatchesWordBoundary(name) {
			s.MatchType = "exact"
			exact = append(exact, s)
		} else {
			prefix = append(prefix, s)
		}
	}
	out.CurrentDataset = capAppend(nil, exact, limit)
	out.CurrentDataset = capAppend(out.CurrentDataset, prefix, limit)

	// 2. Secondary-field matches, deduplicated case-insensitively.
	seenValues := make(map[string]struct{})
	for i := range secondary {
		for _, group := range fieldResults[i].GroupedHits {
			if len(group.Hits) == 0 || len(out.FieldMatches) >= limit {
				continue
			}
			value := group.Hits[0].Document.String(secondary[i])
			if len(value) < 3 {
				continue
			}
			upper := strings.ToUpper(value)
			if _, dup := seenValues[upper]; dup {
				continue
			}
			if !parsed.MatchesWordBoundary(value) {
				continue
			}
			seenValues[upper] = struct{}{}
			out.FieldMatches = append(out.FieldMatches, FieldSuggestion{Value: value, Field: secondary[i]})
		}
	}

	// 3. Recipients from the cross-dataset collection: same-dataset hits
	// top up the first section, exact matches elsewhere go to the
	// other-datasets section.
	currentNames := make(map[string]struct{}, len(out.CurrentDataset))
	for _, s := range out.CurrentDataset {
		currentNames[strings.ToUpper(s.Name)] = struct{}{}
	}

	var recExact, recPrefix []Suggestion
	for _, hit := range recipients.Hits {
		doc := hit.Document
		name := doc.String("name")
		if name == "" {
			continue
		}
		if _, dup := currentNames[strings.ToUpper(name)]; dup {
			continue
		}
		sources := doc.Strings("sources")
		isExact := parsed.MatchesWordBoundary(name)

		inCurrent := false
		for _, s := range sources {
			if sourceToDataset[strings.ToLower(s)] == d.Name {
				inCurrent = true
				break
			}
		}

		if inCurrent {
			s := Suggestion{Name: name, Totaal: doc.Int64("totaal"), MatchType: "prefix"}
			if isExact {
				s.MatchType = "exact"
				recExact = append(recExact, s)
			} else {
				recPrefix = append(recPrefix, s)
			}
			continue
		}

		if isExact && len(out.OtherDatasets) < limit {
			others := uniqueDatasets(sources, d.Name)
			if len(others) > 0 {
				out.OtherDatasets = append(out.OtherDatasets, Suggestion{Name: name, Datasets: others})
			}
		}
	}
	out.CurrentDataset = capAppend(out.CurrentDataset, recExact, limit)
	out.CurrentDataset = capAppend(out.CurrentDataset, recPrefix, limit)

	return out
}

// RecipientSuggestions serves cross-dataset autocomplete: all recipients
// in one section, each with its dataset badges, word-boundary matches only.
func (c *Client) RecipientSuggestions(ctx context.Context, searchInput string, limit int) []Suggestion {
	parsed := Parse(searchInput)
	if parsed.IsEmpty() {
		return nil
	}

	params := url.Values{}
	params.Set("q", parsed.Raw)
	params.Set("query_by", "name,name_lower")
	params.Set("prefix", "true")
	// The word-boundary filter discards most prefix hits, so over-fetch.
	params.Set("per_page", strconv.Itoa(limit*20))
	params.Set("sort_by", "totaal:desc")

	result := c.Search(ctx, RecipientsCollection, params)

	var out []Suggestion
	for _, hit := range result.Hits {
		doc := hit.Document
		name := doc.String("name")
		if name == "" || !parsed.MatchesWordBoundary(name) {
			continue
		}
		out = append(out, Suggestion{
			Name:     name,
			Totaal:   doc.Int64("totaal"),
			Datasets: doc.Strings("sources"),
		})
		if len(out) >= limit {
			break
		}
	}
	return out
}

func capAppend(dst, src []Suggestion, limit int) []Suggestion {
	for _, s := range src {
		if len(dst) >= limit {
			break
		}
		dst = append(dst, s)
	}
	return dst
}

func uniqueDatasets(sources []string, exclude string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range sources {
		name := sourceToDataset[strings.ToLower(s)]
		if name == "" {
			name = strings.ToLower(s)
		}
		if name == exclude {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
