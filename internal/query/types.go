// Package query is the aggregation and query-planning engine. It turns a
// request (free text, filters, sort, pagination, extra columns) into one or
// more retrieval strategies against the relational store and the text-search
// index, merges and ranks the results, and falls back safely when the index
// is unavailable or insufficient.
package query

import (
	"github.com/geldstroom-lab/project-geldstroom/internal/search"
)

// Params describes one per-dataset query.
type Params struct {
	// Search is free text; when set, sort is relevance-tiered and SortBy
	// is ignored.
	Search string

	// Year restricts to entities with data in that year (the response
	// still shows all years).
	Year int

	MinAmount *float64
	MaxAmount *float64

	// SortBy is one of "totaal" (default), "primary", "random", or a
	// year label such as "y2024". Anything else is rejected.
	SortBy    string
	SortOrder string

	Limit  int
	Offset int

	// MinYears keeps only entities with data in at least that many years.
	MinYears int

	// Filters holds multi-valued per-dataset filter selections,
	// field → values. Field names are validated against the descriptor.
	Filters map[string][]string

	// Columns requests up to two extra display columns. Ignored while
	// searching (matched-field annotations take their place).
	Columns []string
}

// CrossParams describes one query against the pre-joined all-datasets
// aggregate.
type CrossParams struct {
	Search    string
	Year      int
	MinAmount *float64
	MaxAmount *float64
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
	MinYears  int

	// Datasets requires the recipient to appear in every named dataset.
	Datasets []string

	// RecordBracket filters on underlying record count: "1", "2-10",
	// "11-50" or "50+".
	RecordBracket string

	Columns []string
}

// Row is one aggregated result row. The two enrichment shapes are mutually
// exclusive: ExtraColumns/ExtraColumnCounts are populated when browsing,
// MatchedField/MatchedValue when searching.
type Row struct {
	PrimaryValue string        `json:"primary_value"`
	Years        map[int]int64 `json:"years"`
	Totaal       int64         `json:"totaal"`
	RowCount     int64         `json:"row_count"`

	// Datasets lists the source datasets a recipient appears in
	// (cross-dataset queries only).
	Datasets []string `json:"modules,omitempty"`

	ExtraColumns      map[string]*string `json:"extra_columns,omitempty"`
	ExtraColumnCounts map[string]int64   `json:"extra_column_counts,omitempty"`

	MatchedField string `json:"matched_field,omitempty"`
	MatchedValue string `json:"matched_value,omitempty"`

	DataAvailableFrom *int `json:"data_available_from,omitempty"`
	DataAvailableTo   *int `json:"data_available_to,omitempty"`
}

// Totals carries per-year sums and the grand total over the filtered
// population. Computed only when a search or filter is active.
type Totals struct {
	Years  map[int]int64 `json:"years"`
	Totaal int64         `json:"totaal"`
}

// ResultSet is the assembled output of one dataset query.
type ResultSet struct {
	Rows   []Row
	Total  int64
	Totals *Totals
}

// FacetOption is one (value, count) pair for a filterable field; count is
// the number of distinct primary entities matching under the cross-filter
// context.
type FacetOption struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// DetailRow is one group of a drill-down breakdown.
type DetailRow struct {
	GroupBy    string        `json:"group_by"`
	GroupValue *string       `json:"group_value"`
	Years      map[int]int64 `json:"years"`
	Totaal     int64         `json:"totaal"`
	RowCount   int64         `json:"row_count"`
}

// Stats summarizes one dataset for the search placeholder.
type Stats struct {
	Count          int64  `json:"count"`
	Total          int64  `json:"total"`
	TotalFormatted string `json:"total_formatted"`
}

// candidateSet is the outcome of the index step of a hybrid search.
type candidateSet struct {
	keys    []string
	matched map[string]search.FieldMatch
}
