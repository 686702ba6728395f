package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/geldstroom-lab/project-geldstroom/internal/search"
	"github.com/shopspring/decimal"
)

// Autocomplete serves index-backed typeahead for one dataset. When the
// index yields no in-dataset names at all, a relational prefix of the
// aggregated view fills the first section so the box never goes dark just
// because the index is.
func (s *Service) Autocomplete(ctx context.Context, datasetName, searchInput string, limit int) (*search.Suggestions, error) {
	d, err := s.registry.Get(datasetName)
	if err != nil {
		return nil, err
	}

	var out search.Suggestions
	if s.index != nil {
		out = s.index.Autocomplete(ctx, d, searchInput, limit)
	}
	if len(out.CurrentDataset) == 0 {
		out.CurrentDataset = s.relationalSuggestions(ctx, d.Name, searchInput, limit)
	}
	return &out, nil
}

// RecipientSuggestions serves typeahead on the cross-dataset view.
func (s *Service) RecipientSuggestions(ctx context.Context, searchInput string, limit int) []search.Suggestion {
	if s.index != nil {
		if hits := s.index.RecipientSuggestions(ctx, searchInput, limit); len(hits) > 0 {
			return hits
		}
	}
	return s.relationalSuggestions(ctx, "", searchInput, limit)
}

// relationalSuggestions is the fallback path: a word-boundary match on the
// recipient column of the best available pivoted relation, richest first.
// Failures are logged and yield an empty list; autocomplete is best effort.
func (s *Service) relationalSuggestions(ctx context.Context, datasetName, searchInput string, limit int) []search.Suggestion {
	view := "universal_search"
	primaryCol := `"ontvanger"`
	if datasetName != "" {
		d, err := s.registry.Get(datasetName)
		if err != nil {
			return nil
		}
		tableName := d.AggregatedTable
		if tableName == "" {
			tableName = d.Table
		}
		table, err := s.registry.ValidateTable(tableName)
		if err != nil {
			return nil
		}
		primary, err := s.registry.ValidateColumn(d.PrimaryField)
		if err != nil {
			return nil
		}
		view = string(table)
		primaryCol = quoteIdent(primary)
	}

	query := fmt.Sprintf(`
		SELECT %[1]s AS name, totaal
		FROM %[2]s
		WHERE %[1]s ~* $1
		ORDER BY totaal DESC
		LIMIT %[3]d`,
		primaryCol, view, limit)

	dbctx, cancel := s.dbCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(dbctx, query, search.BoundaryPattern(searchInput))
	if err != nil {
		slog.Warn("Autocomplete relational fallback failed", "dataset", datasetName, "error", err)
		return nil
	}
	defer rows.Close()

	var out []search.Suggestion
	for rows.Next() {
		var name sql.NullString
		var totaal decimal.NullDecimal
		if err := rows.Scan(&name, &totaal); err != nil {
			slog.Warn("Autocomplete relational fallback scan failed", "error", err)
			return nil
		}
		if !name.Valid || name.String == "" {
			continue
		}
		matchType := "prefix"
		if search.MatchesWordBoundary(searchInput, name.String) {
			matchType = "exact"
		}
		out = append(out, search.Suggestion{
			Name:      name.String,
			Totaal:    decimalInt(totaal),
			MatchType: matchType,
		})
	}
	if err := rows.Err(); err != nil {
		slog.Warn("Autocomplete relational fallback failed", "dataset", datasetName, "error", err)
		return nil
	}
	if len(out) > 0 {
		slog.Info("Autocomplete served by relational fallback", "dataset", datasetName, "count", len(out))
	}
	return out
}
