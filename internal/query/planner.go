package query

import (
	"context"
	"fmt"
	"log/slog"

	coreerrors "github.com/geldstroom-lab/project-geldstroom/internal/core/errors"
	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
)

// Fetch answers one aggregated, faceted query for a dataset. It picks the
// retrieval path, runs rows/count/totals concurrently, and enriches the
// result with matched-field annotations and coverage ranges.
//
// The aggregated view is preferred; the raw source table is used only when
// a non-entity filter field is active (views do not carry those columns)
// or a requested extra column is not materialized in the view.
func (s *Service) Fetch(ctx context.Context, datasetName string, p Params) (*ResultSet, error) {
	d, err := s.registry.Get(datasetName)
	if err != nil {
		return nil, err
	}
	if err := validateCommon(&p.Limit, &p.Offset, &p.SortBy, &p.SortOrder, p.Year); err != nil {
		return nil, err
	}

	for field := range p.Filters {
		if !d.IsFilterField(field) && field != d.EntityField {
			return nil, coreerrors.Validationf("invalid filter field %q for dataset %q", field, d.Name)
		}
	}

	// Cap at two extra columns; unknown ones are dropped, not fatal.
	var columns []string
	for _, col := range p.Columns {
		if len(columns) == 2 {
			break
		}
		if d.IsExtraColumn(col) {
			columns = append(columns, col)
		} else {
			slog.Warn("Ignoring invalid extra column", "column", col, "dataset", d.Name)
		}
	}
	p.Columns = columns

	// Entity filters stay on the aggregated path: per-entity views carry
	// the entity column. Any other filter forces source-table aggregation.
	var entityFilter []string
	nonEntityFilters := make(map[string][]string, len(p.Filters))
	for field, values := range p.Filters {
		if len(values) == 0 {
			continue
		}
		if d.EntityField != "" && field == d.EntityField {
			entityFilter = values
			continue
		}
		nonEntityFilters[field] = values
	}

	useAggregated := d.HasView() && len(nonEntityFilters) == 0 && d.InView(p.Columns)

	var result *ResultSet
	if useAggregated {
		result, err = s.fromAggregatedView(ctx, d, p, entityFilter)
	} else {
		result, err = s.fromSourceTable(ctx, d, p)
	}
	if err != nil {
		return nil, err
	}

	s.injectAvailability(ctx, d, p.Filters, result.Rows)
	return result, nil
}

func validateCommon(limit, offset *int, sortBy, sortOrder *string, year int) error {
	if *limit == 0 {
		*limit = 25
	}
	if *limit < 1 || *limit > maxLimit {
		return coreerrors.Validationf("invalid limit: %d (must be 1-%d)", *limit, maxLimit)
	}
	if *offset < 0 || *offset > maxOffset {
		return coreerrors.Validationf("invalid offset: %d (must be 0-%d)", *offset, maxOffset)
	}
	if *sortBy == "" {
		*sortBy = "totaal"
	}
	if *sortOrder == "" {
		*sortOrder = "desc"
	}
	if *sortOrder != "asc" && *sortOrder != "desc" {
		return coreerrors.Validationf("invalid sort_order: %s", *sortOrder)
	}
	if year != 0 && !dataset.ValidYear(year) {
		return coreerrors.Validationf("invalid year: %d", year)
	}
	return nil
}

// sortField resolves a non-search, non-random sort key against the
// explicit allow-list. Anything outside it is rejected before any
// statement text is assembled. yearAlias selects between the view's bare
// year column ("2024") and the source path's pivot alias ("y2024").
func sortField(sortBy string, primary dataset.Ident, yearAlias bool) (string, error) {
	switch {
	case sortBy == "totaal":
		return "totaal", nil
	case sortBy == "primary":
		return quoteIdent(primary), nil
	case len(sortBy) > 1 && sortBy[0] == 'y':
		var year int
		if _, err := fmt.Sscanf(sortBy[1:], "%d", &year); err != nil || !dataset.ValidYear(year) {
			return "", coreerrors.Validationf("invalid sort year: %s", sortBy)
		}
		if yearAlias {
			return fmt.Sprintf(`"y%d"`, year), nil
		}
		return fmt.Sprintf(`"%d"`, year), nil
	default:
		return "", coreerrors.Validationf("invalid sort_by value: %s", sortBy)
	}
}

func sortDirection(order string) string {
	if order == "asc" {
		return "ASC"
	}
	return "DESC"
}
