package query

import (
	"context"
	"fmt"
	"log/slog"

	coreerrors "github.com/geldstroom-lab/project-geldstroom/internal/core/errors"
	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"golang.org/x/sync/errgroup"
)

const (
	// maxFacetOptions caps the distinct values returned per field.
	maxFacetOptions = 5000
	// maxValuesPerFilter caps each incoming IN-list.
	maxValuesPerFilter = 100
)

// FilterOptions returns the distinct values of one filterable field,
// sorted alphabetically. Used to populate a multi-select before any
// cross-filter context exists.
func (s *Service) FilterOptions(ctx context.Context, datasetName, field string) ([]string, error) {
	d, err := s.registry.Get(datasetName)
	if err != nil {
		return nil, err
	}
	if !d.IsFilterField(field) {
		return nil, coreerrors.Validationf("invalid filter field %q for dataset %q", field, d.Name)
	}
	table, err := s.registry.ValidateTable(d.Table)
	if err != nil {
		return nil, err
	}
	id, err := s.registry.ValidateColumn(field)
	if err != nil {
		return nil, err
	}
	col := quoteIdent(id)

	query := fmt.Sprintf(`
		SELECT DISTINCT %[1]s::text AS value
		FROM %[2]s
		WHERE %[1]s IS NOT NULL
		  AND %[1]s::text != ''
		ORDER BY %[1]s::text
		LIMIT %[3]d`,
		col, string(table), maxFacetOptions)

	dbctx, cancel := s.dbCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(dbctx, query)
	if err != nil {
		slog.Error("Filter options query failed", "dataset", d.Name, "field", field, "error", err)
		return nil, fmt.Errorf("filter options for %s.%s: %w", d.Name, field, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan filter option: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate filter options: %w", err)
	}
	return out, nil
}

// CascadingFilterOptions computes values plus entity counts for every
// filterable field, each constrained by the active selections on all the
// OTHER fields. Selecting a value in one facet immediately narrows the
// rest, in both directions.
func (s *Service) CascadingFilterOptions(ctx context.Context, datasetName string, active map[string][]string) (map[string][]FacetOption, error) {
	d, err := s.registry.Get(datasetName)
	if err != nil {
		return nil, err
	}
	if len(d.FilterFields) == 0 {
		return map[string][]FacetOption{}, nil
	}
	for field := range active {
		if !d.IsFilterField(field) {
			return nil, coreerrors.Validationf("invalid filter field %q for dataset %q", field, d.Name)
		}
	}
	table, err := s.registry.ValidateTable(d.Table)
	if err != nil {
		return nil, err
	}
	primary, err := s.registry.ValidateColumn(d.PrimaryField)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]FacetOption, len(d.FilterFields))
	results := make([][]FacetOption, len(d.FilterFields))

	g, gctx := errgroup.WithContext(ctx)
	for i, field := range d.FilterFields {
		g.Go(func() error {
			opts, err := s.facetField(gctx, string(table), primary, field, active)
			if err != nil {
				return fmt.Errorf("facet %s.%s: %w", d.Name, field, err)
			}
			results[i] = opts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("Cascading filter options failed", "dataset", d.Name, "error", err)
		return nil, err
	}
	for i, field := range d.FilterFields {
		out[field] = results[i]
	}
	return out, nil
}

// facetField counts distinct primary entities per value of one field, with
// the other fields' selections applied. Counts therefore line up with the
// row counts the main query reports.
func (s *Service) facetField(ctx context.Context, table string, primary dataset.Ident, field string, active map[string][]string) ([]FacetOption, error) {
	id, err := s.registry.ValidateColumn(field)
	if err != nil {
		return nil, err
	}
	col := quoteIdent(id)

	b := &condBuilder{}
	b.addWhere(col + " IS NOT NULL")
	b.addWhere(col + "::text != ''")

	for _, other := range sortedFilterFields(active) {
		values := active[other]
		if other == field || len(values) == 0 {
			continue
		}
		otherID, err := s.registry.ValidateColumn(other)
		if err != nil {
			return nil, err
		}
		if len(values) > maxValuesPerFilter {
			values = values[:maxValuesPerFilter]
		}
		b.addWhere(fmt.Sprintf("%s::text IN (%s)", quoteIdent(otherID), b.bindAll(values)))
	}

	query := fmt.Sprintf(`
		SELECT %[1]s::text AS value, COUNT(DISTINCT %[2]s) AS count
		FROM %[3]s
		%[4]s
		GROUP BY %[1]s::text
		ORDER BY count DESC, %[1]s::text
		LIMIT %[5]d`,
		col, quoteIdent(primary), table, b.whereSQL(), maxFacetOptions)

	dbctx, cancel := s.dbCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(dbctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FacetOption
	for rows.Next() {
		var opt FacetOption
		if err := rows.Scan(&opt.Value, &opt.Count); err != nil {
			return nil, fmt.Errorf("scan facet option: %w", err)
		}
		out = append(out, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facet options: %w", err)
	}
	return out, nil
}
