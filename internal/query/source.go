package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/geldstroom-lab/project-geldstroom/internal/search"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// fromSourceTable is the slow path: on-the-fly GROUP BY over the raw
// source table. It is the only path that supports arbitrary filter fields
// and extra columns outside the materialized views, so search here skips
// the index and matches all search fields relationally in one statement.
func (s *Service) fromSourceTable(ctx context.Context, d *dataset.Descriptor, p Params) (*ResultSet, error) {
	table, err := s.registry.ValidateTable(d.Table)
	if err != nil {
		return nil, err
	}
	primary, err := s.registry.ValidateColumn(d.PrimaryField)
	if err != nil {
		return nil, err
	}
	yearField, err := s.registry.ValidateColumn(d.YearField)
	if err != nil {
		return nil, err
	}
	amountField, err := s.registry.ValidateColumn(d.AmountField)
	if err != nil {
		return nil, err
	}
	multiplier := d.Multiplier()
	searching := p.Search != ""

	b := &condBuilder{}

	// Search over every configured field in one pass; matched_<field>
	// columns record which secondary field produced the hit.
	matchedSelect := ""
	secondaries := d.SecondaryFields()
	if searching {
		pattern := search.BoundaryPattern(p.Search)
		patternBind := b.bind(pattern)
		conds := make([]string, 0, len(d.SearchFields))
		for _, f := range d.SearchFields {
			id, err := s.registry.ValidateColumn(f)
			if err != nil {
				return nil, err
			}
			conds = append(conds, fmt.Sprintf("%s ~* %s", quoteIdent(id), patternBind))
		}
		b.addWhere("(" + strings.Join(conds, " OR ") + ")")

		matched := make([]string, 0, len(secondaries))
		for _, f := range secondaries {
			id, err := s.registry.ValidateColumn(f)
			if err != nil {
				return nil, err
			}
			matched = append(matched, fmt.Sprintf(
				`MAX(CASE WHEN %s ~* %s THEN %s END) AS "matched_%s"`,
				quoteIdent(id), patternBind, quoteIdent(id), f))
		}
		if len(matched) > 0 {
			matchedSelect = ", " + strings.Join(matched, ", ")
		}
	}

	if p.Year != 0 {
		b.addWhere(fmt.Sprintf("%s = %s", quoteIdent(yearField), b.bind(p.Year)))
	}

	// Multi-select filters; ::text casts cover integer-typed columns.
	for _, field := range sortedFilterFields(p.Filters) {
		values := p.Filters[field]
		if len(values) == 0 {
			continue
		}
		id, err := s.registry.ValidateColumn(field)
		if err != nil {
			return nil, err
		}
		b.addWhere(fmt.Sprintf("%s::text IN (%s)", quoteIdent(id), b.bindAll(values)))
	}

	// The totals query is WHERE-only, so its argument list must be taken
	// before the HAVING binds below are registered.
	_, whereArgs := b.snapshot()

	totalExpr := totalExprSQL(yearField, amountField, multiplier)
	if p.MinAmount != nil {
		b.addHaving(totalExpr + " >= " + b.bind(*p.MinAmount))
	}
	if p.MaxAmount != nil {
		b.addHaving(totalExpr + " <= " + b.bind(*p.MaxAmount))
	}
	if p.MinYears > 0 {
		b.addHaving(fmt.Sprintf("COUNT(DISTINCT %s) >= %s", quoteIdent(yearField), b.bind(p.MinYears)))
	}

	extraSelect := ""
	if len(p.Columns) > 0 && !searching {
		var parts []string
		for _, col := range p.Columns {
			id, err := s.registry.ValidateColumn(col)
			if err != nil {
				return nil, err
			}
			parts = append(parts, fmt.Sprintf(
				`MODE() WITHIN GROUP (ORDER BY %s) AS "extra_%s"`, quoteIdent(id), col))
		}
		for _, col := range p.Columns {
			id, _ := s.registry.ValidateColumn(col)
			parts = append(parts, fmt.Sprintf(
				`COUNT(DISTINCT %s) AS "extra_%s_count"`, quoteIdent(id), col))
		}
		extraSelect = ", " + strings.Join(parts, ", ")
	}

	whereSQL := b.whereSQL()
	havingSQL := b.havingSQL()
	_, countArgs := b.snapshot()

	relevance := ""
	var sortClause string
	switch {
	case searching:
		relevance = relevanceSelect(b, primary, p.Search)
		sortClause = "ORDER BY relevance_score ASC, totaal DESC"
	case p.SortBy == "random":
		// No precomputed random rank on source tables; a full random
		// order is acceptable because this path is rare.
		sortClause = "ORDER BY RANDOM()"
	default:
		field, err := sortField(p.SortBy, primary, true)
		if err != nil {
			return nil, err
		}
		sortClause = fmt.Sprintf("ORDER BY %s %s", field, sortDirection(p.SortOrder))
	}

	query := fmt.Sprintf(`
		SELECT
			%s AS primary_value,
			%s,
			%s AS totaal,
			COUNT(*) AS row_count%s%s%s
		FROM %s
		%s
		GROUP BY %s
		%s
		%s
		LIMIT %s OFFSET %s`,
		quoteIdent(primary), yearPivotSQL(yearField, amountField, multiplier),
		totalExpr, extraSelect, matchedSelect, relevance,
		string(table), whereSQL, quoteIdent(primary), havingSQL, sortClause,
		b.bind(p.Limit), b.bind(p.Offset))

	countQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM (
			SELECT %s FROM %s %s GROUP BY %s %s
		) AS subquery`,
		quoteIdent(primary), string(table), whereSQL, quoteIdent(primary), havingSQL)

	// Totals ignore HAVING: they report the filtered payment population,
	// not just the recipients that survived the amount bracket.
	totalsQuery := fmt.Sprintf("SELECT %s FROM %s %s",
		totalsPivotSQL(yearField, amountField, multiplier), string(table), whereSQL)

	runTotals := searching || len(p.Filters) > 0 || p.MinAmount != nil || p.MaxAmount != nil

	result := &ResultSet{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.scanSourceRows(gctx, query, b.args, d, p.Columns, secondaries, searching)
		if err != nil {
			return fmt.Errorf("dataset %s rows: %w", d.Name, err)
		}
		result.Rows = rows
		return nil
	})
	g.Go(func() error {
		total, err := s.fetchCount(gctx, countQuery, countArgs)
		if err != nil {
			return fmt.Errorf("dataset %s count: %w", d.Name, err)
		}
		result.Total = total
		return nil
	})
	if runTotals {
		g.Go(func() error {
			totals, err := s.fetchTotals(gctx, totalsQuery, whereArgs)
			if err != nil {
				return fmt.Errorf("dataset %s totals: %w", d.Name, err)
			}
			result.Totals = totals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("Source table query failed", "dataset", d.Name, "error", err)
		return nil, err
	}
	return result, nil
}

// sortedFilterFields gives filter fields a stable order so statement text
// is deterministic for identical requests.
func sortedFilterFields(filters map[string][]string) []string {
	fields := make([]string, 0, len(filters))
	for f := range filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func (s *Service) scanSourceRows(ctx context.Context, query string, args []interface{}, d *dataset.Descriptor, columns, secondaries []string, searching bool) ([]Row, error) {
	ctx, cancel := s.dbCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			primaryValue string
			years        = make([]decimal.NullDecimal, len(dataset.Years))
			totaal       decimal.NullDecimal
			rowCount     sql.NullInt64
			extraValues  = make([]sql.NullString, len(columns))
			extraCounts  = make([]sql.NullInt64, len(columns))
			matchedVals  = make([]sql.NullString, len(secondaries))
			relevance    sql.NullInt64
		)

		dest := []interface{}{&primaryValue}
		for i := range years {
			dest = append(dest, &years[i])
		}
		dest = append(dest, &totaal, &rowCount)
		if !searching {
			for i := range columns {
				dest = append(dest, &extraValues[i])
			}
			for i := range columns {
				dest = append(dest, &extraCounts[i])
			}
		} else {
			for i := range secondaries {
				dest = append(dest, &matchedVals[i])
			}
			dest = append(dest, &relevance)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := Row{
			PrimaryValue: primaryValue,
			Years:        make(map[int]int64, len(dataset.Years)),
			Totaal:       decimalInt(totaal),
			RowCount:     rowCount.Int64,
		}
		for i, y := range dataset.Years {
			row.Years[y] = decimalInt(years[i])
		}
		if searching {
			for i, f := range secondaries {
				if matchedVals[i].Valid && matchedVals[i].String != "" {
					row.MatchedField = f
					row.MatchedValue = matchedVals[i].String
					break
				}
			}
		} else if len(columns) > 0 {
			row.ExtraColumns = make(map[string]*string, len(columns))
			row.ExtraColumnCounts = make(map[string]int64, len(columns))
			for i, col := range columns {
				row.ExtraColumns[col] = nullableString(extraValues[i])
				row.ExtraColumnCounts[col] = countOrOne(extraCounts[i])
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
