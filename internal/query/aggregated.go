package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/geldstroom-lab/project-geldstroom/internal/search"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// hybridCandidates runs the index step of a search. Empty keys mean the
// caller must fall back to a relational pattern match on the primary
// field; that covers "index unconfigured", "index down" and "no hit
// survived the word-boundary filter" alike.
func (s *Service) hybridCandidates(ctx context.Context, d *dataset.Descriptor, searchInput string) candidateSet {
	if s.index == nil {
		return candidateSet{matched: map[string]search.FieldMatch{}}
	}
	keys, matched := s.index.CandidateKeys(ctx, d, searchInput, candidateLimit)
	if matched == nil {
		matched = map[string]search.FieldMatch{}
	}
	return candidateSet{keys: keys, matched: matched}
}

// relevanceSelect appends the three-tier relevance column: 1 exact primary
// match, 2 word-boundary containment in the primary field, 3 matched only
// via a secondary field.
func relevanceSelect(b *condBuilder, primary dataset.Ident, searchInput string) string {
	clean := search.Parse(searchInput).Raw
	pattern := search.BoundaryPattern(searchInput)
	return fmt.Sprintf(`,
			CASE
				WHEN UPPER(%[1]s) = UPPER(%[2]s) THEN 1
				WHEN %[1]s ~* %[3]s THEN 2
				ELSE 3
			END AS relevance_score`,
		quoteIdent(primary), b.bind(clean), b.bind(pattern))
}

// fromAggregatedView is the fast path: the precomputed, period-pivoted
// view, optionally re-grouped per recipient for entity-partitioned
// datasets.
func (s *Service) fromAggregatedView(ctx context.Context, d *dataset.Descriptor, p Params, entityFilter []string) (*ResultSet, error) {
	aggTable, err := s.registry.ValidateTable(d.AggregatedTable)
	if err != nil {
		return nil, err
	}
	primary, err := s.registry.ValidateColumn(d.PrimaryField)
	if err != nil {
		return nil, err
	}

	var entityField dataset.Ident
	if d.EntityField != "" {
		if entityField, err = s.registry.ValidateColumn(d.EntityField); err != nil {
			return nil, err
		}
	}
	hasEntityFilter := len(entityFilter) > 0 && d.EntityField != ""

	// Entity-partitioned views hold one row per (recipient, entity). The
	// default view re-groups them per recipient; an active entity filter
	// queries the view directly.
	needsEntityGroupBy := d.EntityField != "" && !hasEntityFilter
	fromClause := string(aggTable)
	if needsEntityGroupBy {
		fromClause = entityGroupBySubquery(d, aggTable, primary, entityField)
	}

	extraSelect := ""
	if len(p.Columns) > 0 && p.Search == "" {
		if extraSelect, err = s.extraViewColumnsSelect(d, p.Columns, hasEntityFilter); err != nil {
			return nil, err
		}
	}

	b := &condBuilder{}

	var candidates candidateSet
	searching := p.Search != ""
	if searching {
		candidates = s.hybridCandidates(ctx, d, p.Search)
		if len(candidates.keys) > 0 {
			// Equality lookup over index candidates: fast, uses the
			// primary index.
			b.addWhere(fmt.Sprintf("%s = ANY(%s)", quoteIdent(primary), b.bind(pq.Array(candidates.keys))))
		} else {
			// Degraded index: direct word-boundary pattern match on the
			// primary field only.
			slog.Info("Index returned no candidates, falling back to relational match",
				"dataset", d.Name, "query", p.Search)
			b.addWhere(fmt.Sprintf("%s ~* %s", quoteIdent(primary), b.bind(search.BoundaryPattern(p.Search))))
		}
	}

	if p.Year != 0 {
		b.addWhere(fmt.Sprintf(`"%d" > 0`, p.Year))
	}
	if p.MinAmount != nil {
		b.addWhere("totaal >= " + b.bind(*p.MinAmount))
	}
	if p.MaxAmount != nil {
		b.addWhere("totaal <= " + b.bind(*p.MaxAmount))
	}
	if hasEntityFilter {
		b.addWhere(fmt.Sprintf("%s IN (%s)", quoteIdent(entityField), b.bindAll(entityFilter)))
	}
	if p.MinYears > 0 {
		b.addWhere("years_with_data >= " + b.bind(p.MinYears))
	}

	// Count/totals reflect the true filtered population: snapshot before
	// relevance parameters and the random-rank threshold are added.
	countWhere, countArgs := b.snapshot()

	relevance := ""
	var sortClause string
	switch {
	case searching:
		relevance = relevanceSelect(b, primary, p.Search)
		sortClause = "ORDER BY relevance_score ASC, totaal DESC"
	case p.SortBy == "random":
		sortClause = "ORDER BY random_order"
		if p.Offset == 0 {
			// First page: filter on the precomputed random rank instead
			// of paying for a full random order + offset. The threshold
			// stays below 0.9 so enough rows remain past it.
			b.addWhere("random_order > " + b.bind(rand.Float64()*0.9))
		}
	default:
		field, err := sortField(p.SortBy, primary, false)
		if err != nil {
			return nil, err
		}
		sortClause = fmt.Sprintf("ORDER BY %s %s", field, sortDirection(p.SortOrder))
	}

	query := fmt.Sprintf(`
		SELECT
			%s AS primary_value,
			%s,
			totaal,
			row_count%s%s
		FROM %s
		%s
		%s
		LIMIT %s OFFSET %s`,
		quoteIdent(primary), yearSelectSQL(), extraSelect, relevance,
		fromClause, b.whereSQL(), sortClause, b.bind(p.Limit), b.bind(p.Offset))

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", fromClause, clauseSQL("WHERE", countWhere))
	totalsQuery := fmt.Sprintf("SELECT %s FROM %s %s", totalsSelectSQL(), fromClause, clauseSQL("WHERE", countWhere))

	runTotals := searching || p.Year != 0 || p.MinAmount != nil || p.MaxAmount != nil || hasEntityFilter

	result := &ResultSet{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.scanAggregatedRows(gctx, query, b.args, p.Columns, searching)
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
			totals, err := s.fetchTotals(gctx, totalsQuery, countArgs)
			if err != nil {
				return fmt.Errorf("dataset %s totals: %w", d.Name, err)
			}
			result.Totals = totals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("Aggregated view query failed", "dataset", d.Name, "error", err)
		return nil, err
	}

	// Rows the index matched on the primary field only may still match a
	// secondary field; a best-effort lookup fills in that context.
	if searching && len(candidates.keys) > 0 {
		s.enrichMatchedInfo(ctx, d, candidates, p.Search)
	}
	if searching {
		for i := range result.Rows {
			if m, ok := candidates.matched[result.Rows[i].PrimaryValue]; ok {
				result.Rows[i].MatchedField = m.Field
				result.Rows[i].MatchedValue = m.Value
			}
		}
	}
	return result, nil
}

// entityGroupBySubquery aggregates per-entity view rows back to one row
// per recipient for the default (unfiltered) view.
func entityGroupBySubquery(d *dataset.Descriptor, aggTable, primary, entityField dataset.Ident) string {
	keyField := quoteIdent(dataset.Ident(d.PrimaryField + "_key"))

	withData := make([]string, len(dataset.Years))
	for i, y := range dataset.Years {
		withData[i] = fmt.Sprintf(`CASE WHEN SUM("%d") > 0 THEN 1 ELSE 0 END`, y)
	}

	var extraAgg []string
	for _, vc := range d.ViewColumns {
		col := quoteIdent(dataset.Ident(vc))
		extraAgg = append(extraAgg, fmt.Sprintf("MODE() WITHIN GROUP (ORDER BY %s) AS %s", col, col))
		if vc == d.EntityField {
			extraAgg = append(extraAgg, fmt.Sprintf(`COUNT(DISTINCT %s) AS "%s_count"`, col, vc))
		} else {
			extraAgg = append(extraAgg, fmt.Sprintf(`MAX("%s_count") AS "%s_count"`, vc, vc))
		}
	}
	extraSQL := ""
	if len(extraAgg) > 0 {
		extraSQL = ", " + strings.Join(extraAgg, ", ")
	}

	return fmt.Sprintf(`(
		SELECT %[1]s, MIN(%[2]s) AS %[2]s,
			%[3]s,
			SUM(totaal) AS totaal,
			SUM(row_count) AS row_count%[4]s,
			(%[5]s) AS years_with_data,
			MIN(random_order) AS random_order
		FROM %[6]s
		GROUP BY %[1]s
	) AS %[6]s`,
		keyField, quoteIdent(primary), yearSumSQL(), extraSQL,
		strings.Join(withData, " + "), string(aggTable))
}

// extraViewColumnsSelect selects requested display columns straight from
// the view, with the distinct-value count driving the "+N more" marker.
func (s *Service) extraViewColumnsSelect(d *dataset.Descriptor, columns []string, hasEntityFilter bool) (string, error) {
	var values, counts []string
	for _, col := range columns {
		id, err := s.registry.ValidateColumn(col)
		if err != nil {
			return "", err
		}
		values = append(values, fmt.Sprintf(`%s AS "extra_%s"`, quoteIdent(id), col))
		if hasEntityFilter && col == d.EntityField {
			// Each row is one entity under an active entity filter.
			counts = append(counts, fmt.Sprintf(`1 AS "extra_%s_count"`, col))
		} else {
			counts = append(counts, fmt.Sprintf(`COALESCE("%s_count", 1) AS "extra_%s_count"`, col, col))
		}
	}
	return ", " + strings.Join(values, ", ") + ", " + strings.Join(counts, ", "), nil
}

// scanAggregatedRows reads the main aggregated-view result set. Column
// order is fixed by the builder: primary, pivoted years, totaal,
// row_count, optional extra value+count pairs, optional relevance score.
func (s *Service) scanAggregatedRows(ctx context.Context, query string, args []interface{}, columns []string, searching bool) ([]Row, error) {
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
		}
		if searching {
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
		if !searching && len(columns) > 0 {
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

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func countOrOne(n sql.NullInt64) int64 {
	if !n.Valid || n.Int64 < 1 {
		return 1
	}
	return n.Int64
}
