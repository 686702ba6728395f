package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"

	coreerrors "github.com/geldstroom-lab/project-geldstroom/internal/core/errors"
	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/geldstroom-lab/project-geldstroom/internal/search"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// recordBrackets maps a payment-count bracket to its static predicate on
// the pre-aggregated record count.
var recordBrackets = map[string]string{
	"1":     "record_count = 1",
	"2-10":  "record_count BETWEEN 2 AND 10",
	"11-50": "record_count BETWEEN 11 AND 50",
	"50+":   "record_count >= 50",
}

// FetchCrossDataset queries the pre-joined all-datasets aggregate: one row
// per recipient with per-year sums, the datasets it appears in, and
// payment counts.
func (s *Service) FetchCrossDataset(ctx context.Context, p CrossParams) (*ResultSet, error) {
	if err := validateCommon(&p.Limit, &p.Offset, &p.SortBy, &p.SortOrder, p.Year); err != nil {
		return nil, err
	}
	if p.RecordBracket != "" {
		if _, ok := recordBrackets[p.RecordBracket]; !ok {
			return nil, coreerrors.Validationf("invalid betalingen bracket: %s", p.RecordBracket)
		}
	}

	b := &condBuilder{}

	searching := p.Search != ""
	if searching {
		var keys []string
		if s.index != nil {
			keys = s.index.RecipientKeys(ctx, p.Search, candidateLimit)
		}
		if len(keys) > 0 {
			b.addWhere("ontvanger_key = ANY(" + b.bind(pq.Array(keys)) + ")")
		} else {
			slog.Info("Index returned no recipient candidates, falling back to relational match",
				"query", p.Search)
			b.addWhere("ontvanger ~* " + b.bind(search.BoundaryPattern(p.Search)))
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
	if p.MinYears > 0 {
		b.addWhere("years_with_data >= " + b.bind(p.MinYears))
	}

	// Dataset filter: the recipient must appear in every selected dataset.
	// The sources column is a comma-joined list, so the value is escaped
	// for the pattern match.
	for _, name := range p.Datasets {
		name = strings.ToLower(strings.TrimSpace(name))
		escaped := strings.NewReplacer("%", `\%`, "_", `\_`).Replace(name)
		b.addWhere("sources ILIKE " + b.bind("%"+escaped+"%"))
	}

	if p.RecordBracket != "" {
		b.addWhere(recordBrackets[p.RecordBracket])
	}

	countWhere, countArgs := b.snapshot()

	relevance := ""
	var sortClause string
	switch {
	case searching:
		relevance = relevanceSelect(b, dataset.Ident("ontvanger"), p.Search)
		sortClause = "ORDER BY relevance_score ASC, totaal DESC"
	case p.SortBy == "random":
		sortClause = "ORDER BY random_order"
		if p.Offset == 0 {
			b.addWhere("random_order > " + b.bind(rand.Float64()*0.9))
		}
	default:
		field, err := crossSortField(p.SortBy)
		if err != nil {
			return nil, err
		}
		sortClause = fmt.Sprintf("ORDER BY %s %s", field, sortDirection(p.SortOrder))
	}

	query := fmt.Sprintf(`
		SELECT
			ontvanger AS primary_value,
			sources,
			source_count,
			record_count,
			%s,
			totaal%s
		FROM %s
		%s
		%s
		LIMIT %s OFFSET %s`,
		yearSelectSQL(), relevance, dataset.UniversalSearchTable,
		b.whereSQL(), sortClause, b.bind(p.Limit), b.bind(p.Offset))

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s",
		dataset.UniversalSearchTable, clauseSQL("WHERE", countWhere))
	totalsQuery := fmt.Sprintf("SELECT %s FROM %s %s",
		totalsSelectSQL(), dataset.UniversalSearchTable, clauseSQL("WHERE", countWhere))

	runTotals := searching || p.Year != 0 || p.MinAmount != nil || p.MaxAmount != nil ||
		len(p.Datasets) > 0 || p.RecordBracket != ""

	wantRecordColumn := false
	for _, col := range p.Columns {
		if col == "betalingen" {
			wantRecordColumn = true
		}
	}

	result := &ResultSet{}
	var avail map[string]yearRange
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.scanCrossRows(gctx, query, b.args, searching, wantRecordColumn)
		if err != nil {
			return fmt.Errorf("cross-dataset rows: %w", err)
		}
		result.Rows = rows
		return nil
	})
	g.Go(func() error {
		total, err := s.fetchCount(gctx, countQuery, countArgs)
		if err != nil {
			return fmt.Errorf("cross-dataset count: %w", err)
		}
		result.Total = total
		return nil
	})
	g.Go(func() error {
		avail = s.allDatasetAvailability(gctx)
		return nil
	})
	if runTotals {
		g.Go(func() error {
			totals, err := s.fetchTotals(gctx, totalsQuery, countArgs)
			if err != nil {
				return fmt.Errorf("cross-dataset totals: %w", err)
			}
			result.Totals = totals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("Cross-dataset query failed", "error", err)
		return nil, err
	}

	// Coverage of a cross-dataset row is the union of the coverage of
	// every dataset the recipient appears in.
	for i := range result.Rows {
		var from, to *int
		for _, name := range result.Rows[i].Datasets {
			r, ok := avail[name]
			if !ok {
				continue
			}
			if from == nil || r.From < *from {
				f := r.From
				from = &f
			}
			if to == nil || r.To > *to {
				t := r.To
				to = &t
			}
		}
		result.Rows[i].DataAvailableFrom = from
		result.Rows[i].DataAvailableTo = to
	}
	return result, nil
}

// crossSortField allows the per-dataset sort keys plus the payment-count
// column.
func crossSortField(sortBy string) (string, error) {
	if sortBy == "extra-betalingen" {
		return "record_count", nil
	}
	return sortField(sortBy, dataset.Ident("ontvanger"), false)
}

func (s *Service) scanCrossRows(ctx context.Context, query string, args []interface{}, searching, wantRecordColumn bool) ([]Row, error) {
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
			sources      sql.NullString
			sourceCount  sql.NullInt64
			recordCount  sql.NullInt64
			years        = make([]decimal.NullDecimal, len(dataset.Years))
			totaal       decimal.NullDecimal
			relevance    sql.NullInt64
		)

		dest := []interface{}{&primaryValue, &sources, &sourceCount, &recordCount}
		for i := range years {
			dest = append(dest, &years[i])
		}
		dest = append(dest, &totaal)
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
			RowCount:     sourceCount.Int64,
		}
		if row.RowCount == 0 {
			row.RowCount = 1
		}
		for i, y := range dataset.Years {
			row.Years[y] = decimalInt(years[i])
		}
		if sources.Valid && sources.String != "" {
			for _, part := range strings.Split(sources.String, ",") {
				row.Datasets = append(row.Datasets, strings.TrimSpace(part))
			}
		}
		if wantRecordColumn {
			count := fmt.Sprintf("%d", recordCount.Int64)
			row.ExtraColumns = map[string]*string{"betalingen": &count}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// CrossDatasetDetails breaks a recipient's cross-dataset total down per
// dataset by probing each recipient-keyed aggregated view in parallel.
func (s *Service) CrossDatasetDetails(ctx context.Context, primaryValue string, year int) ([]DetailRow, error) {
	if year != 0 && !dataset.ValidYear(year) {
		return nil, coreerrors.Validationf("invalid year: %d", year)
	}

	type probe struct {
		name  string
		table dataset.Ident
		key   dataset.Ident
	}
	var probes []probe
	for _, d := range s.registry.Descriptors() {
		// Only recipient-keyed datasets take part; cost-category datasets
		// have no recipient dimension.
		if !d.HasView() || (d.PrimaryField != "ontvanger" && d.PrimaryField != "leverancier") {
			continue
		}
		table, err := s.registry.ValidateTable(d.AggregatedTable)
		if err != nil {
			return nil, err
		}
		key, err := s.registry.ValidateColumn(d.PrimaryField + "_key")
		if err != nil {
			return nil, err
		}
		probes = append(probes, probe{name: d.Name, table: table, key: key})
	}

	yearFilter := ""
	if year != 0 {
		yearFilter = fmt.Sprintf(` AND "%d" > 0`, year)
	}

	yearSums := make([]string, len(dataset.Years))
	for i, y := range dataset.Years {
		yearSums[i] = fmt.Sprintf(`COALESCE(SUM("%d"), 0) AS y%d`, y, y)
	}

	results := make([]*DetailRow, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, pr := range probes {
		g.Go(func() error {
			// Per-entity views may carry several rows per recipient, so
			// the probe sums across them.
			query := fmt.Sprintf(`
				SELECT
					%s,
					COALESCE(SUM(totaal), 0) AS totaal,
					COALESCE(SUM(row_count), 0) AS row_count
				FROM %s
				WHERE %s = normalize_recipient($1)%s`,
				strings.Join(yearSums, ", "), pr.table, quoteIdent(pr.key), yearFilter)

			dbctx, cancel := s.dbCtx(gctx)
			defer cancel()

			sums := make([]decimal.NullDecimal, len(dataset.Years))
			var totaal decimal.NullDecimal
			var rowCount sql.NullInt64
			dest := make([]interface{}, 0, len(sums)+2)
			for j := range sums {
				dest = append(dest, &sums[j])
			}
			dest = append(dest, &totaal, &rowCount)

			if err := s.db.QueryRowContext(dbctx, query, primaryValue).Scan(dest...); err != nil {
				return fmt.Errorf("dataset %s breakdown: %w", pr.name, err)
			}
			total := decimalInt(totaal)
			if total == 0 {
				return nil
			}
			row := &DetailRow{
				GroupBy:    "module",
				GroupValue: &probes[i].name,
				Years:      make(map[int]int64, len(dataset.Years)),
				Totaal:     total,
				RowCount:   rowCount.Int64,
			}
			for j, y := range dataset.Years {
				row.Years[y] = decimalInt(sums[j])
			}
			results[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("Cross-dataset breakdown failed", "recipient", primaryValue, "error", err)
		return nil, err
	}

	var out []DetailRow
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Totaal > out[j].Totaal })
	return out, nil
}
