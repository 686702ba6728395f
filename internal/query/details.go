package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	coreerrors "github.com/geldstroom-lab/project-geldstroom/internal/core/errors"
	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/shopspring/decimal"
)

// RowDetails breaks one recipient's total down by a grouping field,
// straight from the source table. Matching goes through the normalized
// recipient key so case and formatting variants of the same name land on
// one row.
func (s *Service) RowDetails(ctx context.Context, datasetName, primaryValue, groupBy string, year int) ([]DetailRow, error) {
	d, err := s.registry.Get(datasetName)
	if err != nil {
		return nil, err
	}
	if year != 0 && !dataset.ValidYear(year) {
		return nil, coreerrors.Validationf("invalid year: %d", year)
	}

	groupField := groupBy
	if groupField == "" {
		groupField = d.DefaultGroupBy
		if groupField == "" {
			groupField = d.PrimaryField
		}
	}
	if !d.IsFilterField(groupField) && !d.IsExtraColumn(groupField) && groupField != d.PrimaryField {
		return nil, coreerrors.Validationf("invalid group_by field %q for dataset %q", groupField, d.Name)
	}

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
	groupID, err := s.registry.ValidateColumn(groupField)
	if err != nil {
		return nil, err
	}

	b := &condBuilder{}
	b.addWhere(fmt.Sprintf("normalize_recipient(%s) = normalize_recipient(%s)",
		quoteIdent(primary), b.bind(primaryValue)))
	if year != 0 {
		b.addWhere(fmt.Sprintf("%s = %s", quoteIdent(yearField), b.bind(year)))
	}

	query := fmt.Sprintf(`
		SELECT
			%[1]s::text AS group_value,
			%[2]s,
			COALESCE(SUM(%[3]s), 0) * %[4]d AS totaal,
			COUNT(*) AS row_count
		FROM %[5]s
		%[6]s
		GROUP BY %[1]s
		ORDER BY totaal DESC
		LIMIT 100`,
		quoteIdent(groupID), yearPivotSQL(yearField, amountField, d.Multiplier()),
		quoteIdent(amountField), d.Multiplier(), string(table), b.whereSQL())

	dbctx, cancel := s.dbCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(dbctx, query, b.args...)
	if err != nil {
		slog.Error("Row details query failed", "dataset", d.Name, "error", err)
		return nil, fmt.Errorf("details for %s: %w", d.Name, err)
	}
	defer rows.Close()

	var out []DetailRow
	for rows.Next() {
		var (
			groupValue sql.NullString
			years      = make([]decimal.NullDecimal, len(dataset.Years))
			totaal     decimal.NullDecimal
			rowCount   sql.NullInt64
		)
		dest := []interface{}{&groupValue}
		for i := range years {
			dest = append(dest, &years[i])
		}
		dest = append(dest, &totaal, &rowCount)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan detail row: %w", err)
		}

		row := DetailRow{
			GroupBy:    groupField,
			GroupValue: nullableString(groupValue),
			Years:      make(map[int]int64, len(dataset.Years)),
			Totaal:     decimalInt(totaal),
			RowCount:   rowCount.Int64,
		}
		for i, y := range dataset.Years {
			row.Years[y] = decimalInt(years[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detail rows: %w", err)
	}
	return out, nil
}

// GroupingCounts reports, per groupable field, how many distinct values a
// recipient's rows hold, in one statement. The expanded-row dropdown uses
// it to label each grouping choice.
func (s *Service) GroupingCounts(ctx context.Context, datasetName, primaryValue string) (map[string]int64, error) {
	d, err := s.registry.Get(datasetName)
	if err != nil {
		return nil, err
	}
	if len(d.GroupableFields) == 0 {
		return map[string]int64{}, nil
	}

	table, err := s.registry.ValidateTable(d.Table)
	if err != nil {
		return nil, err
	}
	primary, err := s.registry.ValidateColumn(d.PrimaryField)
	if err != nil {
		return nil, err
	}

	counts := make([]string, len(d.GroupableFields))
	for i, f := range d.GroupableFields {
		id, err := s.registry.ValidateColumn(f)
		if err != nil {
			return nil, err
		}
		counts[i] = fmt.Sprintf(`COUNT(DISTINCT %s) AS "%s_count"`, quoteIdent(id), f)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE normalize_recipient(%s) = normalize_recipient($1)`,
		strings.Join(counts, ", "), string(table), quoteIdent(primary))

	dbctx, cancel := s.dbCtx(ctx)
	defer cancel()

	dests := make([]sql.NullInt64, len(d.GroupableFields))
	scanArgs := make([]interface{}, len(dests))
	for i := range dests {
		scanArgs[i] = &dests[i]
	}
	if err := s.db.QueryRowContext(dbctx, query, primaryValue).Scan(scanArgs...); err != nil {
		slog.Error("Grouping counts query failed", "dataset", d.Name, "error", err)
		return nil, fmt.Errorf("grouping counts for %s: %w", d.Name, err)
	}

	out := make(map[string]int64, len(d.GroupableFields))
	for i, f := range d.GroupableFields {
		out[f] = dests[i].Int64
	}
	return out, nil
}
