package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/shopspring/decimal"
)

// DatasetStats returns the unique-entity count and grand total for a
// dataset, or across all datasets for the cross-dataset name. Drives the
// search placeholder text.
func (s *Service) DatasetStats(ctx context.Context, datasetName string) (*Stats, error) {
	var query string
	switch {
	case datasetName == dataset.CrossDatasetName:
		query = fmt.Sprintf("SELECT COUNT(*) AS count, SUM(totaal) AS total FROM %s",
			dataset.UniversalSearchTable)
	default:
		d, err := s.registry.Get(datasetName)
		if err != nil {
			return nil, err
		}
		tableName := d.AggregatedTable
		if tableName == "" {
			tableName = d.Table
		}
		table, err := s.registry.ValidateTable(tableName)
		if err != nil {
			return nil, err
		}
		if d.EntityField != "" {
			// Per-entity views carry one row per (recipient, entity);
			// unique recipients come from the normalized key.
			key, err := s.registry.ValidateColumn(d.PrimaryField + "_key")
			if err != nil {
				return nil, err
			}
			query = fmt.Sprintf("SELECT COUNT(DISTINCT %s) AS count, SUM(totaal) AS total FROM %s",
				quoteIdent(key), string(table))
		} else {
			query = fmt.Sprintf("SELECT COUNT(*) AS count, SUM(totaal) AS total FROM %s", string(table))
		}
	}

	dbctx, cancel := s.dbCtx(ctx)
	defer cancel()

	var count sql.NullInt64
	var total decimal.NullDecimal
	if err := s.db.QueryRowContext(dbctx, query).Scan(&count, &total); err != nil {
		slog.Error("Stats query failed", "dataset", datasetName, "error", err)
		return nil, fmt.Errorf("stats for %s: %w", datasetName, err)
	}

	totalInt := decimalInt(total)
	return &Stats{
		Count:          count.Int64,
		Total:          totalInt,
		TotalFormatted: formatEuroTotal(totalInt),
	}, nil
}

// formatEuroTotal renders an amount the Dutch way: "1,47 biljoen",
// "156 miljard", "12 miljoen", or dot-grouped digits below a million.
func formatEuroTotal(total int64) string {
	switch {
	case total >= 1_000_000_000_000:
		v := fmt.Sprintf("%.2f", float64(total)/1_000_000_000_000)
		return strings.ReplaceAll(v, ".", ",") + " biljoen"
	case total >= 1_000_000_000:
		return fmt.Sprintf("%.0f miljard", float64(total)/1_000_000_000)
	case total >= 1_000_000:
		return fmt.Sprintf("%.0f miljoen", float64(total)/1_000_000)
	default:
		return groupThousands(total)
	}
}

// groupThousands inserts Dutch thousands separators: 1234567 → "1.234.567".
func groupThousands(n int64) string {
	digits := fmt.Sprintf("%d", n)
	neg := false
	if strings.HasPrefix(digits, "-") {
		neg = true
		digits = digits[1:]
	}
	var parts []string
	for len(digits) > 3 {
		parts = append([]string{digits[len(digits)-3:]}, parts...)
		digits = digits[:len(digits)-3]
	}
	parts = append([]string{digits}, parts...)
	out := strings.Join(parts, ".")
	if neg {
		out = "-" + out
	}
	return out
}
