package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/geldstroom-lab/project-geldstroom/internal/search"
	"github.com/lib/pq"
)

// enrichMatchedInfo backfills matched-field context for candidates the
// index matched on the primary field only: their secondary fields may also
// contain the term, and the UI shows that as extra context. Failures are
// logged and swallowed; the result set simply stays unannotated.
func (s *Service) enrichMatchedInfo(ctx context.Context, d *dataset.Descriptor, candidates candidateSet, searchInput string) {
	var unenriched []string
	for _, k := range candidates.keys {
		if _, ok := candidates.matched[k]; !ok {
			unenriched = append(unenriched, k)
		}
	}
	secondaries := d.SecondaryFields()
	if len(unenriched) == 0 || len(secondaries) == 0 {
		return
	}

	table, err := s.registry.ValidateTable(d.Table)
	if err != nil {
		return
	}
	primary, err := s.registry.ValidateColumn(d.PrimaryField)
	if err != nil {
		return
	}

	var fieldCases, valueCases, orConds []string
	for _, f := range secondaries {
		id, err := s.registry.ValidateColumn(f)
		if err != nil {
			return
		}
		col := quoteIdent(id)
		fieldCases = append(fieldCases, fmt.Sprintf("WHEN %s ~* $1 THEN '%s'", col, f))
		valueCases = append(valueCases, fmt.Sprintf("WHEN %s ~* $1 THEN %s", col, col))
		orConds = append(orConds, col+" ~* $1")
	}

	query := fmt.Sprintf(`
		WITH primary_list AS (
			SELECT unnest($2::text[]) AS pv
		)
		SELECT
			pl.pv AS key,
			CASE %s ELSE NULL END AS matched_field,
			CASE %s ELSE NULL END AS matched_value
		FROM primary_list pl
		CROSS JOIN LATERAL (
			SELECT *
			FROM %s
			WHERE %s = pl.pv
			  AND (%s)
			LIMIT 1
		) t`,
		strings.Join(fieldCases, " "), strings.Join(valueCases, " "),
		string(table), quoteIdent(primary), strings.Join(orConds, " OR "))

	dbctx, cancel := s.dbCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(dbctx, query, search.BoundaryPattern(searchInput), pq.Array(unenriched))
	if err != nil {
		slog.Warn("Matched-info enrichment failed", "dataset", d.Name, "error", err)
		return
	}
	defer rows.Close()

	enriched := 0
	for rows.Next() {
		var key string
		var field, value sql.NullString
		if err := rows.Scan(&key, &field, &value); err != nil {
			slog.Warn("Matched-info enrichment scan failed", "dataset", d.Name, "error", err)
			return
		}
		if !field.Valid {
			continue
		}
		if _, ok := candidates.matched[key]; !ok {
			candidates.matched[key] = search.FieldMatch{Field: field.String, Value: value.String}
			enriched++
		}
	}
	if err := rows.Err(); err != nil {
		slog.Warn("Matched-info enrichment failed", "dataset", d.Name, "error", err)
		return
	}
	if enriched > 0 {
		slog.Info("Enriched primary-only matches with secondary field context", "count", enriched)
	}
}
