package query

import (
	"fmt"
	"strings"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
)

// condBuilder accumulates WHERE/HAVING conditions with numbered bind
// parameters. Values always travel as parameters; the only strings spliced
// into condition text are dataset.Ident tokens, which have passed the
// identifier registry.
type condBuilder struct {
	where  []string
	having []string
	args   []interface{}
}

// bind registers a value and returns its placeholder ("$1", "$2", ...).
func (b *condBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// bindAll registers values and returns a comma-joined placeholder list.
func (b *condBuilder) bindAll(values []string) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = b.bind(v)
	}
	return strings.Join(placeholders, ", ")
}

func (b *condBuilder) addWhere(cond string)  { b.where = append(b.where, cond) }
func (b *condBuilder) addHaving(cond string) { b.having = append(b.having, cond) }

func (b *condBuilder) whereSQL() string  { return clauseSQL("WHERE", b.where) }
func (b *condBuilder) havingSQL() string { return clauseSQL("HAVING", b.having) }

// snapshot captures the current conditions and arguments; the count and
// totals queries are built from it so later additions (relevance
// parameters, the random-rank threshold, pagination) never leak into them.
func (b *condBuilder) snapshot() ([]string, []interface{}) {
	where := make([]string, len(b.where))
	copy(where, b.where)
	args := make([]interface{}, len(b.args))
	copy(args, b.args)
	return where, args
}

func clauseSQL(keyword string, conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return keyword + " " + strings.Join(conds, " AND ")
}

// quoteIdent double-quotes a validated identifier. Defense-in-depth: the
// token already passed the registry, quoting additionally neutralizes any
// keyword collision.
func quoteIdent(id dataset.Ident) string {
	return `"` + string(id) + `"`
}

// yearSelectSQL builds the pivoted year column list of an aggregated view:
// "2016" AS y2016, ... .
func yearSelectSQL() string {
	parts := make([]string, len(dataset.Years))
	for i, y := range dataset.Years {
		parts[i] = fmt.Sprintf(`"%d" AS y%d`, y, y)
	}
	return strings.Join(parts, ", ")
}

// yearSumSQL builds SUM("2016") AS y2016, ... for re-grouping entity views.
func yearSumSQL() string {
	parts := make([]string, len(dataset.Years))
	for i, y := range dataset.Years {
		parts[i] = fmt.Sprintf(`SUM("%d") AS "%d"`, y, y)
	}
	return strings.Join(parts, ", ")
}

// yearPivotSQL builds the on-the-fly pivot for the source-table path:
// COALESCE(SUM(CASE WHEN <yearField> = 2016 THEN <amountField> END), 0) * m AS "y2016", ...
func yearPivotSQL(yearField, amountField dataset.Ident, multiplier int64) string {
	parts := make([]string, len(dataset.Years))
	for i, y := range dataset.Years {
		parts[i] = fmt.Sprintf(
			`COALESCE(SUM(CASE WHEN %s = %d THEN %s END), 0) * %d AS "y%d"`,
			quoteIdent(yearField), y, quoteIdent(amountField), multiplier, y)
	}
	return strings.Join(parts, ", ")
}

// totalExprSQL is the grand-total aggregate of the source-table path.
func totalExprSQL(yearField, amountField dataset.Ident, multiplier int64) string {
	return fmt.Sprintf(
		`COALESCE(SUM(CASE WHEN %s BETWEEN %d AND %d THEN %s END), 0) * %d`,
		quoteIdent(yearField), dataset.Years[0], dataset.Years[len(dataset.Years)-1],
		quoteIdent(amountField), multiplier)
}

// totalsSelectSQL builds per-year sum columns of a totals query over a
// pivoted table/view.
func totalsSelectSQL() string {
	parts := make([]string, 0, len(dataset.Years)+1)
	for _, y := range dataset.Years {
		parts = append(parts, fmt.Sprintf(`SUM("%d") AS sum_%d`, y, y))
	}
	parts = append(parts, `SUM(totaal) AS sum_totaal`)
	return strings.Join(parts, ", ")
}

// totalsPivotSQL builds per-year sum columns plus grand total on the raw
// source table.
func totalsPivotSQL(yearField, amountField dataset.Ident, multiplier int64) string {
	parts := make([]string, 0, len(dataset.Years)+1)
	for _, y := range dataset.Years {
		parts = append(parts, fmt.Sprintf(
			`COALESCE(SUM(CASE WHEN %s = %d THEN %s END), 0) * %d AS sum_%d`,
			quoteIdent(yearField), y, quoteIdent(amountField), multiplier, y))
	}
	parts = append(parts, totalExprSQL(yearField, amountField, multiplier)+" AS sum_totaal")
	return strings.Join(parts, ", ")
}
