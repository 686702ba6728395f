package query

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/geldstroom-lab/project-geldstroom/internal/search"
)

// fakeIndex is a canned Index for planner tests.
type fakeIndex struct {
	keys          []string
	matched       map[string]search.FieldMatch
	recipientKeys []string
	suggestions   search.Suggestions
	recipients    []search.Suggestion
}

func (f *fakeIndex) Configured() bool { return true }

func (f *fakeIndex) CandidateKeys(context.Context, *dataset.Descriptor, string, int) ([]string, map[string]search.FieldMatch) {
	return f.keys, f.matched
}

func (f *fakeIndex) RecipientKeys(context.Context, string, int) []string {
	return f.recipientKeys
}

func (f *fakeIndex) Autocomplete(context.Context, *dataset.Descriptor, string, int) search.Suggestions {
	return f.suggestions
}

func (f *fakeIndex) RecipientSuggestions(context.Context, string, int) []search.Suggestion {
	return f.recipients
}

// newTestService wires a Service to a sqlmock connection. Expectations are
// matched out of order because rows, count and totals run concurrently.
func newTestService(t *testing.T, index Index) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	registry, err := dataset.NewRegistry(dataset.BuiltIn())
	require.NoError(t, err)

	return NewService(db, registry, index, time.Second), mock
}

// resultColumns builds the main result-set column list: primary, pivoted
// years, totaal, row_count, then any trailing columns the path appends.
func resultColumns(trailing ...string) []string {
	cols := []string{"primary_value", "y2016", "y2017", "y2018", "y2019",
		"y2020", "y2021", "y2022", "y2023", "y2024", "totaal", "row_count"}
	return append(cols, trailing...)
}

func totalsColumns() []string {
	return []string{"sum_2016", "sum_2017", "sum_2018", "sum_2019", "sum_2020",
		"sum_2021", "sum_2022", "sum_2023", "sum_2024", "sum_totaal"}
}

func totalsRow() *sqlmock.Rows {
	return sqlmock.NewRows(totalsColumns()).
		AddRow("0", "0", "0", "0", "0", "1000", "2000", "3000", "4000", "10000")
}

func requireTotals(t *testing.T, totals *Totals) {
	t.Helper()
	require.NotNil(t, totals)
	require.Equal(t, int64(10000), totals.Totaal)
	require.Equal(t, int64(3000), totals.Years[2023])
	require.Equal(t, int64(0), totals.Years[2016])
}
