package query

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/geldstroom-lab/project-geldstroom/internal/search"
)

func TestFetch_AggregatedView_Browse(t *testing.T) {
	svc, mock := newTestService(t, nil)
	minAmount := 1000.0

	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT $2 OFFSET $3`)).
		WithArgs(minAmount, 2, 0).
		WillReturnRows(sqlmock.NewRows(resultColumns()).
			AddRow("Acme Facilitair", "0", "0", "0", "0", "0", "0", "0", "250000", "0", "250000", 12).
			AddRow("Borealis Advies", "0", "0", "0", "0", "0", "0", "0", "0", "180000", "180000", 3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM inkoop_aggregated WHERE totaal >= $1`)).
		WithArgs(minAmount).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(57))
	mock.ExpectQuery(regexp.QuoteMeta(`SUM("2016") AS sum_2016`)).
		WithArgs(minAmount).
		WillReturnRows(totalsRow())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT year_from, year_to FROM data_availability`)).
		WithArgs("inkoop").
		WillReturnRows(sqlmock.NewRows([]string{"year_from", "year_to"}).AddRow(2018, 2024))

	result, err := svc.Fetch(context.Background(), "inkoop", Params{Limit: 2, MinAmount: &minAmount})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, int64(57), result.Total)
	require.Len(t, result.Rows, 2)
	require.Equal(t, "Acme Facilitair", result.Rows[0].PrimaryValue)
	require.Equal(t, int64(250000), result.Rows[0].Totaal)
	require.Equal(t, int64(250000), result.Rows[0].Years[2023])
	require.Equal(t, int64(0), result.Rows[0].Years[2016])
	require.Equal(t, int64(12), result.Rows[0].RowCount)
	requireTotals(t, result.Totals)

	require.NotNil(t, result.Rows[0].DataAvailableFrom)
	require.Equal(t, 2018, *result.Rows[0].DataAvailableFrom)
	require.Equal(t, 2024, *result.Rows[1].DataAvailableTo)
}

func TestFetch_AggregatedView_SearchFallsBackWithoutCandidates(t *testing.T) {
	svc, mock := newTestService(t, &fakeIndex{})
	pattern := search.BoundaryPattern("politie")

	mock.ExpectQuery(regexp.QuoteMeta(`relevance_score`)).
		WithArgs(pattern, "politie", pattern, 25, 0).
		WillReturnRows(sqlmock.NewRows(resultColumns("relevance_score")).
			AddRow("Nationale Politie", "0", "0", "0", "0", "0", "0", "0", "0", "900000", "900000", 4, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM inkoop_aggregated WHERE "leverancier" ~* $1`)).
		WithArgs(pattern).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SUM("2016") AS sum_2016`)).
		WithArgs(pattern).
		WillReturnRows(totalsRow())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT year_from, year_to FROM data_availability`)).
		WithArgs("inkoop").
		WillReturnRows(sqlmock.NewRows([]string{"year_from", "year_to"}).AddRow(2016, 2024))

	result, err := svc.Fetch(context.Background(), "inkoop", Params{Search: "politie"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, int64(1), result.Total)
	require.Len(t, result.Rows, 1)
	require.Empty(t, result.Rows[0].MatchedField)
	requireTotals(t, result.Totals)
}

func TestFetch_AggregatedView_SearchWithIndexCandidates(t *testing.T) {
	index := &fakeIndex{
		keys: []string{"ACME BV"},
		matched: map[string]search.FieldMatch{
			"ACME BV": {Field: "ministerie", Value: "Ministerie van Defensie"},
		},
	}
	svc, mock := newTestService(t, index)

	mock.ExpectQuery(regexp.QuoteMeta(`"leverancier" = ANY($1)`)).
		WithArgs(pq.Array([]string{"ACME BV"}), "acme", search.BoundaryPattern("acme"), 25, 0).
		WillReturnRows(sqlmock.NewRows(resultColumns("relevance_score")).
			AddRow("ACME BV", "0", "0", "0", "0", "0", "0", "0", "0", "50000", "50000", 2, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM inkoop_aggregated`)).
		WithArgs(pq.Array([]string{"ACME BV"})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SUM("2016") AS sum_2016`)).
		WithArgs(pq.Array([]string{"ACME BV"})).
		WillReturnRows(totalsRow())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT year_from, year_to FROM data_availability`)).
		WithArgs("inkoop").
		WillReturnRows(sqlmock.NewRows([]string{"year_from", "year_to"}).AddRow(2016, 2024))

	result, err := svc.Fetch(context.Background(), "inkoop", Params{Search: "acme"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, result.Rows, 1)
	require.Equal(t, "ministerie", result.Rows[0].MatchedField)
	require.Equal(t, "Ministerie van Defensie", result.Rows[0].MatchedValue)
}

func TestFetch_EntityDataset_RegroupsPerRecipient(t *testing.T) {
	svc, mock := newTestService(t, nil)

	// Without an entity filter the per-(recipient, entity) view is folded
	// back to one row per recipient.
	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY "ontvanger_key"`)).
		WithArgs(1, 0).
		WillReturnRows(sqlmock.NewRows(resultColumns()).
			AddRow("Stichting Lezen", "0", "0", "0", "0", "0", "0", "0", "0", "40000", "40000", 5))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM (`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	result, err := svc.Fetch(context.Background(), "gemeente", Params{Limit: 1})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, result.Rows, 1)
	require.Nil(t, result.Totals)
	// No entity filter: the full fixed period is assumed.
	require.Equal(t, 2016, *result.Rows[0].DataAvailableFrom)
	require.Equal(t, 2024, *result.Rows[0].DataAvailableTo)
}

func TestFetch_EntityFilter_UsesEntityAvailability(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT $2 OFFSET $3`)).
		WithArgs("Amsterdam", 25, 0).
		WillReturnRows(sqlmock.NewRows(resultColumns()).
			AddRow("Stichting Lezen", "0", "0", "0", "0", "0", "0", "0", "0", "40000", "40000", 5))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM gemeente_aggregated WHERE "gemeente" IN ($1)`)).
		WithArgs("Amsterdam").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SUM("2016") AS sum_2016`)).
		WithArgs("Amsterdam").
		WillReturnRows(totalsRow())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT entity_name, year_from, year_to FROM data_availability`)).
		WithArgs("gemeente", "gemeente").
		WillReturnRows(sqlmock.NewRows([]string{"entity_name", "year_from", "year_to"}).
			AddRow("Amsterdam", 2017, 2023))

	result, err := svc.Fetch(context.Background(), "gemeente", Params{
		Filters: map[string][]string{"gemeente": {"Amsterdam"}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, result.Rows, 1)
	requireTotals(t, result.Totals)
	require.Equal(t, 2017, *result.Rows[0].DataAvailableFrom)
	require.Equal(t, 2023, *result.Rows[0].DataAvailableTo)
}
