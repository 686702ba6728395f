package query

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/geldstroom-lab/project-geldstroom/internal/core/errors"
	"github.com/geldstroom-lab/project-geldstroom/internal/search"
)

func crossColumns(trailing ...string) []string {
	cols := []string{"primary_value", "sources", "source_count", "record_count",
		"y2016", "y2017", "y2018", "y2019", "y2020", "y2021", "y2022", "y2023", "y2024", "totaal"}
	return append(cols, trailing...)
}

func expectAllAvailability(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT module, year_from, year_to FROM data_availability WHERE entity_type IS NULL`)).
		WillReturnRows(sqlmock.NewRows([]string{"module", "year_from", "year_to"}).
			AddRow("inkoop", 2018, 2024).
			AddRow("instrumenten", 2016, 2021))
}

func TestFetchCrossDataset_DatasetAndBracketFilter(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT $2 OFFSET $3`)).
		WithArgs("%inkoop%", 2, 0).
		WillReturnRows(sqlmock.NewRows(crossColumns()).
			AddRow("Acme BV", "instrumenten, inkoop", 2, 8,
				"0", "0", "0", "0", "0", "0", "0", "150000", "100000", "250000"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM universal_search`)).
		WithArgs("%inkoop%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))
	mock.ExpectQuery(regexp.QuoteMeta(`SUM("2016") AS sum_2016`)).
		WithArgs("%inkoop%").
		WillReturnRows(totalsRow())
	expectAllAvailability(mock)

	result, err := svc.FetchCrossDataset(context.Background(), CrossParams{
		Limit:         2,
		Datasets:      []string{" Inkoop "},
		RecordBracket: "2-10",
		Columns:       []string{"betalingen"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, int64(9), result.Total)
	require.Len(t, result.Rows, 1)
	row := result.Rows[0]
	require.Equal(t, "Acme BV", row.PrimaryValue)
	require.Equal(t, []string{"instrumenten", "inkoop"}, row.Datasets)
	require.Equal(t, int64(2), row.RowCount)
	require.Equal(t, "8", *row.ExtraColumns["betalingen"])
	requireTotals(t, result.Totals)

	// Coverage is the union across the row's datasets.
	require.Equal(t, 2016, *row.DataAvailableFrom)
	require.Equal(t, 2024, *row.DataAvailableTo)
}

func TestFetchCrossDataset_SearchWithRecipientKeys(t *testing.T) {
	svc, mock := newTestService(t, &fakeIndex{recipientKeys: []string{"ACME BV"}})

	mock.ExpectQuery(regexp.QuoteMeta(`ontvanger_key = ANY($1)`)).
		WithArgs(pq.Array([]string{"ACME BV"}), "acme", search.BoundaryPattern("acme"), 25, 0).
		WillReturnRows(sqlmock.NewRows(crossColumns("relevance_score")).
			AddRow("Acme BV", "inkoop", 1, 3,
				"0", "0", "0", "0", "0", "0", "0", "0", "250000", "250000", 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM universal_search`)).
		WithArgs(pq.Array([]string{"ACME BV"})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SUM("2016") AS sum_2016`)).
		WithArgs(pq.Array([]string{"ACME BV"})).
		WillReturnRows(totalsRow())
	expectAllAvailability(mock)

	result, err := svc.FetchCrossDataset(context.Background(), CrossParams{Search: "acme"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, result.Rows, 1)
	require.Equal(t, []string{"inkoop"}, result.Rows[0].Datasets)
	require.Equal(t, 2018, *result.Rows[0].DataAvailableFrom)
}

func TestFetchCrossDataset_PaymentCountSort(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY record_count DESC`)).
		WithArgs(25, 0).
		WillReturnRows(sqlmock.NewRows(crossColumns()))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM universal_search`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	expectAllAvailability(mock)

	result, err := svc.FetchCrossDataset(context.Background(), CrossParams{SortBy: "extra-betalingen"})
	require.NoError(t, err)
	require.Empty(t, result.Rows)
	require.Nil(t, result.Totals)
}

func TestFetchCrossDataset_RejectsUnknownBracket(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.FetchCrossDataset(context.Background(), CrossParams{RecordBracket: "100+"})
	require.Error(t, err)
	require.True(t, coreerrors.IsValidation(err))
}

func TestCrossDatasetDetails(t *testing.T) {
	svc, mock := newTestService(t, nil)

	emptyProbe := func(table string) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM ` + table)).
			WithArgs("Acme B.V.").
			WillReturnRows(sqlmock.NewRows([]string{
				"y2016", "y2017", "y2018", "y2019", "y2020", "y2021", "y2022", "y2023", "y2024",
				"totaal", "row_count",
			}).AddRow("0", "0", "0", "0", "0", "0", "0", "0", "0", "0", 0))
	}

	// Recipient-keyed datasets only: apparaat has no recipient dimension.
	emptyProbe("gemeente_aggregated")
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE "leverancier_key" = normalize_recipient($1)`)).
		WithArgs("Acme B.V.").
		WillReturnRows(sqlmock.NewRows([]string{
			"y2016", "y2017", "y2018", "y2019", "y2020", "y2021", "y2022", "y2023", "y2024",
			"totaal", "row_count",
		}).AddRow("0", "0", "0", "0", "0", "0", "0", "50000", "0", "50000", 3))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM instrumenten_aggregated`)).
		WithArgs("Acme B.V.").
		WillReturnRows(sqlmock.NewRows([]string{
			"y2016", "y2017", "y2018", "y2019", "y2020", "y2021", "y2022", "y2023", "y2024",
			"totaal", "row_count",
		}).AddRow("0", "0", "0", "0", "0", "0", "0", "0", "200000", "200000", 7))
	emptyProbe("provincie_aggregated")
	emptyProbe("publiek_aggregated")

	details, err := svc.CrossDatasetDetails(context.Background(), "Acme B.V.", 0)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	// Zero-total datasets are dropped; the rest sort by total, largest first.
	require.Len(t, details, 2)
	require.Equal(t, "module", details[0].GroupBy)
	require.Equal(t, "instrumenten", *details[0].GroupValue)
	require.Equal(t, int64(200000), details[0].Totaal)
	require.Equal(t, "inkoop", *details[1].GroupValue)
	require.Equal(t, int64(50000), details[1].Years[2023])
}

func TestCrossDatasetDetails_RejectsInvalidYear(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.CrossDatasetDetails(context.Background(), "Acme", 1999)
	require.Error(t, err)
	require.True(t, coreerrors.IsValidation(err))
}
