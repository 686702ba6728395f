package query

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/geldstroom-lab/project-geldstroom/internal/core/errors"
)

func TestFilterOptions(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT "ministerie"::text AS value`)).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).
			AddRow("Ministerie van BZK").
			AddRow("Ministerie van VWS"))

	values, err := svc.FilterOptions(context.Background(), "inkoop", "ministerie")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, []string{"Ministerie van BZK", "Ministerie van VWS"}, values)
}

func TestFilterOptions_RejectsUnknownField(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.FilterOptions(context.Background(), "inkoop", "leverancier")
	require.Error(t, err)
	require.True(t, coreerrors.IsValidation(err))
}

func TestCascadingFilterOptions(t *testing.T) {
	svc, mock := newTestService(t, nil)

	// The selected ministerie narrows the other facets but not its own.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "ministerie"::text AS value, COUNT(DISTINCT "leverancier") AS count`)).
		WillReturnRows(sqlmock.NewRows([]string{"value", "count"}).
			AddRow("Ministerie van BZK", 120).
			AddRow("Ministerie van VWS", 80))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "categorie"::text AS value, COUNT(DISTINCT "leverancier") AS count`)).
		WithArgs("Ministerie van BZK").
		WillReturnRows(sqlmock.NewRows([]string{"value", "count"}).
			AddRow("ICT", 45))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "staffel"::text AS value, COUNT(DISTINCT "leverancier") AS count`)).
		WithArgs("Ministerie van BZK").
		WillReturnRows(sqlmock.NewRows([]string{"value", "count"}))

	options, err := svc.CascadingFilterOptions(context.Background(), "inkoop",
		map[string][]string{"ministerie": {"Ministerie van BZK"}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, options, 3)
	require.Equal(t, []FacetOption{
		{Value: "Ministerie van BZK", Count: 120},
		{Value: "Ministerie van VWS", Count: 80},
	}, options["ministerie"])
	require.Equal(t, []FacetOption{{Value: "ICT", Count: 45}}, options["categorie"])
	require.Empty(t, options["staffel"])
}

func TestCascadingFilterOptions_RejectsUnknownActiveField(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.CascadingFilterOptions(context.Background(), "inkoop",
		map[string][]string{"bedrag": {"100"}})
	require.Error(t, err)
	require.True(t, coreerrors.IsValidation(err))
}
