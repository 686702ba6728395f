package query

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/geldstroom-lab/project-geldstroom/internal/search"
)

func TestAutocomplete_IndexServed(t *testing.T) {
	index := &fakeIndex{suggestions: search.Suggestions{
		CurrentDataset: []search.Suggestion{{Name: "Nationale Politie", Totaal: 900000, MatchType: "exact"}},
	}}
	svc, mock := newTestService(t, index)

	out, err := svc.Autocomplete(context.Background(), "inkoop", "politie", 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, out.CurrentDataset, 1)
	require.Equal(t, "Nationale Politie", out.CurrentDataset[0].Name)
}

func TestAutocomplete_RelationalFallback(t *testing.T) {
	svc, mock := newTestService(t, &fakeIndex{})

	mock.ExpectQuery(regexp.QuoteMeta(`FROM inkoop_aggregated WHERE "leverancier" ~* $1`)).
		WithArgs(search.BoundaryPattern("politie")).
		WillReturnRows(sqlmock.NewRows([]string{"name", "totaal"}).
			AddRow("Nationale Politie", "900000").
			AddRow("Politieacademie", "120000"))

	out, err := svc.Autocomplete(context.Background(), "inkoop", "politie", 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, out.CurrentDataset, 2)
	require.Equal(t, "exact", out.CurrentDataset[0].MatchType)
	require.Equal(t, int64(900000), out.CurrentDataset[0].Totaal)
	// "politie" is embedded mid-word, not on a boundary.
	require.Equal(t, "prefix", out.CurrentDataset[1].MatchType)
}

func TestAutocomplete_FallbackFailureYieldsEmpty(t *testing.T) {
	svc, mock := newTestService(t, &fakeIndex{})

	mock.ExpectQuery(regexp.QuoteMeta(`FROM inkoop_aggregated`)).
		WillReturnError(context.DeadlineExceeded)

	out, err := svc.Autocomplete(context.Background(), "inkoop", "politie", 5)
	require.NoError(t, err)
	require.Empty(t, out.CurrentDataset)
}

func TestRecipientSuggestions_FallsBackToUniversalView(t *testing.T) {
	svc, mock := newTestService(t, &fakeIndex{})

	mock.ExpectQuery(regexp.QuoteMeta(`FROM universal_search WHERE "ontvanger" ~* $1`)).
		WithArgs(search.BoundaryPattern("rode kruis")).
		WillReturnRows(sqlmock.NewRows([]string{"name", "totaal"}).
			AddRow("Het Nederlandse Rode Kruis", "4500000"))

	out := svc.RecipientSuggestions(context.Background(), "rode kruis", 5)
	require.Len(t, out, 1)
	require.Equal(t, "Het Nederlandse Rode Kruis", out[0].Name)
	require.Equal(t, "exact", out[0].MatchType)
}
