package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/geldstroom-lab/project-geldstroom/internal/query"
)

func setupRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	registry, err := dataset.NewRegistry(dataset.BuiltIn())
	require.NoError(t, err)

	r := gin.New()
	NewHandler(query.NewService(db, registry, nil, time.Second)).RegisterRoutes(r)
	return r, mock
}

func doRequest(t *testing.T, r *gin.Engine, path string) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHandleListDatasets(t *testing.T) {
	r, _ := setupRouter(t)

	status, body := doRequest(t, r, "/v1/datasets")
	require.Equal(t, http.StatusOK, status)

	datasets := body["datasets"].([]interface{})
	require.Len(t, datasets, 6)
	first := datasets[0].(map[string]interface{})
	require.Equal(t, "apparaat", first["name"])
	require.Equal(t, "kostensoort", first["primary_field"])
}

func TestHandleQuery_BrowseHappyPath(t *testing.T) {
	r, mock := setupRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT $1 OFFSET $2`)).
		WithArgs(1, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"primary_value", "y2016", "y2017", "y2018", "y2019", "y2020",
			"y2021", "y2022", "y2023", "y2024", "totaal", "row_count",
		}).AddRow("Acme Facilitair", "0", "0", "0", "0", "0", "0", "0", "0", "250000", "250000", 12))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM inkoop_aggregated`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(57))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM data_availability`)).
		WithArgs("inkoop").
		WillReturnRows(sqlmock.NewRows([]string{"year_from", "year_to"}).AddRow(2018, 2024))

	status, body := doRequest(t, r, "/v1/datasets/inkoop/data?limit=1")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, float64(57), body["total"])
	rows := body["rows"].([]interface{})
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	require.Equal(t, "Acme Facilitair", row["primary_value"])
	require.Equal(t, float64(250000), row["totaal"])
	require.Equal(t, float64(2018), row["data_available_from"])
}

func TestHandleQuery_ValidationErrorsAreExplicit(t *testing.T) {
	r, _ := setupRouter(t)

	tests := []struct {
		path    string
		wantMsg string
	}{
		{"/v1/datasets/onbekend/data", "unknown dataset"},
		{"/v1/datasets/inkoop/data?limit=9999", "invalid limit"},
		{"/v1/datasets/inkoop/data?sort_by=bedrag", "invalid sort_by"},
		{"/v1/datasets/integraal/data?betalingen=100%2B", "invalid betalingen bracket"},
	}

	for _, tc := range tests {
		status, body := doRequest(t, r, tc.path)
		require.Equal(t, http.StatusBadRequest, status, tc.path)
		require.Equal(t, "validation_failed", body["error_type"], tc.path)
		require.Contains(t, body["message"], tc.wantMsg, tc.path)
	}
}

func TestHandleQuery_BackendFailureStaysOpaque(t *testing.T) {
	r, _ := setupRouter(t)

	// No expectations registered: every statement fails.
	status, body := doRequest(t, r, "/v1/datasets/inkoop/data")
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal_error", body["error_type"])
	require.Equal(t, "Failed to query dataset", body["message"])
	require.NotContains(t, body["message"], "SELECT")
}

func TestHandleCascadingFilters(t *testing.T) {
	r, mock := setupRouter(t)

	for _, field := range []string{"ministerie", "categorie", "staffel"} {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "` + field + `"::text AS value`)).
			WillReturnRows(sqlmock.NewRows([]string{"value", "count"}).AddRow("x", 1))
	}

	status, body := doRequest(t, r, "/v1/datasets/inkoop/filters")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, mock.ExpectationsWereMet())

	options := body["options"].(map[string]interface{})
	require.Len(t, options, 3)
	require.Contains(t, options, "ministerie")
}

func TestHandleDetails_RequiresPrimaryValue(t *testing.T) {
	r, _ := setupRouter(t)

	status, body := doRequest(t, r, "/v1/datasets/inkoop/details")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation_failed", body["error_type"])
}

func TestHandleGroupingCounts_RequiresPrimaryValue(t *testing.T) {
	r, _ := setupRouter(t)

	status, body := doRequest(t, r, "/v1/datasets/inkoop/grouping-counts")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "primary_value is required", body["message"])
}

func TestHandleAutocomplete_QueryLengthBounds(t *testing.T) {
	r, _ := setupRouter(t)

	status, body := doRequest(t, r, "/v1/datasets/inkoop/autocomplete")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation_failed", body["error_type"])

	status, body = doRequest(t, r, "/v1/datasets/inkoop/autocomplete?q=a")
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body["message"], "between 2 and 200")
}

func TestHandleAutocomplete_Fallback(t *testing.T) {
	r, mock := setupRouter(t)

	// No index wired: suggestions come from the aggregated view.
	mock.ExpectQuery(regexp.QuoteMeta(`FROM inkoop_aggregated WHERE "leverancier" ~* $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "totaal"}).
			AddRow("Nationale Politie", "900000"))

	status, body := doRequest(t, r, "/v1/datasets/inkoop/autocomplete?q=politie")
	require.Equal(t, http.StatusOK, status)

	current := body["current_module"].([]interface{})
	require.Len(t, current, 1)
	hit := current[0].(map[string]interface{})
	require.Equal(t, "Nationale Politie", hit["name"])
	require.Equal(t, float64(900000), hit["totaal"])
}

func TestHandleStats(t *testing.T) {
	r, mock := setupRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) AS count, SUM(totaal) AS total FROM inkoop_aggregated`)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "total"}).AddRow(3500, "12000000000"))

	status, body := doRequest(t, r, "/v1/datasets/inkoop/stats")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(3500), body["count"])
	require.Equal(t, "12 miljard", body["total_formatted"])
}
