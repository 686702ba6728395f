package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return NewClient(Config{
		Protocol: "http",
		Host:     u.Hostname(),
		Port:     port,
		APIKey:   "test-key",
		Timeout:  500 * time.Millisecond,
	})
}

func TestClient_Search(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("X-TYPESENSE-API-KEY"))
		require.Equal(t, "/collections/recipients/documents/search", r.URL.Path)
		require.Equal(t, "politie", r.URL.Query().Get("q"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"hits": [
				{"document": {"name": "Nationale Politie", "totaal": 12500000, "sources": ["instrumenten", "inkoop"]}}
			]
		}`))
	})

	params := url.Values{}
	params.Set("q", "politie")
	result := c.Search(context.Background(), "recipients", params)

	require.Len(t, result.Hits, 1)
	doc := result.Hits[0].Document
	require.Equal(t, "Nationale Politie", doc.String("name"))
	require.Equal(t, int64(12500000), doc.Int64("totaal"))
	require.Equal(t, []string{"instrumenten", "inkoop"}, doc.Strings("sources"))
}

func TestClient_Search_DegradedConditionsYieldEmptyResult(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"hits": [`))
			},
		},
		{
			name: "slow backend times out",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(time.Second)
				w.Write([]byte(`{"hits": []}`))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := testClient(t, tc.handler)
			result := c.Search(context.Background(), "recipients", url.Values{})
			require.Empty(t, result.Hits)
			require.Empty(t, result.GroupedHits)
		})
	}
}

func TestClient_Unconfigured(t *testing.T) {
	c := NewClient(Config{})
	require.False(t, c.Configured())

	result := c.Search(context.Background(), "recipients", url.Values{})
	require.Empty(t, result.Hits)
}
