package feed

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/stretchr/testify/require"
)

var testSID = steamid.New("76561198000000001")

func newTestFetcher(server *httptest.Server) *Fetcher {
	fetcher := New(server.Client(), server.URL)
	// Keep retries fast under test.
	fetcher.backoff = time.Millisecond

	return fetcher
}

func TestLatestFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.Equal(t, "/api/v1/log", request.URL.Path)
		require.Equal(t, testSID.String(), request.URL.Query().Get("player"))
		require.Equal(t, "1", request.URL.Query().Get("limit"))

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"success": true, "results": 1, "logs": [{"id": 3500001, "date": 1717243800}]}`))
	}))
	defer server.Close()

	fetcher := newTestFetcher(server)
	matchID, observedAt, found, errLatest := fetcher.Latest(t.Context(), testSID)
	require.NoError(t, errLatest)
	require.True(t, found)
	require.Equal(t, "3500001", matchID)
	require.Equal(t, time.Unix(1717243800, 0).UTC(), observedAt)
	require.Equal(t, time.UTC, observedAt.Location())
}

func TestLatestNoMatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"success": true, "results": 0, "logs": []}`))
	}))
	defer server.Close()

	fetcher := newTestFetcher(server)
	_, _, found, errLatest := fetcher.Latest(t.Context(), testSID)
	require.NoError(t, errLatest)
	require.False(t, found)
}

func TestLatestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			writer.WriteHeader(http.StatusBadGateway)

			return
		}

		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"success": true, "results": 1, "logs": [{"id": 42, "date": 1717243800}]}`))
	}))
	defer server.Close()

	fetcher := newTestFetcher(server)
	matchID, _, found, errLatest := fetcher.Latest(t.Context(), testSID)
	require.NoError(t, errLatest)
	require.True(t, found)
	require.Equal(t, "42", matchID)
	require.Equal(t, int32(3), calls.Load())
}

func TestLatestGivesUpAfterBoundedAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writer.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := newTestFetcher(server)
	_, _, found, errLatest := fetcher.Latest(t.Context(), testSID)
	require.Error(t, errLatest)
	require.ErrorIs(t, errLatest, ErrFetchObservation)
	require.False(t, found)
	require.Equal(t, int32(3), calls.Load())
}
