// Package feed supplies per-player "latest match" observations from the public
// logs.tf API. Its the fallible edge of the system: everything network shaped is
// retried and deadlined here so the tracker core only ever sees a clean
// (matchID, observedAt) | none result.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
)

var ErrFetchObservation = errors.New("failed to fetch latest match")

const (
	maxAttempts  = 3
	retryBackoff = time.Second * 2
	fetchTimeout = time.Second * 10
)

// HTTPDoer defines a common interface for HTTP clients.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// New creates a logs.tf backed observation source.
func New(httpClient HTTPDoer, baseURL string) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		backoff:    retryBackoff,
	}
}

// Fetcher queries the logs.tf match listing for a single player, newest first.
type Fetcher struct {
	httpClient HTTPDoer
	baseURL    string
	backoff    time.Duration
}

type logEntry struct {
	ID   int64 `json:"id"`
	Date int64 `json:"date"`
}

type logSearchResponse struct {
	Success bool       `json:"success"`
	Results int        `json:"results"`
	Logs    []logEntry `json:"logs"`
}

// Latest returns the most recent match id and its UTC timestamp for a player.
// found is false when the player has no recorded matches or every attempt timed
// out; the caller treats that as "skip this player this cycle". Attempts are
// bounded with an increasing delay between them.
func (f *Fetcher) Latest(ctx context.Context, sid steamid.SteamID) (string, time.Time, bool, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(f.backoff * time.Duration(attempt-1)):
			case <-ctx.Done():
				return "", time.Time{}, false, errors.Join(ctx.Err(), ErrFetchObservation)
			}
		}

		matchID, observedAt, found, errFetch := f.fetch(ctx, sid)
		if errFetch != nil {
			lastErr = errFetch
			slog.Debug("Observation fetch attempt failed", slog.String("steam_id", sid.String()),
				slog.Int("attempt", attempt), slog.String("error", errFetch.Error()))

			continue
		}

		return matchID, observedAt, found, nil
	}

	// A fetch that exceeded its deadline counts as no observation for this
	// cycle rather than a hard failure.
	if errors.Is(lastErr, context.DeadlineExceeded) {
		return "", time.Time{}, false, nil
	}

	return "", time.Time{}, false, errors.Join(lastErr, ErrFetchObservation)
}

func (f *Fetcher) fetch(ctx context.Context, sid steamid.SteamID) (string, time.Time, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/v1/log?player=%s&limit=1", f.baseURL, url.QueryEscape(sid.String()))
	req, errReq := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if errReq != nil {
		return "", time.Time{}, false, errReq
	}

	resp, errResp := f.httpClient.Do(req)
	if errResp != nil {
		return "", time.Time{}, false, errResp
	}

	defer func(closer io.Closer) {
		if err := closer.Close(); err != nil {
			slog.Error("Failed to close response body", slog.String("error", err.Error()))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, false, fmt.Errorf("%w: status %d", ErrFetchObservation, resp.StatusCode)
	}

	var parsed logSearchResponse
	if errDecode := json.NewDecoder(resp.Body).Decode(&parsed); errDecode != nil {
		return "", time.Time{}, false, errDecode
	}

	if !parsed.Success || len(parsed.Logs) == 0 {
		return "", time.Time{}, false, nil
	}

	latest := parsed.Logs[0]

	return strconv.FormatInt(latest.ID, 10), time.Unix(latest.Date, 0).UTC(), true, nil
}
