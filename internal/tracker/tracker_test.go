package tracker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-squad/internal/config"
	"github.com/leighmacdonald/tf-squad/internal/tracker"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	observations map[string]tracker.Observation
	errs         map[string]error
}

func (f *fakeSource) Latest(_ context.Context, sid steamid.SteamID) (string, time.Time, bool, error) {
	if err, found := f.errs[sid.String()]; found {
		return "", time.Time{}, false, err
	}

	obs, found := f.observations[sid.String()]
	if !found {
		return "", time.Time{}, false, nil
	}

	return obs.MatchID, obs.At, true, nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saves []tracker.State
}

func (f *fakeSaver) Save(_ context.Context, state tracker.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, state)

	return nil
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.saves)
}

func TestCycleIsolatesPerPlayerFailures(t *testing.T) {
	roster := testRoster(t, time.Minute*30)
	obsAt := time.Now().UTC().Truncate(time.Second)
	source := &fakeSource{
		// Alice's fetch blows up, bob's must still be processed.
		errs: map[string]error{sidAlice.String(): errors.New("network down")},
		observations: map[string]tracker.Observation{
			sidBob.String(): {MatchID: "2001", At: obsAt},
		},
	}
	saver := &fakeSaver{}

	poller := tracker.New(roster, source, saver, config.Config{PollIntervalSecs: 3600}, nil)

	ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond*100)
	defer cancel()
	poller.Start(ctx)

	players := roster.Players()
	require.Empty(t, players[0].Sessions)
	require.Len(t, players[1].Sessions, 1)
	require.Equal(t, "2001", players[1].LastMatchID)
	// One checkpoint for the accepted mutation, one after the sweep.
	require.GreaterOrEqual(t, saver.count(), 2)
}
