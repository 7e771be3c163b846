package tracker_test

import (
	"testing"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-squad/internal/tracker"
	"github.com/stretchr/testify/require"
)

var (
	sidAlice = steamid.New("76561198000000001")
	sidBob   = steamid.New("76561198000000002")
)

func testRoster(t *testing.T, window time.Duration) *tracker.Roster {
	t.Helper()

	return tracker.NewRoster([]tracker.Player{
		{SteamID: sidAlice, Name: "alice"},
		{SteamID: sidBob, Name: "bob"},
	}, window, tracker.State{})
}

func TestRecordOpensSession(t *testing.T) {
	roster := testRoster(t, time.Minute*30)
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	changed := roster.Record(tracker.Observation{SteamID: sidAlice, MatchID: "1001", At: at})
	require.True(t, changed)

	players := roster.Players()
	require.Len(t, players, 2)
	alice := players[0]
	require.Equal(t, "1001", alice.LastMatchID)
	require.Equal(t, at, *alice.LastMatchAt)
	require.Len(t, alice.Sessions, 1)
	require.True(t, alice.Sessions[0].Open())
	require.Equal(t, at, alice.Sessions[0].Start)
}

func TestRecordDuplicateMatchIsNoop(t *testing.T) {
	roster := testRoster(t, time.Minute*30)
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.True(t, roster.Record(tracker.Observation{SteamID: sidAlice, MatchID: "1001", At: at}))
	// Same match id seen again, even with a different timestamp.
	require.False(t, roster.Record(tracker.Observation{SteamID: sidAlice, MatchID: "1001", At: at.Add(time.Hour)}))

	alice := roster.Players()[0]
	require.Equal(t, at, *alice.LastMatchAt)
	require.Len(t, alice.Sessions, 1)
}

func TestRecordAbsorbsIntoOpenSession(t *testing.T) {
	roster := testRoster(t, time.Minute*30)
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.True(t, roster.Record(tracker.Observation{SteamID: sidAlice, MatchID: "1001", At: start}))
	require.True(t, roster.Record(tracker.Observation{SteamID: sidAlice, MatchID: "1002", At: start.Add(time.Minute * 20)}))

	alice := roster.Players()[0]
	require.Len(t, alice.Sessions, 1)
	require.True(t, alice.Sessions[0].Open())
	require.Equal(t, start, alice.Sessions[0].Start)
	require.Equal(t, "1002", alice.LastMatchID)
}

func TestRecordUnknownPlayerRejected(t *testing.T) {
	roster := testRoster(t, time.Minute*30)

	stranger := steamid.New("76561198000000099")
	require.False(t, roster.Record(tracker.Observation{SteamID: stranger, MatchID: "1001", At: time.Now()}))
}

func TestSweepClosesAtLastMatchInstant(t *testing.T) {
	window := time.Minute * 30
	roster := testRoster(t, window)
	lastMatch := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.True(t, roster.Record(tracker.Observation{SteamID: sidAlice, MatchID: "1001", At: lastMatch}))

	// Just inside the window, nothing closes.
	require.Zero(t, roster.Sweep(lastMatch.Add(window)))
	require.True(t, roster.Players()[0].Sessions[0].Open())

	// One past the window, session closes at the last match instant, not now.
	require.Equal(t, 1, roster.Sweep(lastMatch.Add(window+time.Second)))
	alice := roster.Players()[0]
	require.False(t, alice.Sessions[0].Open())
	require.Equal(t, lastMatch, *alice.Sessions[0].End)
}

func TestSweepClosesGroundlessOpenSession(t *testing.T) {
	// An open session whose player has no last match timestamp must not persist.
	sweepAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := sweepAt.Add(-time.Hour)
	stored := tracker.State{Players: []tracker.Player{
		{SteamID: sidAlice, Name: "alice", Sessions: tracker.Sessions{{Start: end}}},
	}}
	roster := tracker.NewRoster([]tracker.Player{{SteamID: sidAlice, Name: "alice"}}, time.Minute*30, stored)

	require.Equal(t, 1, roster.Sweep(sweepAt))
	alice := roster.Players()[0]
	require.False(t, alice.Sessions[0].Open())
	require.Equal(t, sweepAt, *alice.Sessions[0].End)
}

func TestSessionsStayOrderedWithSingleOpen(t *testing.T) {
	window := time.Minute * 30
	roster := testRoster(t, window)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for cycle := range 3 {
		start := base.Add(time.Duration(cycle) * time.Hour * 2)
		require.True(t, roster.Record(tracker.Observation{
			SteamID: sidAlice, MatchID: "m" + string(rune('a'+cycle)), At: start,
		}))
		roster.Sweep(start.Add(window + time.Minute))
	}

	alice := roster.Players()[0]
	require.Len(t, alice.Sessions, 3)

	openCount := 0
	for idx, session := range alice.Sessions {
		if session.Open() {
			openCount++
		}
		if idx > 0 {
			prev := alice.Sessions[idx-1]
			require.True(t, prev.Start.Before(session.Start))
			require.False(t, prev.End.After(session.Start))
		}
	}
	require.LessOrEqual(t, openCount, 1)
}

func TestPlayingNow(t *testing.T) {
	window := time.Minute * 30
	roster := testRoster(t, window)
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.True(t, roster.Record(tracker.Observation{SteamID: sidAlice, MatchID: "1001", At: at}))

	inside := roster.Snapshot(at.Add(window))
	require.True(t, inside.Players[0].PlayingNow)
	require.False(t, inside.Players[1].PlayingNow)

	outside := roster.Snapshot(at.Add(window + time.Second))
	require.False(t, outside.Players[0].PlayingNow)
}

func TestLatestMatchTracksNewestAcrossRoster(t *testing.T) {
	roster := testRoster(t, time.Minute*30)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.True(t, roster.Record(tracker.Observation{SteamID: sidAlice, MatchID: "1001", At: base}))
	require.True(t, roster.Record(tracker.Observation{SteamID: sidBob, MatchID: "1002", At: base.Add(time.Minute)}))
	// Older observation must not displace the newest event.
	require.True(t, roster.Record(tracker.Observation{SteamID: sidAlice, MatchID: "0999", At: base.Add(-time.Hour)}))

	state := roster.State()
	require.NotNil(t, state.LatestMatch)
	require.Equal(t, "bob", state.LatestMatch.Player)
	require.Equal(t, "1002", state.LatestMatch.MatchID)
}

func TestNewRosterMergesStoredState(t *testing.T) {
	lastAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	end := lastAt.Add(time.Hour)
	stored := tracker.State{
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Players: []tracker.Player{
			{
				SteamID:     sidAlice,
				Name:        "old-name",
				LastMatchID: "1001",
				LastMatchAt: &lastAt,
				Sessions:    tracker.Sessions{{Start: lastAt, End: &end}},
			},
			// Not in config anymore, must be dropped.
			{SteamID: steamid.New("76561198000000098"), Name: "gone"},
		},
	}

	roster := tracker.NewRoster([]tracker.Player{
		{SteamID: sidAlice, Name: "alice", ProfileURL: "https://logs.tf/profile/x"},
		{SteamID: sidBob, Name: "bob"},
	}, time.Minute*30, stored)

	players := roster.Players()
	require.Len(t, players, 2)
	// Static metadata comes from config, history from the stored state.
	require.Equal(t, "alice", players[0].Name)
	require.Equal(t, "1001", players[0].LastMatchID)
	require.Len(t, players[0].Sessions, 1)
	require.Empty(t, players[1].Sessions)
	require.Equal(t, stored.CreatedAt, roster.State().CreatedAt)
}
