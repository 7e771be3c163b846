package tracker

import (
	"sync"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-squad/internal/timeutil"
)

// DefaultInactivityWindow is how long a player can go without a new match before
// their open session is closed.
const DefaultInactivityWindow = time.Minute * 30

// NewRoster builds the authoritative in-memory store for the configured players,
// merged against previously persisted state. Config owns the roster and the
// static metadata: stored players unknown to the config are dropped, configured
// players unknown to the stored state start with empty histories.
func NewRoster(players []Player, window time.Duration, stored State) *Roster {
	if window <= 0 {
		window = DefaultInactivityWindow
	}

	createdAt := stored.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	merged := make([]*Player, 0, len(players))
	for _, configured := range players {
		player := &Player{
			SteamID:    configured.SteamID,
			Name:       configured.Name,
			ProfileURL: configured.ProfileURL,
		}
		for _, old := range stored.Players {
			if !old.SteamID.Equal(configured.SteamID) {
				continue
			}

			player.LastMatchID = old.LastMatchID
			player.LastMatchAt = old.LastMatchAt
			player.Sessions = append(Sessions{}, old.Sessions...)

			break
		}
		merged = append(merged, player)
	}

	return &Roster{
		mu:        &sync.RWMutex{},
		players:   merged,
		window:    window,
		latest:    stored.LatestMatch,
		createdAt: createdAt,
	}
}

// Roster is the single shared player session store. All writes go through
// Record and Sweep, which are only ever called from the poll cycle driver;
// readers get consistent copies through Snapshot and State.
type Roster struct {
	mu        *sync.RWMutex
	players   []*Player
	window    time.Duration
	latest    *MatchEvent
	createdAt time.Time
}

// Record applies a single observation and reports whether it changed state.
// An observation carrying the match id we already know is a duplicate and is
// ignored entirely. A genuinely new match updates the last-match pointer and, if
// the player has no open session, opens one starting at the observation instant.
// If a session is already open the match is absorbed into it.
func (r *Roster) Record(obs Observation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	player := r.player(obs.SteamID)
	if player == nil {
		return false
	}

	if obs.MatchID == "" || obs.MatchID == player.LastMatchID {
		return false
	}

	observedAt := obs.At.UTC()
	player.LastMatchID = obs.MatchID
	player.LastMatchAt = &observedAt

	if player.openSession() == nil {
		player.Sessions = append(player.Sessions, Session{Start: observedAt})
	}

	if r.latest == nil || observedAt.After(r.latest.At) {
		r.latest = &MatchEvent{Player: player.Name, MatchID: obs.MatchID, At: observedAt}
	}

	return true
}

// Sweep closes stale open sessions and returns how many were closed. It runs
// once per poll cycle whether or not the cycle produced observations. A session
// past the inactivity window closes at the player's last real match instant, not
// at the detection instant, so durations reflect actual play rather than polling
// latency. An open session with no grounding last-match timestamp must not
// persist and is closed at now.
func (r *Roster) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now = now.UTC()
	closed := 0

	for _, player := range r.players {
		open := player.openSession()
		if open == nil {
			continue
		}

		if player.LastMatchAt == nil {
			end := now
			open.End = &end
			closed++

			continue
		}

		if timeutil.Elapsed(now, *player.LastMatchAt) > r.window {
			end := *player.LastMatchAt
			open.End = &end
			closed++
		}
	}

	return closed
}

// SetWindow applies a config reload. Takes effect on the next sweep.
func (r *Roster) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = window
}

func (r *Roster) Window() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.window
}

// Players returns copies of every tracked player.
func (r *Roster) Players() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.copyPlayers()
}

// State returns the full persistable state as a deep copy.
func (r *Roster) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := State{CreatedAt: r.createdAt, Players: r.copyPlayers()}
	if r.latest != nil {
		latest := *r.latest
		state.LatestMatch = &latest
	}

	return state
}

// Snapshot produces the read-only projection served to the dashboard, including
// the recomputed overlap breakdown. The overlap engine is a pure function of the
// copied state, so a snapshot can never observe a partially applied poll cycle.
func (r *Roster) Snapshot(now time.Time) Snapshot {
	r.mu.RLock()
	players := r.copyPlayers()
	window := r.window
	var latest *MatchEvent
	if r.latest != nil {
		copied := *r.latest
		latest = &copied
	}
	r.mu.RUnlock()

	now = now.UTC()
	snapshots := make([]PlayerSnapshot, len(players))
	for idx, player := range players {
		snapshots[idx] = PlayerSnapshot{
			SteamID:     player.SteamID,
			Name:        player.Name,
			ProfileURL:  player.ProfileURL,
			LastMatchID: player.LastMatchID,
			LastMatchAt: player.LastMatchAt,
			PlayingNow:  player.PlayingNow(now, window),
			Sessions:    player.Sessions,
		}
	}

	return Snapshot{
		GeneratedAt: now,
		Players:     snapshots,
		LatestMatch: latest,
		Overlap:     ComputeOverlap(players, now, window),
	}
}

func (r *Roster) player(sid steamid.SteamID) *Player {
	for _, player := range r.players {
		if player.SteamID.Equal(sid) {
			return player
		}
	}

	return nil
}

func (r *Roster) copyPlayers() []Player {
	players := make([]Player, len(r.players))
	for idx, player := range r.players {
		copied := *player
		copied.Sessions = append(Sessions{}, player.Sessions...)
		if player.LastMatchAt != nil {
			at := *player.LastMatchAt
			copied.LastMatchAt = &at
		}
		players[idx] = copied
	}

	return players
}
