package tracker

import (
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
)

// Session is a single contiguous inferred play period. End is nil while the
// session is still open. Sessions are stored in chronological order and only the
// roster is allowed to append or close them, which is what keeps the "at most one
// open session per player" invariant structural instead of checked.
type Session struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end"`
}

// Open returns true while the session has not been closed yet.
func (s Session) Open() bool {
	return s.End == nil
}

// Duration returns the closed length of the session, or the length up to now for
// an open one.
func (s Session) Duration(now time.Time) time.Duration {
	if s.End != nil {
		return s.End.Sub(s.Start)
	}

	return now.Sub(s.Start)
}

type Sessions []Session

// Player holds everything the roster tracks for a single squad member. The
// static fields (SteamID, Name, ProfileURL) come from config, the rest is owned
// and mutated exclusively by the Roster.
type Player struct {
	SteamID     steamid.SteamID
	Name        string
	ProfileURL  string
	LastMatchID string
	LastMatchAt *time.Time
	Sessions    Sessions
}

// openSession returns the player's open session, if any. Only the most recent
// session can ever be open.
func (p *Player) openSession() *Session {
	if len(p.Sessions) == 0 {
		return nil
	}

	last := &p.Sessions[len(p.Sessions)-1]
	if !last.Open() {
		return nil
	}

	return last
}

// PlayingNow is true when the player's most recent match falls inside the
// inactivity window of now. Computed on demand, never stored.
func (p *Player) PlayingNow(now time.Time, window time.Duration) bool {
	if p.LastMatchAt == nil {
		return false
	}

	return now.Sub(*p.LastMatchAt) <= window
}

// Observation is a single (match id, timestamp) fact reported for one player by
// the observation feed. It is never persisted, only its effect on player state is.
type Observation struct {
	SteamID steamid.SteamID
	MatchID string
	At      time.Time
}

// MatchEvent records the single most recent match seen across the whole roster.
type MatchEvent struct {
	Player  string    `json:"player"`
	MatchID string    `json:"matchId"`
	At      time.Time `json:"at"`
}

// State is the full persistable roster state. The store writes and reloads it
// verbatim; static player metadata is refreshed from config on load, never from
// stored state.
type State struct {
	CreatedAt   time.Time
	Players     []Player
	LatestMatch *MatchEvent
}

// PlayerSnapshot is the read-only per-player projection handed to the
// presentation layer.
type PlayerSnapshot struct {
	SteamID     steamid.SteamID `json:"steamId"`
	Name        string          `json:"name"`
	ProfileURL  string          `json:"profileUrl"`
	LastMatchID string          `json:"lastMatchId"`
	LastMatchAt *time.Time      `json:"lastMatchAt"`
	PlayingNow  bool            `json:"playingNow"`
	Sessions    Sessions        `json:"sessions"`
}

// Snapshot is an atomic, consistent view of the derived roster state. It is
// recomputed on every read and shares no memory with the live store.
type Snapshot struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	Players     []PlayerSnapshot `json:"players"`
	LatestMatch *MatchEvent      `json:"latestMatch"`
	Overlap     OverlapResult    `json:"overlap"`
}
