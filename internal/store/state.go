package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-squad/internal/tracker"
)

var ErrLoad = errors.New("failed to load state")

// New wraps an opened database with the tracker.Saver contract.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type Store struct {
	db *sql.DB
}

// Save writes the full roster state in one transaction. The state is small (a
// handful of players, their session logs) so rewriting it wholesale keeps the
// on-disk layout trivially consistent with memory.
func (s *Store) Save(ctx context.Context, state tracker.State) error {
	tx, errTx := s.db.BeginTx(ctx, nil)
	if errTx != nil {
		return errors.Join(errTx, ErrSave)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("Failed to rollback save tx", slog.String("error", err.Error()))
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM session"); err != nil {
		return errors.Join(err, ErrSave)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM player"); err != nil {
		return errors.Join(err, ErrSave)
	}

	for _, player := range state.Players {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO player (steam_id, name, last_match_id, last_match_at) VALUES (?, ?, ?, ?)",
			player.SteamID.String(), player.Name, player.LastMatchID, nullMillis(player.LastMatchAt)); err != nil {
			return errors.Join(err, ErrSave)
		}

		for _, session := range player.Sessions {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO session (steam_id, start_at, end_at) VALUES (?, ?, ?)",
				player.SteamID.String(), session.Start.UnixMilli(), nullMillis(session.End)); err != nil {
				return errors.Join(err, ErrSave)
			}
		}
	}

	var (
		latestPlayer sql.NullString
		latestMatch  sql.NullString
		latestAt     sql.NullInt64
	)
	if state.LatestMatch != nil {
		latestPlayer = sql.NullString{String: state.LatestMatch.Player, Valid: true}
		latestMatch = sql.NullString{String: state.LatestMatch.MatchID, Valid: true}
		latestAt = sql.NullInt64{Int64: state.LatestMatch.At.UnixMilli(), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO state_meta (meta_id, created_at, latest_player, latest_match_id, latest_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (meta_id) DO UPDATE SET created_at = excluded.created_at,
			latest_player = excluded.latest_player,
			latest_match_id = excluded.latest_match_id,
			latest_at = excluded.latest_at`,
		state.CreatedAt.UnixMilli(), latestPlayer, latestMatch, latestAt); err != nil {
		return errors.Join(err, ErrSave)
	}

	if errCommit := tx.Commit(); errCommit != nil {
		return errors.Join(errCommit, ErrSave)
	}

	return nil
}

// Load reads the persisted state back. Callers fall back to an empty state on
// error, a missing or corrupt database never prevents startup.
func (s *Store) Load(ctx context.Context) (tracker.State, error) {
	var state tracker.State

	var (
		createdAtMs  int64
		latestPlayer sql.NullString
		latestMatch  sql.NullString
		latestAt     sql.NullInt64
	)
	errMeta := s.db.QueryRowContext(ctx,
		"SELECT created_at, latest_player, latest_match_id, latest_at FROM state_meta WHERE meta_id = 1").
		Scan(&createdAtMs, &latestPlayer, &latestMatch, &latestAt)
	if errMeta != nil {
		if errors.Is(errMeta, sql.ErrNoRows) {
			return state, nil
		}

		return tracker.State{}, errors.Join(errMeta, ErrLoad)
	}

	state.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	if latestPlayer.Valid && latestMatch.Valid && latestAt.Valid {
		state.LatestMatch = &tracker.MatchEvent{
			Player:  latestPlayer.String,
			MatchID: latestMatch.String,
			At:      time.UnixMilli(latestAt.Int64).UTC(),
		}
	}

	players, errPlayers := s.loadPlayers(ctx)
	if errPlayers != nil {
		return tracker.State{}, errPlayers
	}
	state.Players = players

	return state, nil
}

func (s *Store) loadPlayers(ctx context.Context) ([]tracker.Player, error) {
	rows, errQuery := s.db.QueryContext(ctx,
		"SELECT steam_id, name, last_match_id, last_match_at FROM player")
	if errQuery != nil {
		return nil, errors.Join(errQuery, ErrLoad)
	}
	defer rows.Close()

	var players []tracker.Player
	for rows.Next() {
		var (
			sidString   string
			player      tracker.Player
			lastMatchAt sql.NullInt64
		)
		if errScan := rows.Scan(&sidString, &player.Name, &player.LastMatchID, &lastMatchAt); errScan != nil {
			return nil, errors.Join(errScan, ErrLoad)
		}

		player.SteamID = steamid.New(sidString)
		if lastMatchAt.Valid {
			at := time.UnixMilli(lastMatchAt.Int64).UTC()
			player.LastMatchAt = &at
		}

		players = append(players, player)
	}
	if errRows := rows.Err(); errRows != nil {
		return nil, errors.Join(errRows, ErrLoad)
	}

	for idx := range players {
		sessions, errSessions := s.loadSessions(ctx, players[idx].SteamID)
		if errSessions != nil {
			return nil, errSessions
		}
		players[idx].Sessions = sessions
	}

	return players, nil
}

func (s *Store) loadSessions(ctx context.Context, sid steamid.SteamID) (tracker.Sessions, error) {
	rows, errQuery := s.db.QueryContext(ctx,
		"SELECT start_at, end_at FROM session WHERE steam_id = ? ORDER BY start_at", sid.String())
	if errQuery != nil {
		return nil, errors.Join(errQuery, ErrLoad)
	}
	defer rows.Close()

	var sessions tracker.Sessions
	for rows.Next() {
		var (
			startMs int64
			endMs   sql.NullInt64
		)
		if errScan := rows.Scan(&startMs, &endMs); errScan != nil {
			return nil, errors.Join(errScan, ErrLoad)
		}

		session := tracker.Session{Start: time.UnixMilli(startMs).UTC()}
		if endMs.Valid {
			end := time.UnixMilli(endMs.Int64).UTC()
			session.End = &end
		}
		sessions = append(sessions, session)
	}
	if errRows := rows.Err(); errRows != nil {
		return nil, errors.Join(errRows, ErrLoad)
	}

	return sessions, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
