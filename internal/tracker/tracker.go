package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/leighmacdonald/tf-squad/internal/config"
)

// Source supplies the latest match sighting for a player. Implementations do
// their own retries and deadlines; a fetch that ultimately yields nothing this
// cycle reports found=false, which is not an error.
type Source interface {
	Latest(ctx context.Context, sid steamid.SteamID) (matchID string, at time.Time, found bool, err error)
}

// Saver checkpoints the full roster state after accepted mutations. Failures
// are non-fatal, the in-memory roster stays authoritative until the next
// successful write.
type Saver interface {
	Save(ctx context.Context, state State) error
}

// New creates the poll cycle driver that feeds observations into the roster.
func New(roster *Roster, source Source, saver Saver, conf config.Config, configUpdates <-chan config.Config) *Tracker {
	return &Tracker{
		roster:        roster,
		source:        source,
		saver:         saver,
		interval:      conf.PollInterval(),
		configUpdates: configUpdates,
	}
}

// Tracker owns the write path: one poll cycle fetches each player's latest
// match strictly one after another, applies it to the roster, then runs the
// inactivity sweep. The read path (Roster.Snapshot) is fully decoupled and pure.
type Tracker struct {
	roster        *Roster
	source        Source
	saver         Saver
	interval      time.Duration
	configUpdates <-chan config.Config
}

// Start runs poll cycles until the context is cancelled. Config reloads are
// applied between cycles.
func (t *Tracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.cycle(ctx)

	for {
		select {
		case conf := <-t.configUpdates:
			t.roster.SetWindow(conf.InactivityWindow())
			if interval := conf.PollInterval(); interval != t.interval {
				t.interval = interval
				ticker.Reset(interval)
			}
			slog.Info("Applied config reload",
				slog.Duration("poll_interval", t.interval),
				slog.Duration("inactivity_window", t.roster.Window()))
		case <-ticker.C:
			t.cycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// cycle processes every roster player sequentially. A failure for one player
// never aborts the remaining players.
func (t *Tracker) cycle(ctx context.Context) {
	for _, player := range t.roster.Players() {
		matchID, observedAt, found, errFetch := t.source.Latest(ctx, player.SteamID)
		if errFetch != nil {
			slog.Error("Failed to fetch observation",
				slog.String("player", player.Name), slog.String("error", errFetch.Error()))

			continue
		}
		if !found {
			continue
		}

		if t.roster.Record(Observation{SteamID: player.SteamID, MatchID: matchID, At: observedAt}) {
			slog.Info("New match observed", slog.String("player", player.Name),
				slog.String("match_id", matchID), slog.Time("at", observedAt))
			t.checkpoint(ctx)
		}
	}

	if closed := t.roster.Sweep(time.Now()); closed > 0 {
		slog.Info("Closed inactive sessions", slog.Int("count", closed))
	}
	t.checkpoint(ctx)
}

func (t *Tracker) checkpoint(ctx context.Context) {
	if t.saver == nil {
		return
	}

	if err := t.saver.Save(ctx, t.roster.State()); err != nil {
		slog.Error("Failed to persist state", slog.String("error", err.Error()))
	}
}
