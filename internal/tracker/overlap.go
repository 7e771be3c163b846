package tracker

import (
	"time"

	"golang.org/x/exp/slices"
)

// maxReportedIntervals bounds how many of the most recent overlap intervals are
// returned for presentation. The summary is always computed over the full set.
const maxReportedIntervals = 100

// OverlapInterval is a maximal span during which a constant set of two or more
// players were simultaneously active. Derived on every query, never stored.
type OverlapInterval struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationMs int64     `json:"durationMs"`
	Players    []string  `json:"players"`
	Count      int       `json:"count"`
}

// OverlapSummary aggregates total overlap duration by exact concurrency level.
// ByCount keys run from 2 up to the roster size, so a six player roster gets
// exact buckets for 5 and 6 rather than a hard cap at 4.
type OverlapSummary struct {
	ByCount     map[int]int64 `json:"byCountMs"`
	TwoOrMoreMs int64         `json:"twoOrMoreMs"`
}

// OverlapResult is the overlap engine's full output.
type OverlapResult struct {
	Summary   OverlapSummary    `json:"summary"`
	Intervals []OverlapInterval `json:"intervals"`
}

type boundary struct {
	atMs   int64
	delta  int
	player string
}

// ComputeOverlap runs a sweep line over every player's session intervals and
// returns the exact-concurrency breakdown. Closed sessions always contribute.
// An open session contributes a synthetic [start, now] interval only while its
// player is inside the activity window; an open-but-stale session (no new match
// yet, sweep not run yet) contributes nothing until it closes or the player
// resumes. All arithmetic is integer milliseconds since epoch.
func ComputeOverlap(players []Player, now time.Time, window time.Duration) OverlapResult {
	nowMs := now.UTC().UnixMilli()

	var events []boundary
	for _, player := range players {
		for _, session := range player.Sessions {
			startMs := session.Start.UnixMilli()
			var endMs int64
			switch {
			case !session.Open():
				endMs = session.End.UnixMilli()
			case player.PlayingNow(now, window):
				endMs = nowMs
			default:
				continue
			}

			if endMs <= startMs {
				continue
			}

			events = append(events,
				boundary{atMs: startMs, delta: 1, player: player.Name},
				boundary{atMs: endMs, delta: -1, player: player.Name})
		}
	}

	// At equal instants closes sort before opens. Without this a session ending
	// exactly as another begins would manufacture a false higher-concurrency
	// instant.
	slices.SortFunc(events, func(a, b boundary) int {
		if a.atMs != b.atMs {
			if a.atMs < b.atMs {
				return -1
			}

			return 1
		}

		return a.delta - b.delta
	})

	var (
		intervals []OverlapInterval
		summary   = OverlapSummary{ByCount: map[int]int64{}}
		active    = map[string]struct{}{}
		prevMs    int64
	)

	for idx, event := range events {
		if idx > 0 && event.atMs > prevMs && len(active) >= 2 {
			interval := OverlapInterval{
				Start:      time.UnixMilli(prevMs).UTC(),
				End:        time.UnixMilli(event.atMs).UTC(),
				DurationMs: event.atMs - prevMs,
				Players:    activeNames(active),
				Count:      len(active),
			}
			intervals = append(intervals, interval)
			summary.ByCount[interval.Count] += interval.DurationMs
			summary.TwoOrMoreMs += interval.DurationMs
		}

		if event.delta > 0 {
			active[event.player] = struct{}{}
		} else {
			delete(active, event.player)
		}
		prevMs = event.atMs
	}

	if len(intervals) > maxReportedIntervals {
		intervals = intervals[len(intervals)-maxReportedIntervals:]
	}

	return OverlapResult{Summary: summary, Intervals: intervals}
}

func activeNames(active map[string]struct{}) []string {
	names := make([]string, 0, len(active))
	for name := range active {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}
