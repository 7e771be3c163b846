package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/nxadm/tail"
)

var errReplayOpen = errors.New("failed to open replay log")

// replayLine is one JSONL record in a replay log, eg:
//
//	{"steam_id": "76561198000000001", "match_id": "3500001", "at": 1717243800}
type replayLine struct {
	SteamID string `json:"steam_id"`
	MatchID string `json:"match_id"`
	At      int64  `json:"at"`
}

// NewReplay creates an observation source that follows a JSONL file instead of
// hitting the live stats API. Used in debug mode to exercise the tracker with
// fabricated observations.
func NewReplay(filePath string) *Replay {
	return &Replay{
		mu:       &sync.RWMutex{},
		filePath: filePath,
		latest:   map[string]replayLine{},
	}
}

type Replay struct {
	mu       *sync.RWMutex
	filePath string
	latest   map[string]replayLine
	tail     *tail.Tail
}

// Open starts following the replay file. New lines appended while running are
// picked up like live observations.
func (r *Replay) Open(ctx context.Context) error {
	tailConfig := tail.Config{
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		Logger:    tail.DiscardingLogger,
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
	}

	tailFile, errTail := tail.TailFile(r.filePath, tailConfig)
	if errTail != nil {
		return errors.Join(errTail, errReplayOpen)
	}

	r.tail = tailFile
	go r.start(ctx)

	return nil
}

func (r *Replay) start(ctx context.Context) {
	for {
		select {
		case line, ok := <-r.tail.Lines:
			if !ok {
				return
			}
			if line.Text == "" {
				continue
			}

			var parsed replayLine
			if errDecode := json.Unmarshal([]byte(line.Text), &parsed); errDecode != nil {
				slog.Warn("Skipping malformed replay line", slog.String("error", errDecode.Error()))

				continue
			}

			r.mu.Lock()
			r.latest[parsed.SteamID] = parsed
			r.mu.Unlock()
		case <-ctx.Done():
			if err := r.tail.Stop(); err != nil {
				slog.Error("Failed to stop replay tail", slog.String("error", err.Error()))
			}

			return
		}
	}
}

// Latest implements the same contract as the live fetcher over the replayed lines.
func (r *Replay) Latest(_ context.Context, sid steamid.SteamID) (string, time.Time, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	line, found := r.latest[sid.String()]
	if !found {
		return "", time.Time{}, false, nil
	}

	return line.MatchID, time.Unix(line.At, 0).UTC(), true, nil
}
