// Package web serves the live dashboard: an embedded HTML page plus the JSON
// state endpoint it polls. Strictly a consumer of roster snapshots, there is no
// mutation path back into the tracker. When the poller cannot update, the
// endpoint keeps serving the last known state rather than failing reads.
package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/leighmacdonald/tf-squad/internal/timeutil"
	"github.com/leighmacdonald/tf-squad/internal/tracker"
)

//go:embed index.html
var indexPage []byte

var errServe = errors.New("http server error")

const shutdownGrace = time.Second * 5

// New creates the dashboard server bound to addr.
func New(addr string, roster *tracker.Roster, displayLoc *time.Location) *Server {
	server := &Server{
		roster:     roster,
		displayLoc: displayLoc,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", server.handleIndex)
	mux.HandleFunc("GET /api/state", server.handleState)
	mux.HandleFunc("GET /healthz", server.handleHealthz)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second * 5,
	}

	return server
}

type Server struct {
	httpServer *http.Server
	roster     *tracker.Roster
	displayLoc *time.Location
}

// Start serves until the context is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown http server", slog.String("error", err.Error()))
		}
	}()

	slog.Info("Dashboard listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(err, errServe)
	}

	return nil
}

func (s *Server) handleIndex(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := writer.Write(indexPage); err != nil {
		slog.Error("Failed to write index page", slog.String("error", err.Error()))
	}
}

func (s *Server) handleHealthz(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write([]byte("ok"))
}

type sessionView struct {
	Start    time.Time  `json:"start"`
	End      *time.Time `json:"end"`
	Duration string     `json:"duration"`
}

type playerView struct {
	Name        string        `json:"name"`
	ProfileURL  string        `json:"profileUrl"`
	LastMatchID string        `json:"lastMatchId"`
	LastMatchAt *time.Time    `json:"lastMatchAt"`
	LastSeen    string        `json:"lastSeen"`
	PlayingNow  bool          `json:"playingNow"`
	Sessions    []sessionView `json:"sessions"`
}

type overlapIntervalView struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration string    `json:"duration"`
	Players  []string  `json:"players"`
	Count    int       `json:"count"`
}

type overlapView struct {
	ByCount     map[int]string        `json:"byCount"`
	TwoOrMore   string                `json:"twoOrMore"`
	TwoOrMoreMs int64                 `json:"twoOrMoreMs"`
	Intervals   []overlapIntervalView `json:"intervals"`
}

type stateView struct {
	GeneratedAt time.Time           `json:"generatedAt"`
	Players     []playerView        `json:"players"`
	LatestMatch *tracker.MatchEvent `json:"latestMatch"`
	Overlap     overlapView         `json:"overlap"`
}

// handleState renders the current snapshot. All timestamps are projected into
// the display zone here and only here.
func (s *Server) handleState(writer http.ResponseWriter, _ *http.Request) {
	snapshot := s.roster.Snapshot(time.Now())
	view := stateView{
		GeneratedAt: timeutil.ToZone(snapshot.GeneratedAt, s.displayLoc),
		Players:     make([]playerView, len(snapshot.Players)),
		Overlap: overlapView{
			ByCount:     map[int]string{},
			TwoOrMore:   timeutil.FormatDuration(time.Duration(snapshot.Overlap.Summary.TwoOrMoreMs) * time.Millisecond),
			TwoOrMoreMs: snapshot.Overlap.Summary.TwoOrMoreMs,
		},
	}

	if snapshot.LatestMatch != nil {
		latest := *snapshot.LatestMatch
		latest.At = timeutil.ToZone(latest.At, s.displayLoc)
		view.LatestMatch = &latest
	}

	for count, totalMs := range snapshot.Overlap.Summary.ByCount {
		view.Overlap.ByCount[count] = timeutil.FormatDuration(time.Duration(totalMs) * time.Millisecond)
	}

	for _, interval := range snapshot.Overlap.Intervals {
		view.Overlap.Intervals = append(view.Overlap.Intervals, overlapIntervalView{
			Start:    timeutil.ToZone(interval.Start, s.displayLoc),
			End:      timeutil.ToZone(interval.End, s.displayLoc),
			Duration: timeutil.FormatDuration(time.Duration(interval.DurationMs) * time.Millisecond),
			Players:  interval.Players,
			Count:    interval.Count,
		})
	}

	for idx, player := range snapshot.Players {
		pView := playerView{
			Name:        player.Name,
			ProfileURL:  player.ProfileURL,
			LastMatchID: player.LastMatchID,
			PlayingNow:  player.PlayingNow,
			LastSeen:    "never",
			Sessions:    make([]sessionView, 0, len(player.Sessions)),
		}
		if player.LastMatchAt != nil {
			localAt := timeutil.ToZone(*player.LastMatchAt, s.displayLoc)
			pView.LastMatchAt = &localAt
			pView.LastSeen = humanize.Time(*player.LastMatchAt)
		}
		for _, session := range player.Sessions {
			sView := sessionView{
				Start:    timeutil.ToZone(session.Start, s.displayLoc),
				Duration: timeutil.FormatDuration(session.Duration(snapshot.GeneratedAt)),
			}
			if session.End != nil {
				localEnd := timeutil.ToZone(*session.End, s.displayLoc)
				sView.End = &localEnd
			}
			pView.Sessions = append(pView.Sessions, sView)
		}
		view.Players[idx] = pView
	}

	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(view); err != nil {
		slog.Error("Failed to encode state", slog.String("error", err.Error()))
		http.Error(writer, "encode error", http.StatusInternalServerError)
	}
}
