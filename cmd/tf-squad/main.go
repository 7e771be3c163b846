package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/fang"
	_ "github.com/joho/godotenv/autoload"
	"github.com/leighmacdonald/tf-squad/internal/config"
	"github.com/leighmacdonald/tf-squad/internal/feed"
	"github.com/leighmacdonald/tf-squad/internal/network/upnp"
	"github.com/leighmacdonald/tf-squad/internal/store"
	"github.com/leighmacdonald/tf-squad/internal/tracker"
	"github.com/leighmacdonald/tf-squad/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

var (
	BuildVersion   = "master"
	BuildCommit    = "00000000"
	BuildDate      = time.Now().Format("2006-01-02T15:04:05Z")
	BuildGoVersion = runtime.Version()
	cfgFile        string
	rootCmd        = &cobra.Command{
		Use:   "tf-squad",
		Short: "Squad play session tracker",
		Long:  `tf-squad - Tracks when your TF2 squad is playing and how much you play together`,
		RunE:  run,
	}

	versionCmd = &cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		Long:              "Print detailed version information about tf-squad",
		Args:              cobra.NoArgs,
		ValidArgsFunction: cobra.NoFileCompletions,
		Run:               version,
	}
)

var errApp = errors.New("application error")

func main() {
	configPath := config.Path(config.DefaultConfigName)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", configPath, "Config file path")
	rootCmd.AddCommand(versionCmd)

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		slog.Error("Exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func version(_ *cobra.Command, _ []string) {
	fmt.Printf("tf-squad - Squad play session tracker\n\n") //nolint:forbidigo
	fmt.Printf("  Version: %s\n", BuildVersion)             //nolint:forbidigo
	fmt.Printf("  Commit:  %s\n", BuildCommit)              //nolint:forbidigo
	fmt.Printf("  Built:   %s\n", BuildDate)                //nolint:forbidigo
	fmt.Printf("  Runtime: %s\n\n", BuildGoVersion)         //nolint:forbidigo
}

// run is the main entry point of tf-squad.
func run(cmd *cobra.Command, _ []string) error {
	// If PROFILE is set, it will be used as the output file path for the profiler.
	if len(os.Getenv("PROFILE")) > 0 {
		profileFile, err := os.Create(os.Getenv("PROFILE"))
		if err != nil {
			return errors.Join(err, errApp)
		}

		if errStart := pprof.StartCPUProfile(profileFile); errStart != nil {
			return errors.Join(errStart, errApp)
		}
		defer pprof.StopCPUProfile()
	}

	// Make sure our config & data home exists.
	if err := os.MkdirAll(path.Join(xdg.ConfigHome, config.ConfigDirName), 0o750); err != nil {
		return errors.Join(err, errApp)
	}

	configUpdates := make(chan config.Config)
	configLoader := config.NewLoader(configUpdates)
	userConfig, errConfig := configLoader.Read()
	if errConfig != nil {
		return errors.Join(errApp, errConfig)
	}

	if len(userConfig.Players) == 0 {
		slog.Error("No players configured, add a players: block to the config",
			slog.String("path", configLoader.Path()))

		return errApp
	}

	level := slog.LevelInfo
	if userConfig.Debug {
		level = slog.LevelDebug
	}
	if _, errLogger := config.LoggerInit("", level); errLogger != nil {
		return errors.Join(errLogger, errApp)
	}

	slog.Info("Starting tf-squad", slog.String("version", BuildVersion),
		slog.String("commit", BuildCommit), slog.String("date", BuildDate),
		slog.String("go", runtime.Version()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Setup the sqlite database system.
	database, errDB := store.Open(ctx, config.Path(config.DefaultDBName), true)
	if errDB != nil {
		return errors.Join(errDB, errApp)
	}

	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Error closing database", slog.String("error", err.Error()))
		}
	}()

	stateStore := store.New(database)
	storedState, errLoad := stateStore.Load(ctx)
	if errLoad != nil {
		// A corrupt or unreadable state never prevents startup.
		slog.Error("Failed to load stored state, starting clean", slog.String("error", errLoad.Error()))
		storedState = tracker.State{}
	}

	rosterPlayers := make([]tracker.Player, len(userConfig.Players))
	for idx, player := range userConfig.Players {
		rosterPlayers[idx] = tracker.Player{
			SteamID:    player.SteamID,
			Name:       player.Name,
			ProfileURL: player.ProfileURL(),
		}
	}

	roster := tracker.NewRoster(rosterPlayers, userConfig.InactivityWindow(), storedState)

	// Setup the observation source: the live stats API, or a replay log when
	// debugging.
	var source tracker.Source
	if userConfig.Debug && userConfig.DebugReplayPath != "" {
		replay := feed.NewReplay(userConfig.DebugReplayPath)
		if errReplay := replay.Open(ctx); errReplay != nil {
			return errors.Join(errReplay, errApp)
		}
		source = replay
	} else {
		httpClient := &http.Client{Timeout: config.DefaultHTTPTimeout}
		source = feed.New(httpClient, userConfig.APIBaseURL)
	}

	poller := tracker.New(roster, source, stateStore, userConfig, configUpdates)
	dashboard := web.New(userConfig.HTTPListenAddr, roster, userConfig.DisplayLocation())

	if userConfig.UPNPEnabled {
		go upnp.New(userConfig.UPNPExternalPort, listenPort(userConfig.HTTPListenAddr)).Start(ctx)
	}

	tasks, taskCtx := errgroup.WithContext(ctx)
	tasks.Go(func() error {
		poller.Start(taskCtx)

		return nil
	})
	tasks.Go(func() error {
		return dashboard.Start(taskCtx)
	})

	if err := tasks.Wait(); err != nil {
		return errors.Join(err, errApp)
	}

	return nil
}

func listenPort(addr string) uint16 {
	_, portString, errSplit := net.SplitHostPort(addr)
	if errSplit != nil {
		return 0
	}

	port, errPort := strconv.ParseUint(portString, 10, 16)
	if errPort != nil {
		return 0
	}

	return uint16(port)
}
