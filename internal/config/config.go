// Package config handles the application config via viper, stored under the
// users XDG config dir by default.
package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/adrg/xdg"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

var (
	errConfigRead = errors.New("failed to read config file")
	errLoggerInit = errors.New("failed to initialize logger")
)

const (
	ConfigDirName      = "tf-squad"
	DefaultConfigName  = "tf-squad"
	DefaultDBName      = "tf-squad.db"
	DefaultLogName     = "tf-squad.log"
	EnvPrefix          = "tfsquad"
	DefaultHTTPTimeout = 15 * time.Second
)

type Config struct {
	// Players is the fixed roster being tracked. The roster is owned by config:
	// persisted state never adds or renames players.
	Players []Player `mapstructure:"players"`
	// PollIntervalSecs controls how often each player's latest match is checked.
	PollIntervalSecs int `mapstructure:"poll_interval_secs"`
	// InactivityWindowMins is how long a player can go without a new match
	// before their open session is considered over.
	InactivityWindowMins int    `mapstructure:"inactivity_window_mins"`
	APIBaseURL           string `mapstructure:"api_base_url"`
	HTTPListenAddr       string `mapstructure:"http_listen_addr"`
	// DisplayTimezone is applied only at the presentation boundary. Stored
	// timestamps are always UTC.
	DisplayTimezone string `mapstructure:"display_timezone"`
	// UPNPEnabled requests a router port mapping for the dashboard port, for the
	// case where the squad wants to reach it from outside the LAN.
	UPNPEnabled      bool   `mapstructure:"upnp_enabled"`
	UPNPExternalPort uint16 `mapstructure:"upnp_external_port"`
	Debug            bool   `mapstructure:"debug"`
	// DebugReplayPath points to a JSONL observation log that replaces the live
	// stats API when debug is enabled.
	DebugReplayPath string `mapstructure:"debug_replay_path"`
}

type Player struct {
	Name          string          `mapstructure:"name"`
	SteamIDString string          `mapstructure:"steam_id"`
	SteamID       steamid.SteamID `mapstructure:"-"`
}

// ProfileURL returns the player's public logs.tf profile page.
func (p Player) ProfileURL() string {
	return "https://logs.tf/profile/" + p.SteamID.String()
}

func (c Config) PollInterval() time.Duration {
	if c.PollIntervalSecs <= 0 {
		return time.Second * 60
	}

	return time.Second * time.Duration(c.PollIntervalSecs)
}

func (c Config) InactivityWindow() time.Duration {
	if c.InactivityWindowMins <= 0 {
		return time.Minute * 30
	}

	return time.Minute * time.Duration(c.InactivityWindowMins)
}

// DisplayLocation resolves the configured presentation zone, falling back to
// UTC when unset or invalid.
func (c Config) DisplayLocation() *time.Location {
	if c.DisplayTimezone == "" {
		return time.UTC
	}

	loc, errLoc := time.LoadLocation(c.DisplayTimezone)
	if errLoc != nil {
		slog.Warn("Invalid display_timezone, using UTC", slog.String("tz", c.DisplayTimezone))

		return time.UTC
	}

	return loc
}

// Path generates a path pointing to the filename under this apps defined $XDG_CONFIG_HOME.
func Path(name string) string {
	fullPath, errFullPath := xdg.ConfigFile(path.Join(ConfigDirName, name))
	if errFullPath != nil {
		panic(errFullPath)
	}

	return fullPath
}

// LoggerInit sets up the slog global handler. When logPath is empty logs go to
// stderr, otherwise to the named file under the config dir.
func LoggerInit(logPath string, level slog.Level) (io.Closer, error) {
	output := io.Writer(os.Stderr)
	var logFile *os.File

	if logPath != "" {
		created, errLogFile := os.Create(path.Join(xdg.ConfigHome, ConfigDirName, logPath))
		if errLogFile != nil {
			return nil, errors.Join(errLogFile, errLoggerInit)
		}
		logFile = created
		output = created
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	}))
	slog.SetDefault(logger)

	if logFile == nil {
		return io.NopCloser(nil), nil
	}

	return logFile, nil
}
