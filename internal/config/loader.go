package config

import (
	"errors"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/spf13/viper"
)

// Loader handles setting up viper, loading configuration from files, and broadcasting configuration changes.
type Loader struct {
	*viper.Viper
	changes chan<- Config
}

func NewLoader(changes chan<- Config) *Loader {
	loader := Loader{changes: changes, Viper: viper.New()}
	loader.SetDefault("players", []map[string]string{})
	loader.SetDefault("poll_interval_secs", 60)
	loader.SetDefault("inactivity_window_mins", 30)
	loader.SetDefault("api_base_url", "https://logs.tf/")
	loader.SetDefault("http_listen_addr", "127.0.0.1:8722")
	loader.SetDefault("display_timezone", "UTC")
	loader.SetDefault("upnp_enabled", false)
	loader.SetDefault("upnp_external_port", 8722)
	loader.SetDefault("debug", false)
	loader.SetDefault("debug_replay_path", "testdata/observations.jsonl")
	loader.SetConfigName(DefaultConfigName)
	loader.SetConfigType("yaml")
	loader.SetEnvPrefix(EnvPrefix)
	loader.AddConfigPath(Path(""))
	loader.AddConfigPath(".")
	loader.AutomaticEnv()
	loader.WatchConfig()
	loader.OnConfigChange(loader.onConfigChange)

	return &loader
}

func (cl *Loader) Path() string {
	return cl.ConfigFileUsed()
}

func (cl *Loader) onConfigChange(in fsnotify.Event) {
	if in.Op != fsnotify.Write && in.Op != fsnotify.Rename {
		return
	}

	slog.Debug("External config reload triggered")
	config, err := cl.Read()
	if err != nil {
		slog.Error("Error reading config", slog.String("error", err.Error()))

		return
	}

	cl.changes <- config
}

func (cl *Loader) Read() (Config, error) {
	if err := cl.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return Config{}, errors.Join(err, errConfigRead)
		}
	}

	var config Config
	if err := cl.Unmarshal(&config); err != nil {
		return Config{}, errors.Join(err, errConfigRead)
	}

	for idx, player := range config.Players {
		sid := steamid.New(player.SteamIDString)
		if !sid.Valid() {
			slog.Error("Invalid roster steam_id", slog.String("name", player.Name),
				slog.String("steam_id", player.SteamIDString))

			return Config{}, errConfigRead
		}
		config.Players[idx].SteamID = sid
	}

	return config, nil
}
