// Package config decodes the rankwatch configuration file.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"

	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/scheduler"
)

// Known server and task names.
var (
	ServerNames = []string{"akatsuki", "titanic", "bancho"}
	TaskNames   = []string{"leaderboard", "profiles", "clans", "beatmaps"}
)

// Server configures one upstream client. Retries are transport-level retries
// of a single request; detail lookups are already retried by the sync jobs.
type Server struct {
	Enabled         bool          `mapstructure:"enabled"`
	BaseURL         string        `mapstructure:"base_url"`
	RequestInterval time.Duration `mapstructure:"request_interval"`
	Retries         int           `mapstructure:"retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
}

// Task configures one scheduled job. At, when set, makes it a daily job and
// takes precedence over Interval.
type Task struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	At       string        `mapstructure:"at"`
	Pages    int           `mapstructure:"pages"`
	PageSize int           `mapstructure:"page_size"`
}

// Policy returns the scheduling policy of the task.
func (t Task) Policy() (scheduler.Policy, error) {
	if t.At != "" {
		p, err := scheduler.ParseTimeOfDay(t.At)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return scheduler.Recurring{Interval: t.Interval}, nil
}

type Config struct {
	Database     string             `mapstructure:"database"`
	LogLevel     string             `mapstructure:"loglevel"`
	MetricsAddr  string             `mapstructure:"metrics_addr"`
	BeatmapCache string             `mapstructure:"beatmap_cache"`
	Modes        []string           `mapstructure:"modes"`
	Servers      map[string]Server  `mapstructure:"servers"`
	Tasks        map[string]Task    `mapstructure:"tasks"`
	Tracked      map[string][]int64 `mapstructure:"tracked"`
	TrackedClans map[string][]int64 `mapstructure:"tracked_clans"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database", "")
	v.SetDefault("loglevel", "info")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("beatmap_cache", "")
	v.SetDefault("modes", []string{"osu", "taiko", "fruits", "mania"})

	for _, name := range ServerNames {
		v.SetDefault("servers."+name+".enabled", name != "bancho")
		v.SetDefault("servers."+name+".retries", 0)
		v.SetDefault("servers."+name+".retry_delay", time.Second)
		v.SetDefault("servers."+name+".timeout", 30*time.Second)
	}

	v.SetDefault("tasks.leaderboard.enabled", true)
	v.SetDefault("tasks.leaderboard.interval", time.Hour)
	v.SetDefault("tasks.leaderboard.pages", 2)
	v.SetDefault("tasks.leaderboard.page_size", 50)
	v.SetDefault("tasks.profiles.enabled", true)
	v.SetDefault("tasks.profiles.interval", 30*time.Minute)
	v.SetDefault("tasks.profiles.pages", 1)
	v.SetDefault("tasks.clans.enabled", true)
	v.SetDefault("tasks.clans.at", "04:00")
	v.SetDefault("tasks.clans.pages", 1)
	v.SetDefault("tasks.clans.page_size", 50)
	v.SetDefault("tasks.beatmaps.enabled", true)
	v.SetDefault("tasks.beatmaps.interval", 6*time.Hour)
	v.SetDefault("tasks.beatmaps.page_size", 100)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func known(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Validate rejects unknown servers and tasks, bad modes and schedules, and an
// enabled bancho without credentials.
func (c *Config) Validate() error {
	if _, err := c.ParsedModes(); err != nil {
		return err
	}
	for name, s := range c.Servers {
		if !known(ServerNames, name) {
			return fmt.Errorf("servers.%s: unknown server", name)
		}
		if s.RequestInterval < 0 || s.Timeout < 0 || s.RetryDelay < 0 || s.Retries < 0 {
			return fmt.Errorf("servers.%s: negative duration or retry count", name)
		}
		if name == "bancho" && s.Enabled && (s.ClientID == "" || s.ClientSecret == "") {
			return fmt.Errorf("servers.bancho: client_id and client_secret are required")
		}
	}
	for name, t := range c.Tasks {
		if !known(TaskNames, name) {
			return fmt.Errorf("tasks.%s: unknown task", name)
		}
		if !t.Enabled {
			continue
		}
		if _, err := t.Policy(); err != nil {
			return fmt.Errorf("tasks.%s: %w", name, err)
		}
		if t.At == "" && t.Interval <= 0 {
			return fmt.Errorf("tasks.%s: interval must be positive", name)
		}
	}
	for _, tracked := range []map[string][]int64{c.Tracked, c.TrackedClans} {
		for name := range tracked {
			if !known(ServerNames, name) {
				return fmt.Errorf("tracked: unknown server %q", name)
			}
		}
	}
	return nil
}

// ParsedModes returns the configured modes.
func (c *Config) ParsedModes() ([]model.Mode, error) {
	if len(c.Modes) == 0 {
		return model.Modes, nil
	}
	out := make([]model.Mode, 0, len(c.Modes))
	for _, s := range c.Modes {
		m, err := model.ParseMode(s)
		if err != nil {
			return nil, fmt.Errorf("modes: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// EnabledServers returns the names of the enabled servers in a stable order.
func (c *Config) EnabledServers() []string {
	var out []string
	for name, s := range c.Servers {
		if s.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
