// Package config implements the INI configuration surface of the
// tracker. Every section maps onto a typed struct; missing keys keep
// their default value.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// InternalConfig tunes the listen socket.
type InternalConfig struct {
	ListenPort     int    `ini:"listen_port"`
	MaxConnections int    `ini:"max_connections"`
	MetricsListen  string `ini:"metrics_listen"`
}

// TrackerConfig holds protocol-facing knobs.
type TrackerConfig struct {
	AnnounceInterval int `ini:"announce_interval"`
	NumwantLimit     int `ini:"numwant_limit"`
}

// TimersConfig holds background cadences, all in seconds.
type TimersConfig struct {
	PeersTimeout      int `ini:"peers_timeout"`
	ReapPeersInterval int `ini:"reap_peers_interval"`
	ScheduleInterval  int `ini:"schedule_interval"`
	DelReasonLifetime int `ini:"del_reason_lifetime"`
}

// MySQLConfig holds database connection parameters.
type MySQLConfig struct {
	Host     string `ini:"host"`
	Port     int    `ini:"port"`
	Database string `ini:"db"`
	Username string `ini:"user"`
	Password string `ini:"passwd"`
}

// GazelleConfig describes the site this tracker serves.
type GazelleConfig struct {
	SiteHost     string `ini:"site_host"`
	SitePath     string `ini:"site_path"`
	SitePassword string `ini:"site_password"`
}

// LoggingConfig controls log sinks.
type LoggingConfig struct {
	Log        bool   `ini:"log"`
	LogLevel   string `ini:"log_level"`
	LogConsole bool   `ini:"log_console"`
	LogFile    bool   `ini:"log_file"`
	LogPath    string `ini:"log_path"`
}

// DebugConfig holds switches that should never be on in production.
type DebugConfig struct {
	Readonly bool `ini:"readonly"`
}

// Config is the root of the tracker configuration.
type Config struct {
	Internal InternalConfig
	Tracker  TrackerConfig
	Timers   TimersConfig
	MySQL    MySQLConfig
	Gazelle  GazelleConfig
	Logging  LoggingConfig
	Debug    DebugConfig
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Internal: InternalConfig{
			ListenPort:     35000,
			MaxConnections: 1024,
		},
		Tracker: TrackerConfig{
			AnnounceInterval: 1800,
			NumwantLimit:     50,
		},
		Timers: TimersConfig{
			PeersTimeout:      7200,
			ReapPeersInterval: 1800,
			ScheduleInterval:  3,
			DelReasonLifetime: 86400,
		},
		MySQL: MySQLConfig{
			Host:     "127.0.0.1",
			Port:     36000,
			Database: "gazelle",
			Username: "gazelle",
			Password: "password",
		},
		Gazelle: GazelleConfig{
			SiteHost:     "127.0.0.1",
			SitePath:     "/tools.php",
			SitePassword: "00000000000000000000000000000000",
		},
		Logging: LoggingConfig{
			Log:        true,
			LogLevel:   "info",
			LogConsole: true,
			LogPath:    "/tmp/serval",
		},
		Debug: DebugConfig{},
	}
}

// Open reads an INI file and overlays it onto the defaults. An empty
// path returns the defaults unchanged.
func Open(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := ini.Load(os.ExpandEnv(path))
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}

	sections := map[string]interface{}{
		"internal": &cfg.Internal,
		"tracker":  &cfg.Tracker,
		"timers":   &cfg.Timers,
		"mysql":    &cfg.MySQL,
		"gazelle":  &cfg.Gazelle,
		"logging":  &cfg.Logging,
		"debug":    &cfg.Debug,
	}
	for name, target := range sections {
		if sec, err := file.GetSection(name); err == nil {
			if err := sec.MapTo(target); err != nil {
				return nil, errors.Wrapf(err, "config: section %s", name)
			}
		}
	}

	return cfg, nil
}

// DSN renders the go-sql-driver connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4,utf8",
		c.MySQL.Username, c.MySQL.Password, c.MySQL.Host, c.MySQL.Port, c.MySQL.Database)
}

// ScheduleInterval is the flush tick period.
func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Timers.ScheduleInterval) * time.Second
}

// ReapInterval is the peer reaper period.
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.Timers.ReapPeersInterval) * time.Second
}
