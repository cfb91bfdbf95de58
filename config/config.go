// Package config reads the daemon configuration file. Every setting is
// optional; getters fall back to the built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/log"
)

// Duration decodes TOML strings such as "3s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	SysfsRoot  string `toml:"sysfs_root"`
	DevRoot    string `toml:"dev_root"`
	MgmtRoot   string `toml:"mgmt_root"`
	PluginPath string `toml:"plugin_path"`

	WaitInterval   Duration `toml:"wait_interval"`
	JoinTimeout    Duration `toml:"join_timeout"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	ConnectRetries int      `toml:"connect_retries"`

	// msd only
	ListenHost    string `toml:"listen_host"`
	ListenPort    uint16 `toml:"listen_port"`
	ChannelSwitch uint64 `toml:"channel_switch"`

	Metrics         bool     `toml:"metrics"`
	MetricsInterval Duration `toml:"metrics_interval"`
	RedisAddr       string   `toml:"redis_addr"`
	LogLevel        string   `toml:"log_level"`
}

// Load decodes path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		log.Warnf("%s: unknown key %s", path, key)
	}
	return cfg, nil
}

func (cfg *Config) GetSysfsRoot() string {
	if cfg.SysfsRoot != "" {
		return cfg.SysfsRoot
	}
	return constant.SysfsRoot
}

func (cfg *Config) GetDevRoot() string {
	if cfg.DevRoot != "" {
		return cfg.DevRoot
	}
	return constant.DevRoot
}

func (cfg *Config) GetMgmtRoot() string {
	if cfg.MgmtRoot != "" {
		return cfg.MgmtRoot
	}
	return constant.MgmtRoot
}

func (cfg *Config) GetPluginPath(def string) string {
	if cfg.PluginPath != "" {
		return cfg.PluginPath
	}
	return def
}

func (cfg *Config) GetWaitInterval() time.Duration {
	if cfg.WaitInterval.Duration > 0 {
		return cfg.WaitInterval.Duration
	}
	return constant.WaitInterval
}

func (cfg *Config) GetJoinTimeout() time.Duration {
	if cfg.JoinTimeout.Duration > 0 {
		return cfg.JoinTimeout.Duration
	}
	return constant.JoinTimeout
}

func (cfg *Config) GetConnectTimeout() time.Duration {
	if cfg.ConnectTimeout.Duration > 0 {
		return cfg.ConnectTimeout.Duration
	}
	return constant.ConnectTimeout
}

func (cfg *Config) GetConnectRetries() int {
	if cfg.ConnectRetries > 0 {
		return cfg.ConnectRetries
	}
	return constant.ConnectRetries
}

// GetListenHost is the host msd advertises to its peers: "vsock" selects
// the vsock transport, empty means this machine's hostname.
func (cfg *Config) GetListenHost() string {
	if cfg.ListenHost != "" {
		return cfg.ListenHost
	}
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}

func (cfg *Config) GetMetricsInterval() time.Duration {
	if cfg.MetricsInterval.Duration > 0 {
		return cfg.MetricsInterval.Duration
	}
	return constant.MetricsInterval
}

func (cfg *Config) GetLogLevel() log.Level {
	level, ok := log.ParseLevel(cfg.LogLevel)
	if !ok {
		log.Warnf("unknown log_level %q", cfg.LogLevel)
	}
	return level
}
