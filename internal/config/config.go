// Package config loads and validates the static configuration shared by the
// name server, storage server, and client binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for a dfs process. Not every field
// applies to every binary: the client only reads NameServer and Client.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// NameServer configures the control plane endpoint every actor dials.
	NameServer NameServerConfig `mapstructure:"nameserver" yaml:"nameserver"`

	// StorageServer configures a single storage server instance.
	StorageServer StorageServerConfig `mapstructure:"storageserver" yaml:"storageserver"`

	// Metrics configures the Prometheus/health HTTP side-channel.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Exec gates the deliberately-unsafe EXEC verb.
	Exec ExecConfig `mapstructure:"exec" yaml:"exec"`

	// Client configures dfs-client's REPL session.
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// NameServerConfig configures the name server's listener and credential store.
type NameServerConfig struct {
	// Addr is the host:port the NS listens on for both clients and SS.
	Addr string `mapstructure:"addr" validate:"required" yaml:"addr"`

	// UsersFile is the flat credential file (see internal/auth).
	UsersFile string `mapstructure:"users_file" validate:"required" yaml:"users_file"`

	// DataDir is validated and saved with the configuration; no component
	// reads it (the log destination is Logging.Output).
	DataDir string `mapstructure:"data_dir" validate:"required" yaml:"data_dir"`

	// ProbeTimeout bounds the TCP connect probe used to reap dead SS.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`

	// FanOutTimeout bounds per-SS read/send during VIEW fan-out.
	FanOutTimeout time.Duration `mapstructure:"fanout_timeout" yaml:"fanout_timeout"`

	// MaxStorageServers caps the registry (spec MAX_SS = 32).
	MaxStorageServers int `mapstructure:"max_storage_servers" validate:"required,gt=0" yaml:"max_storage_servers"`

	// IndexBuckets sizes the file index hash table (spec default 4096).
	IndexBuckets int `mapstructure:"index_buckets" validate:"required,gt=0" yaml:"index_buckets"`
}

// StorageServerConfig configures a storage server process.
type StorageServerConfig struct {
	// NameServerAddr is where this SS registers itself.
	NameServerAddr string `mapstructure:"nameserver_addr" validate:"required" yaml:"nameserver_addr"`

	// AdvertiseIP is the address other actors should dial to reach this SS.
	AdvertiseIP string `mapstructure:"advertise_ip" validate:"required" yaml:"advertise_ip"`

	// BasePort is the spec's "8081 + id" base; the actual listen port is
	// BasePort + assigned id.
	BasePort int `mapstructure:"base_port" validate:"required,gt=0" yaml:"base_port"`

	// Root is the storage root under which storage<id>/ is created.
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// StreamTokenPause is the inter-token pause STREAM applies (spec: 100ms).
	StreamTokenPause time.Duration `mapstructure:"stream_token_pause" yaml:"stream_token_pause"`
}

// MetricsConfig configures the ambient health/metrics HTTP side-channel.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// ExecConfig gates the EXEC verb, which the spec calls "deliberately unsafe".
type ExecConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	AllowedPrefixes []string `mapstructure:"allowed_prefixes" yaml:"allowed_prefixes"`
}

// ClientConfig configures dfs-client. The wire protocol gives ordinary
// command replies no explicit terminator (unlike AUTH/REGISTER_SS's blank
// line or WRITE's ETIRW), so the client reads a command's full reply by
// waiting for a quiet period on the socket rather than an EOF the name
// server's multiplexed connection never sends.
type ClientConfig struct {
	// InitialReadTimeout bounds the wait for a reply's first byte; it must
	// cover the name server's own VIEW fan-out (FanOutTimeout per SS).
	InitialReadTimeout time.Duration `mapstructure:"initial_read_timeout" yaml:"initial_read_timeout"`

	// ReplyQuietWindow is how long the client waits after the last byte of
	// a reply before deciding the reply is complete.
	ReplyQuietWindow time.Duration `mapstructure:"reply_quiet_window" yaml:"reply_quiet_window"`

	// HistoryFile is loaded and saved with the rest of the configuration;
	// the REPL neither reads nor writes a history file.
	HistoryFile string `mapstructure:"history_file" yaml:"history_file"`
}

var validate = validator.New()

// Load starts from DefaultConfig, overlays the config file if one is found,
// and lets DFS_-prefixed environment variables override the keys that file
// sets (viper's AutomaticEnv outranks the file for any key actually set in
// the environment). Without a config file, environment variables are not
// consulted and the defaults are used as-is.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if found {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvOverrides(v, cfg)
	normalize(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("dfs")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides re-unmarshals on top of cfg. viper's Unmarshal only
// visits keys it already knows from the config file, so a DFS_* variable
// takes effect only for a key the file also sets.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	_ = v.Unmarshal(cfg)
}

func normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
}

// DefaultConfig returns a Config populated with sane defaults for local,
// single-machine development.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		NameServer: NameServerConfig{
			Addr:              "0.0.0.0:8080",
			UsersFile:         "users.txt",
			DataDir:           ".",
			ProbeTimeout:      300 * time.Millisecond,
			FanOutTimeout:     1 * time.Second,
			MaxStorageServers: 32,
			IndexBuckets:      4096,
		},
		StorageServer: StorageServerConfig{
			NameServerAddr:   "127.0.0.1:8080",
			AdvertiseIP:      "127.0.0.1",
			BasePort:         8081,
			Root:             ".",
			StreamTokenPause: 100 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9090",
		},
		Exec: ExecConfig{
			Enabled:         false,
			AllowedPrefixes: nil,
		},
		Client: ClientConfig{
			InitialReadTimeout: 2 * time.Second,
			ReplyQuietWindow:   150 * time.Millisecond,
			HistoryFile:        "",
		},
	}
}

// SaveConfig writes cfg to path as YAML, creating parent directories as
// needed. Mirrors the teacher's config bootstrap for `dfs-nameserver init`.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	v := viper.New()
	v.Set("logging", cfg.Logging)
	v.Set("nameserver", cfg.NameServer)
	v.Set("storageserver", cfg.StorageServer)
	v.Set("metrics", cfg.Metrics)
	v.Set("exec", cfg.Exec)
	v.Set("client", cfg.Client)
	return v.WriteConfigAs(path)
}
