// Package config handles loading and managing wavault configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DataConfig holds archive location configuration.
type DataConfig struct {
	DataDir  string `toml:"data_dir"`  // wavault home (defaults to ~/.wavault)
	BridgeDB string `toml:"bridge_db"` // path to the bridge's messages.db
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort      int     `toml:"api_port"`       // HTTP server port (default: 8080)
	APIKey       string  `toml:"api_key"`        // API authentication key (empty disables auth)
	RateLimitRPS float64 `toml:"rate_limit_rps"` // per-client request rate (default: 10)
}

// WatchConfig tunes the live change detection loop.
type WatchConfig struct {
	PollSeconds     int `toml:"poll_seconds"`     // archive poll interval (default: 1)
	LatenessSeconds int `toml:"lateness_seconds"` // late-write detection window (default: 30)
	BatchLimit      int `toml:"batch_limit"`      // rows per poll (default: 500)
	QueueSize       int `toml:"queue_size"`       // per-subscriber delivery queue (default: 256)
}

// AnalyzeConfig holds LLM analysis configuration.
type AnalyzeConfig struct {
	Server         string `toml:"server"`          // Ollama server URL
	Model          string `toml:"model"`           // Model name
	TimeoutSeconds int    `toml:"timeout_seconds"` // per-analysis deadline (default: 60)
}

// DigestSchedule defines one recurring digest.
type DigestSchedule struct {
	ChatJID  string `toml:"chat_jid"` // chat to summarize (empty means the daily digest)
	Schedule string `toml:"schedule"` // cron expression (e.g. "0 6 * * *")
	Days     int    `toml:"days"`     // lookback for contact digests (default: 7)
	Enabled  bool   `toml:"enabled"`
}

type Config struct {
	Data    DataConfig       `toml:"data"`
	Server  ServerConfig     `toml:"server"`
	Watch   WatchConfig      `toml:"watch"`
	Analyze AnalyzeConfig    `toml:"analyze"`
	Digests []DigestSchedule `toml:"digests"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default wavault home directory.
// Respects WAVAULT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("WAVAULT_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wavault"
	}
	return filepath.Join(home, ".wavault")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.wavault/config.toml).
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Data: DataConfig{
			DataDir: homeDir,
		},
		Server: ServerConfig{
			APIPort:      8080,
			RateLimitRPS: 10,
		},
		Watch: WatchConfig{
			PollSeconds:     1,
			LatenessSeconds: 30,
			BatchLimit:      500,
			QueueSize:       256,
		},
		Analyze: AnalyzeConfig{
			Server:         "http://localhost:11434",
			Model:          "llama3.1",
			TimeoutSeconds: 60,
		},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Expand ~ in paths
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.Data.BridgeDB = expandPath(cfg.Data.BridgeDB)

	return cfg, nil
}

// DatabasePath returns the path to the bridge's SQLite database.
func (c *Config) DatabasePath() string {
	if c.Data.BridgeDB != "" {
		return c.Data.BridgeDB
	}
	return filepath.Join(c.Data.DataDir, "messages.db")
}

// PollInterval returns the watch poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watch.PollSeconds) * time.Second
}

// Lateness returns the late-write detection window as a duration.
func (c *Config) Lateness() time.Duration {
	return time.Duration(c.Watch.LatenessSeconds) * time.Second
}

// AnalyzeTimeout returns the per-analysis deadline as a duration.
func (c *Config) AnalyzeTimeout() time.Duration {
	return time.Duration(c.Analyze.TimeoutSeconds) * time.Second
}

// EnabledDigests returns digests with scheduling enabled.
func (c *Config) EnabledDigests() []DigestSchedule {
	var enabled []DigestSchedule
	for _, d := range c.Digests {
		if d.Enabled && d.Schedule != "" {
			enabled = append(enabled, d)
		}
	}
	return enabled
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
