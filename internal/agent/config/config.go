// Package config handles configuration for the sync agent, including
// defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the sync agent.
//
// Fields:
//   - ServerBaseURL: base URL of the reconciliation API.
//   - DatabasePath: path to the agent's SQLite database file.
//   - DeviceID / DeviceSecret: credentials of this device.
//   - Workers: upload worker count.
//   - BatchSize: maximum attachments claimed (and entries drained) per pass.
//   - MaxRetries: upload attempts before an attachment goes FAILED.
//   - SyncInterval: how often the pool and connector wake without a kick.
//   - OnlineCheckInterval: how often the agent probes server reachability.
//   - CleanupInterval: how often synced local files and remote deletes are swept.
//   - BackoffBase / BackoffMax: retry delay bounds for failed uploads.
//   - TransferTimeout: ceiling for a single sign or transfer call.
type Config struct {
	ServerBaseURL       string
	DatabasePath        string
	DeviceID            string
	DeviceSecret        string
	Workers             int
	BatchSize           int
	MaxRetries          int
	SyncInterval        time.Duration
	OnlineCheckInterval time.Duration
	CleanupInterval     time.Duration
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	TransferTimeout     time.Duration
}

// LoadDefaults populates c with sensible development defaults.
func (c *Config) LoadDefaults() {
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = "mediasync.db"
	c.Workers = 4
	c.BatchSize = 16
	c.MaxRetries = 5
	c.SyncInterval = 30 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.CleanupInterval = time.Minute
	c.BackoffBase = 2 * time.Second
	c.BackoffMax = 5 * time.Minute
	c.TransferTimeout = 2 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
