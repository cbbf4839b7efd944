package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/fieldtrace/mediasync/internal/flagx"
	"github.com/fieldtrace/mediasync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "3s"
// or as integer nanoseconds.
type JsonConfig struct {
	ServerBaseURL       string         `json:"server_base_url"`
	DatabasePath        string         `json:"database_path"`
	DeviceID            string         `json:"device_id"`
	DeviceSecret        string         `json:"device_secret"`
	Workers             int            `json:"workers"`
	BatchSize           int            `json:"batch_size"`
	MaxRetries          int            `json:"max_retries"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	CleanupInterval     timex.Duration `json:"cleanup_interval"`
	BackoffBase         timex.Duration `json:"backoff_base"`
	BackoffMax          timex.Duration `json:"backoff_max"`
	TransferTimeout     timex.Duration `json:"transfer_timeout"`
}

// parseJson overlays Config with values loaded from a JSON file resolved via
// the -c/-config flags. Zero values in the file leave the corresponding
// Config field untouched, so a partial file overrides only what it names.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerBaseURL != "" {
		cfg.ServerBaseURL = jc.ServerBaseURL
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.DeviceID != "" {
		cfg.DeviceID = jc.DeviceID
	}
	if jc.DeviceSecret != "" {
		cfg.DeviceSecret = jc.DeviceSecret
	}
	if jc.Workers > 0 {
		cfg.Workers = jc.Workers
	}
	if jc.BatchSize > 0 {
		cfg.BatchSize = jc.BatchSize
	}
	if jc.MaxRetries > 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	if jc.SyncInterval.Duration > 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.CleanupInterval.Duration > 0 {
		cfg.CleanupInterval = time.Duration(jc.CleanupInterval.Duration)
	}
	if jc.BackoffBase.Duration > 0 {
		cfg.BackoffBase = time.Duration(jc.BackoffBase.Duration)
	}
	if jc.BackoffMax.Duration > 0 {
		cfg.BackoffMax = time.Duration(jc.BackoffMax.Duration)
	}
	if jc.TransferTimeout.Duration > 0 {
		cfg.TransferTimeout = time.Duration(jc.TransferTimeout.Duration)
	}
}
