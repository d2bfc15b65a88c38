// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package config loads layered Tabsync configuration with koanf v2:
// struct defaults, then an optional YAML file, then TABSYNC_* environment
// variables. See Load for precedence details.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for both the server and agent binaries.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Outbox    OutboxConfig    `koanf:"outbox"`
	Occupancy OccupancyConfig `koanf:"occupancy"`
	Detection DetectionConfig `koanf:"detection"`
	Requests  RequestsConfig  `koanf:"requests"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Backup    BackupConfig    `koanf:"backup"`
	Staff     StaffConfig     `koanf:"staff"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds the DuckDB settings for the server-side store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`

	// Threads 0 means use runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// OutboxConfig holds the device-local durable queue settings.
type OutboxConfig struct {
	Path string `koanf:"path"`

	// SyncWrites forces fsync on every enqueue. Disable only in tests.
	SyncWrites bool `koanf:"sync_writes"`

	// SyncInterval is the startup/periodic replay cadence.
	SyncInterval time.Duration `koanf:"sync_interval"`

	// EntryTTL bounds how long an unreplayed item is retained. Zero
	// disables expiry.
	EntryTTL time.Duration `koanf:"entry_ttl"`
}

// OccupancyConfig holds the device-side table cache settings.
type OccupancyConfig struct {
	// AntiFlickerTTL is the grace window during which local writes win
	// over conflicting poll results.
	AntiFlickerTTL time.Duration `koanf:"anti_flicker_ttl"`

	// PollInterval drives the open-tables reconciliation poll.
	PollInterval time.Duration `koanf:"poll_interval"`
}

// DetectionConfig holds the anti-theft heuristics thresholds.
type DetectionConfig struct {
	Enabled bool `koanf:"enabled"`

	// TicketVoidThreshold is the ticket-void count per window that
	// triggers a volume alert.
	TicketVoidThreshold int `koanf:"ticket_void_threshold"`

	// ItemVoidThreshold is the item-void count per window that triggers
	// a volume alert.
	ItemVoidThreshold int `koanf:"item_void_threshold"`

	// VolumeWindow is the trailing window for void counting.
	VolumeWindow time.Duration `koanf:"volume_window"`

	// PostPaymentWindow flags voids occurring within this duration of the
	// last payment on the same table.
	PostPaymentWindow time.Duration `koanf:"post_payment_window"`

	// AlertCooldown suppresses duplicate alerts per admin per signature.
	AlertCooldown time.Duration `koanf:"alert_cooldown"`

	// QueueSize bounds the fire-and-forget dispatch queue.
	QueueSize int `koanf:"queue_size"`
}

// RequestsConfig holds the add-item approval workflow settings.
type RequestsConfig struct {
	// StaleCutoff force-rejects PENDING/APPROVED requests once their table
	// has been open longer than this.
	StaleCutoff time.Duration `koanf:"stale_cutoff"`

	// SweepInterval drives the background stale sweep.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// BackupConfig holds the scheduled database snapshot settings.
type BackupConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`

	// Interval is the snapshot cadence.
	Interval time.Duration `koanf:"interval"`

	// MaxCount and MaxAge bound retention. Zero disables the bound; the
	// newest snapshot is always kept.
	MaxCount int           `koanf:"max_count"`
	MaxAge   time.Duration `koanf:"max_age"`
}

// UpstreamConfig holds the device agent's server connection settings.
type UpstreamConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`

	// BusinessID and UserID are the device's resolved identity, sent as
	// headers on every call. Session verification is external.
	BusinessID string `koanf:"business_id"`
	UserID     string `koanf:"user_id"`

	// PollRatePerSecond limits idempotent GET polling.
	PollRatePerSecond float64 `koanf:"poll_rate_per_second"`

	// RetryAttempts and RetryDelay bound GET retry/backoff. Writes are
	// never retried here; replay goes through the outbox.
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
}

// StaffConfig names the staff members with the admin role. Alerts from the
// anti-theft detectors fan out to every listed admin.
type StaffConfig struct {
	AdminIDs []string `koanf:"admin_ids"`
}

// SecurityConfig holds rate limiting and CORS settings. Authentication is
// external; Tabsync consumes resolved identities only.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig mirrors logging.Config for file/env control.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8480,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/tabsync.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Outbox: OutboxConfig{
			Path:         "/data/outbox",
			SyncWrites:   true,
			SyncInterval: 15 * time.Second,
			EntryTTL:     0,
		},
		Occupancy: OccupancyConfig{
			AntiFlickerTTL: 4 * time.Second,
			PollInterval:   5 * time.Second,
		},
		Detection: DetectionConfig{
			Enabled:             true,
			TicketVoidThreshold: 3,
			ItemVoidThreshold:   6,
			VolumeWindow:        60 * time.Minute,
			PostPaymentWindow:   10 * time.Minute,
			AlertCooldown:       60 * time.Minute,
			QueueSize:           256,
		},
		Requests: RequestsConfig{
			StaleCutoff:   12 * time.Hour,
			SweepInterval: 15 * time.Minute,
		},
		Upstream: UpstreamConfig{
			URL:               "http://127.0.0.1:8480",
			Timeout:           10 * time.Second,
			PollRatePerSecond: 2,
			RetryAttempts:     3,
			RetryDelay:        500 * time.Millisecond,
		},
		Backup: BackupConfig{
			Enabled:  false,
			Dir:      "/data/backups",
			Interval: 24 * time.Hour,
			MaxCount: 14,
			MaxAge:   0,
		},
		Staff: StaffConfig{
			AdminIDs: nil,
		},
		Security: SecurityConfig{
			RateLimitReqs:     300,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Occupancy.AntiFlickerTTL < 0 {
		return fmt.Errorf("occupancy.anti_flicker_ttl must not be negative")
	}
	if c.Detection.TicketVoidThreshold < 1 || c.Detection.ItemVoidThreshold < 1 {
		return fmt.Errorf("detection thresholds must be at least 1")
	}
	if c.Detection.VolumeWindow <= 0 || c.Detection.PostPaymentWindow <= 0 {
		return fmt.Errorf("detection windows must be positive")
	}
	if c.Detection.QueueSize < 1 {
		return fmt.Errorf("detection.queue_size must be at least 1")
	}
	if c.Backup.Enabled {
		if c.Backup.Dir == "" {
			return fmt.Errorf("backup.dir must not be empty when backups are enabled")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be positive")
		}
	}
	if c.Requests.StaleCutoff <= 0 {
		return fmt.Errorf("requests.stale_cutoff must be positive")
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 || c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("security rate limit settings invalid")
		}
	}
	return nil
}
