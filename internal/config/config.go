// Package config is the YAML configuration surface. Everything here is
// read-only after the agent starts.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crosstap/crosstap/internal/forward"
)

// Config holds the full capture-session configuration.
type Config struct {
	// ListenPort is the proxy listen port.
	ListenPort int `yaml:"listen_port"`
	// DBPath is the sqlite capture database location.
	DBPath string `yaml:"db_path"`
	// TargetDomains is the host allow-list (exact or subdomain match).
	TargetDomains []string `yaml:"target_domains"`
	// ReportIntervalSec is the reporting loop interval.
	ReportIntervalSec int `yaml:"report_interval_sec"`
	// BindGraceSec is how long to wait for the proxy to bind before
	// attempting instrumentation attach.
	BindGraceSec int `yaml:"bind_grace_sec"`
	// DeviceTimeoutSec bounds instrumentation device lookup.
	DeviceTimeoutSec int `yaml:"device_timeout_sec"`
	// ProcessCandidates is the attach fallback list, in order.
	ProcessCandidates []string `yaml:"process_candidates"`
	// SpawnTarget is launched when every candidate is absent.
	SpawnTarget string `yaml:"spawn_target"`
	// PayloadPath optionally overrides the embedded hook payload, and is
	// watched for live reload.
	PayloadPath string `yaml:"payload_path"`
	// JournalPath optionally enables the tamper-evident session journal.
	JournalPath string `yaml:"journal_path"`
	// Forward optionally ships record copies to a Splunk HEC endpoint.
	Forward forward.Config `yaml:"forward"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenPort:        8080,
		DBPath:            "crosstap.db",
		TargetDomains:     []string{"example.com"},
		ReportIntervalSec: 10,
		BindGraceSec:      2,
		DeviceTimeoutSec:  10,
	}
}

// Load reads configuration from a YAML file, filling gaps with defaults.
// A missing file (or empty path) yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg.normalized(), nil
}

func (c Config) normalized() Config {
	d := Default()
	if c.ListenPort <= 0 {
		c.ListenPort = d.ListenPort
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if len(c.TargetDomains) == 0 {
		c.TargetDomains = d.TargetDomains
	}
	if c.ReportIntervalSec <= 0 {
		c.ReportIntervalSec = d.ReportIntervalSec
	}
	if c.BindGraceSec < 0 {
		c.BindGraceSec = d.BindGraceSec
	}
	if c.DeviceTimeoutSec <= 0 {
		c.DeviceTimeoutSec = d.DeviceTimeoutSec
	}
	return c
}

// ReportInterval returns the reporting loop interval as a duration.
func (c Config) ReportInterval() time.Duration {
	return time.Duration(c.ReportIntervalSec) * time.Second
}

// BindGrace returns the proxy bind grace period as a duration.
func (c Config) BindGrace() time.Duration {
	return time.Duration(c.BindGraceSec) * time.Second
}

// DeviceTimeout returns the device lookup timeout as a duration.
func (c Config) DeviceTimeout() time.Duration {
	return time.Duration(c.DeviceTimeoutSec) * time.Second
}
