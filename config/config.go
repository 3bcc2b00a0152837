// Package config holds the durable configuration for the self-destruct
// subsystem: one block per trigger source plus the destruction
// engine's erasure profile. Configuration is created by the settings
// surface, validated here, and persisted as YAML; the aggregator and
// engine never mutate it.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opd-ai/scuttle/token"
)

// ErrInvalid is wrapped by every validation failure. Invalid
// configuration is rejected at configuration time and never reaches
// the engine.
var ErrInvalid = errors.New("invalid configuration")

// Sensitivity selects the forensic monitor's scan cadence.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityNormal   Sensitivity = "normal"
	SensitivityParanoid Sensitivity = "paranoid"
)

// scanInterval returns the cadence for a sensitivity level.
func (s Sensitivity) scanInterval() time.Duration {
	switch s {
	case SensitivityLow:
		return 10 * time.Minute
	case SensitivityParanoid:
		return 15 * time.Second
	default:
		return 2 * time.Minute
	}
}

// MonitorConfig configures a deadline-based trigger source (inactivity
// or mandatory reauthentication).
type MonitorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Threshold       time.Duration `yaml:"threshold"`
	WarningLeadTime time.Duration `yaml:"warning_lead_time"`
	Mode            token.Mode    `yaml:"mode"`
	// ImmediateOnWarning makes the aggregator treat even a warning
	// severity event from this source as an execute order.
	ImmediateOnWarning bool `yaml:"immediate_on_warning"`
}

// RevocationConfig configures the remote revocation poller.
type RevocationConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Endpoint     string        `yaml:"endpoint"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxInterval caps the backoff applied after consecutive network
	// failures.
	MaxInterval time.Duration `yaml:"max_interval"`
}

// ForensicConfig configures the tamper-detection scanner.
type ForensicConfig struct {
	Enabled     bool        `yaml:"enabled"`
	Sensitivity Sensitivity `yaml:"sensitivity"`
	// ScanInterval overrides the sensitivity-derived cadence when set.
	ScanInterval time.Duration `yaml:"scan_interval,omitempty"`
}

// EffectiveScanInterval resolves the scan cadence.
func (c ForensicConfig) EffectiveScanInterval() time.Duration {
	if c.ScanInterval > 0 {
		return c.ScanInterval
	}
	return c.Sensitivity.scanInterval()
}

// ShredConfig is the destruction engine's erasure profile.
type ShredConfig struct {
	// Passes is the number of overwrite passes per file. The default
	// profile follows a DoD-5220.22-M style pattern sequence with a
	// final pass of fresh random bytes.
	Passes int `yaml:"passes"`
	// ChunkSize bounds each write so peak memory stays predictable.
	ChunkSize int `yaml:"chunk_size"`
	// WorkerCount bounds per-file parallelism within a phase.
	WorkerCount int `yaml:"worker_count"`
	// WatchdogTimeout, when positive, forces the engine to advance to
	// the next phase rather than hang indefinitely on one item.
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`
	// AppRoots are storage roots erased in every mode.
	AppRoots []string `yaml:"app_roots"`
	// ExtraRoots are erased only under total obliteration.
	ExtraRoots []string `yaml:"extra_roots"`
	// AppMetadataKeys are bookkeeping keys purged in every mode.
	AppMetadataKeys []string `yaml:"app_metadata_keys"`
	// DeviceMetadataKeys are purged only under total obliteration.
	DeviceMetadataKeys []string `yaml:"device_metadata_keys"`
}

// Config is the root configuration document.
type Config struct {
	Inactivity MonitorConfig    `yaml:"inactivity"`
	Reauth     MonitorConfig    `yaml:"reauth"`
	Revocation RevocationConfig `yaml:"revocation"`
	Forensic   ForensicConfig   `yaml:"forensic"`
	Shred      ShredConfig      `yaml:"shred"`
	// CheckInterval is the evaluation cadence for the deadline
	// monitors.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// Default returns a configuration with conservative production
// defaults: both dead-man monitors armed, selective erasure, a
// seven-pass overwrite profile.
func Default() *Config {
	return &Config{
		Inactivity: MonitorConfig{
			Enabled:         true,
			Threshold:       7 * 24 * time.Hour,
			WarningLeadTime: 24 * time.Hour,
			Mode:            token.SelectiveErase,
		},
		Reauth: MonitorConfig{
			Enabled:         true,
			Threshold:       72 * time.Hour,
			WarningLeadTime: 12 * time.Hour,
			Mode:            token.SelectiveErase,
		},
		// Disabled until an endpoint is provisioned.
		Revocation: RevocationConfig{
			Enabled:      false,
			PollInterval: 15 * time.Minute,
			MaxInterval:  6 * time.Hour,
		},
		Forensic: ForensicConfig{
			Enabled:     true,
			Sensitivity: SensitivityNormal,
		},
		Shred: ShredConfig{
			Passes:      7,
			ChunkSize:   256 * 1024,
			WorkerCount: 4,
		},
		CheckInterval: time.Minute,
	}
}

const (
	minInactivityThreshold = 24 * time.Hour
	maxInactivityThreshold = 14 * 24 * time.Hour
	minReauthInterval      = 24 * time.Hour
	maxReauthInterval      = 168 * time.Hour
	reauthIntervalStep     = 24 * time.Hour
)

// Validate checks every configured range. All failures wrap
// ErrInvalid.
func (c *Config) Validate() error {
	if c.Inactivity.Enabled {
		t := c.Inactivity.Threshold
		if t < minInactivityThreshold || t > maxInactivityThreshold {
			return fmt.Errorf("%w: inactivity threshold %v outside [1d, 14d]", ErrInvalid, t)
		}
		if c.Inactivity.WarningLeadTime >= t {
			return fmt.Errorf("%w: inactivity warning lead %v must be less than threshold %v",
				ErrInvalid, c.Inactivity.WarningLeadTime, t)
		}
	}

	if c.Reauth.Enabled {
		t := c.Reauth.Threshold
		if t < minReauthInterval || t > maxReauthInterval {
			return fmt.Errorf("%w: reauth interval %v outside [24h, 168h]", ErrInvalid, t)
		}
		if t%reauthIntervalStep != 0 {
			return fmt.Errorf("%w: reauth interval %v must be a multiple of 24h", ErrInvalid, t)
		}
		if c.Reauth.WarningLeadTime >= t {
			return fmt.Errorf("%w: reauth warning lead %v must be less than interval %v",
				ErrInvalid, c.Reauth.WarningLeadTime, t)
		}
	}

	if c.Revocation.Enabled {
		if c.Revocation.Endpoint == "" {
			return fmt.Errorf("%w: revocation endpoint required when enabled", ErrInvalid)
		}
		if c.Revocation.PollInterval <= 0 {
			return fmt.Errorf("%w: revocation poll interval must be positive", ErrInvalid)
		}
		if c.Revocation.MaxInterval < c.Revocation.PollInterval {
			return fmt.Errorf("%w: revocation max interval %v below poll interval %v",
				ErrInvalid, c.Revocation.MaxInterval, c.Revocation.PollInterval)
		}
	}

	if c.Shred.Passes < 1 || c.Shred.Passes > 35 {
		return fmt.Errorf("%w: overwrite passes %d outside [1, 35]", ErrInvalid, c.Shred.Passes)
	}
	if c.Shred.ChunkSize < 4096 {
		return fmt.Errorf("%w: chunk size %d below 4096", ErrInvalid, c.Shred.ChunkSize)
	}
	if c.Shred.WorkerCount < 1 {
		return fmt.Errorf("%w: worker count must be at least 1", ErrInvalid)
	}

	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: check interval must be positive", ErrInvalid)
	}

	return nil
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save validates and writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
