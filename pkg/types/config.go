package types

import (
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

// Config holds backend selection, logging and change tracking parameters.
type Config struct {
	Backend  string         `json:"backend" yaml:"backend"`
	DataDir  string         `json:"data_dir" yaml:"data_dir"`
	LogLevel string         `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	Tracking TrackingConfig `json:"tracking" yaml:"tracking"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
	BackendMemory: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return errors.Annotatef(ErrBackendUnknown, "%q", c.Backend)
	}
	if c.LogLevel != "" {
		if _, ok := loggo.ParseLevel(c.LogLevel); !ok {
			return errors.NotValidf("log level %q", c.LogLevel)
		}
	}
	return c.Tracking.Validate()
}

// TrackingConfig tunes the change detector.
type TrackingConfig struct {
	// ScanRekeyTiers lists the tiers whose identity key changes are re-keyed
	// by a detection pass. Empty means eager only; the other tiers re-key
	// from their post-mutation notification.
	ScanRekeyTiers []Tier `json:"scan_rekey_tiers,omitempty" yaml:"scan_rekey_tiers,omitempty"`

	// DiscoverReachable makes a full sweep attach every untracked object
	// reachable through a discoverable navigation, not only the targets of
	// navigation changes.
	DiscoverReachable bool `json:"discover_reachable,omitempty" yaml:"discover_reachable,omitempty"`
}

// Validate checks every configured tier.
func (t TrackingConfig) Validate() error {
	for _, tier := range t.ScanRekeyTiers {
		if err := tier.Validate(); err != nil {
			return errors.Annotate(err, "scan_rekey_tiers")
		}
	}
	return nil
}

// RekeysOnScan reports whether a detection pass re-keys entries of tier.
func (t TrackingConfig) RekeysOnScan(tier Tier) bool {
	if len(t.ScanRekeyTiers) == 0 {
		return tier == TierEager
	}
	for _, candidate := range t.ScanRekeyTiers {
		if candidate == tier {
			return true
		}
	}
	return false
}
