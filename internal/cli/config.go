package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/tracker/internal/paths"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	cfgKeyBackend           = "backend"
	cfgKeyDataDir           = "data_dir"
	cfgKeyLogLevel          = "log_level"
	cfgKeyScanRekeyTiers    = "tracking.scan_rekey_tiers"
	cfgKeyDiscoverReachable = "tracking.discover_reachable"

	envPrefix = "TRACKER"
)

// configFile is the structure written to config.yaml by init.
type configFile struct {
	Backend  string               `yaml:"backend"`
	DataDir  string               `yaml:"data_dir,omitempty"`
	LogLevel string               `yaml:"log_level,omitempty"`
	Tracking types.TrackingConfig `yaml:"tracking"`
}

// environment is the resolved configuration of one command run.
type environment struct {
	configDir string
	config    types.Config
}

// loadEnvironment resolves the directories, reads config.yaml and applies
// the configured log level. A missing config.yaml is not an error.
func loadEnvironment() (*environment, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, systemError(err, "resolving config directory")
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return nil, systemError(err, "loading configuration")
	}
	dataDir, err := paths.ResolveDataDir(flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return nil, systemError(err, "resolving data directory")
	}

	cfg := types.Config{
		Backend:  v.GetString(cfgKeyBackend),
		DataDir:  dataDir,
		LogLevel: v.GetString(cfgKeyLogLevel),
		Tracking: types.TrackingConfig{
			DiscoverReachable: v.GetBool(cfgKeyDiscoverReachable),
		},
	}
	for _, tier := range v.GetStringSlice(cfgKeyScanRekeyTiers) {
		cfg.Tracking.ScanRekeyTiers = append(cfg.Tracking.ScanRekeyTiers, types.Tier(tier))
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotatef(err, "configuration in %s", configDir)
	}
	if err := configureLogging(cfg.LogLevel); err != nil {
		return nil, errors.Trace(err)
	}
	return &environment{configDir: configDir, config: cfg}, nil
}

// loadConfig reads config.yaml from configDir using Viper. Every key can
// be overridden by a TRACKER_ environment variable, tracking.discover_reachable
// by TRACKER_TRACKING_DISCOVER_REACHABLE.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, errors.Annotate(err, "reading config")
	}
	return v, nil
}

// writeConfigIfMissing creates config.yaml with default values unless the
// file exists. It reports whether the file was written.
func writeConfigIfMissing(configDir, dataDir string) (bool, error) {
	path := filepath.Join(configDir, configFileExt)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Annotate(err, "checking config file")
	}

	cfg := configFile{
		Backend: types.BackendSQLite,
		DataDir: dataDir,
		Tracking: types.TrackingConfig{
			ScanRekeyTiers: []types.Tier{types.TierEager},
		},
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, errors.Annotate(err, "encoding config")
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return false, errors.Annotate(err, "creating config directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, errors.Annotate(err, "writing config")
	}
	return true, nil
}
