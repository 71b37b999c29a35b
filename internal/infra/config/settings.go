package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deeplay/internal/app/config"
)

// SettingFile is the name of the settings file under the home directory
const SettingFile = "setting.yaml"

// EnvPrefix prefixes every environment override
const EnvPrefix = "DEEPLAY_"

// RawSettings represents the structure of setting.yaml.
// Nil fields are filled by the environment or by defaults.
type RawSettings struct {
	Home         *string `yaml:"home"`
	DBPath       *string `yaml:"db_path"`
	LogLevel     *string `yaml:"log_level"`
	OutputFormat *string `yaml:"output_format"`
	Tenant       *string `yaml:"tenant"`
	MetricsAddr  *string `yaml:"metrics_addr"`
	Dispatcher   *string `yaml:"dispatcher"`
	ServerURL    *string `yaml:"server_url,omitempty"`
	SyncInterval *string `yaml:"sync_interval"`
}

// envSettings lists the variables read with EnvPrefix
type envSettings struct {
	Home         string `env:"HOME"`
	DBPath       string `env:"DB_PATH"`
	LogLevel     string `env:"LOG_LEVEL"`
	OutputFormat string `env:"OUTPUT_FORMAT"`
	Tenant       string `env:"TENANT"`
	MetricsAddr  string `env:"METRICS_ADDR"`
	Dispatcher   string `env:"DISPATCHER"`
	ServerURL    string `env:"SERVER_URL"`
	SyncInterval string `env:"SYNC_INTERVAL"`
}

// LoadSettings loads configuration.
// Priority: environment > setting.yaml > defaults
func LoadSettings(fs afero.Fs, baseDir string) (*config.AppConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	yamlPath := filepath.Join(baseDir, SettingFile)
	data, err := afero.ReadFile(fs, yamlPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", yamlPath, err)
		}
		configSource = "yaml"
		settingPath = yamlPath
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read %s: %w", yamlPath, err)
	}

	overridden, err := applyEnv(settings)
	if err != nil {
		return nil, err
	}
	if overridden {
		configSource = "env"
	}

	applyDefaults(settings, baseDir)
	if err := validate(settings); err != nil {
		return nil, err
	}

	return buildAppConfig(settings, configSource, settingPath), nil
}

// applyEnv overlays non-empty DEEPLAY_* variables and reports whether any was set
func applyEnv(settings *RawSettings) (bool, error) {
	var e envSettings
	if err := env.ParseWithOptions(&e, env.Options{Prefix: EnvPrefix}); err != nil {
		return false, fmt.Errorf("parse env: %w", err)
	}

	overridden := false
	overlay := func(dst **string, v string) {
		if v == "" {
			return
		}
		*dst = &v
		overridden = true
	}
	overlay(&settings.Home, e.Home)
	overlay(&settings.DBPath, e.DBPath)
	overlay(&settings.LogLevel, e.LogLevel)
	overlay(&settings.OutputFormat, e.OutputFormat)
	overlay(&settings.Tenant, e.Tenant)
	overlay(&settings.MetricsAddr, e.MetricsAddr)
	overlay(&settings.Dispatcher, e.Dispatcher)
	overlay(&settings.ServerURL, e.ServerURL)
	overlay(&settings.SyncInterval, e.SyncInterval)
	return overridden, nil
}

// applyDefaults fills in default values for any nil fields
func applyDefaults(settings *RawSettings, baseDir string) {
	defaults := []struct {
		field **string
		value string
	}{
		{&settings.Home, baseDir},
		{&settings.DBPath, "deeplay.db"},
		{&settings.LogLevel, "warn"},
		{&settings.OutputFormat, "cli"},
		{&settings.Tenant, "default"},
		{&settings.MetricsAddr, "127.0.0.1:9464"},
		{&settings.Dispatcher, "log"},
		{&settings.SyncInterval, "2s"},
	}
	for _, d := range defaults {
		if *d.field == nil {
			v := d.value
			*d.field = &v
		}
	}
}

func validate(settings *RawSettings) error {
	switch *settings.OutputFormat {
	case "cli", "json":
	default:
		return fmt.Errorf("invalid output_format %q: must be cli or json", *settings.OutputFormat)
	}
	switch *settings.Dispatcher {
	case "log", "noop":
	default:
		return fmt.Errorf("invalid dispatcher %q: must be log or noop", *settings.Dispatcher)
	}
	if *settings.Tenant == "" {
		return fmt.Errorf("tenant must not be empty")
	}
	if d, err := time.ParseDuration(*settings.SyncInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid sync_interval %q: must be a positive duration such as 2s", *settings.SyncInterval)
	}
	return nil
}

func buildAppConfig(settings *RawSettings, configSource, settingPath string) *config.AppConfig {
	// validate has already checked the value
	syncInterval, _ := time.ParseDuration(*settings.SyncInterval)
	return config.NewAppConfig(
		*settings.Home,
		*settings.DBPath,
		*settings.LogLevel,
		*settings.OutputFormat,
		*settings.Tenant,
		*settings.MetricsAddr,
		*settings.Dispatcher,
		deref(settings.ServerURL),
		syncInterval,
		configSource,
		settingPath,
	)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// CreateDefaultSettings renders a setting.yaml with every default filled in
func CreateDefaultSettings(baseDir string) []byte {
	settings := &RawSettings{}
	applyDefaults(settings, baseDir)

	data, _ := yaml.Marshal(settings)
	return data
}
