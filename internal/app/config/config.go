package config

import (
	"path/filepath"
	"time"
)

// Config provides read-only access to application configuration.
// The app layer does not know whether a value came from setting.yaml,
// the environment or a default.
type Config interface {
	Home() string         // Base directory (DEEPLAY_HOME)
	DBPath() string       // SQLite database file (DEEPLAY_DB_PATH)
	LogLevel() string     // Log level for stderr (DEEPLAY_LOG_LEVEL)
	OutputFormat() string // cli or json (DEEPLAY_OUTPUT_FORMAT)
	Tenant() string       // Default tenant for CLI calls (DEEPLAY_TENANT)
	MetricsAddr() string  // Listen address of serve (DEEPLAY_METRICS_ADDR)
	Dispatcher() string   // log or noop (DEEPLAY_DISPATCHER)

	// ServerURL is the serve address run commands go through; empty means
	// they use the store directly (DEEPLAY_SERVER_URL)
	ServerURL() string
	// SyncInterval is how often serve re-reads runs from the store (DEEPLAY_SYNC_INTERVAL)
	SyncInterval() time.Duration

	// Metadata
	ConfigSource() string // "yaml", "env" or "default"
	SettingPath() string  // Path to setting.yaml if loaded from file
}

// AppConfig is the concrete implementation of Config
type AppConfig struct {
	home         string
	dbPath       string
	logLevel     string
	outputFormat string
	tenant       string
	metricsAddr  string
	dispatcher   string
	serverURL    string
	syncInterval time.Duration

	configSource string
	settingPath  string
}

// NewAppConfig creates an immutable configuration
func NewAppConfig(
	home, dbPath, logLevel, outputFormat, tenant, metricsAddr, dispatcher, serverURL string,
	syncInterval time.Duration,
	configSource, settingPath string,
) *AppConfig {
	return &AppConfig{
		home:         home,
		dbPath:       dbPath,
		logLevel:     logLevel,
		outputFormat: outputFormat,
		tenant:       tenant,
		metricsAddr:  metricsAddr,
		dispatcher:   dispatcher,
		serverURL:    serverURL,
		syncInterval: syncInterval,
		configSource: configSource,
		settingPath:  settingPath,
	}
}

func (c *AppConfig) Home() string { return c.home }

// DBPath returns the database file, resolved against Home when relative
func (c *AppConfig) DBPath() string {
	if c.dbPath == "" || c.dbPath == ":memory:" || filepath.IsAbs(c.dbPath) {
		return c.dbPath
	}
	return filepath.Join(c.home, c.dbPath)
}

func (c *AppConfig) LogLevel() string     { return c.logLevel }
func (c *AppConfig) OutputFormat() string { return c.outputFormat }
func (c *AppConfig) Tenant() string       { return c.tenant }
func (c *AppConfig) MetricsAddr() string  { return c.metricsAddr }
func (c *AppConfig) Dispatcher() string   { return c.dispatcher }
func (c *AppConfig) ServerURL() string    { return c.serverURL }

func (c *AppConfig) SyncInterval() time.Duration { return c.syncInterval }

func (c *AppConfig) ConfigSource() string { return c.configSource }
func (c *AppConfig) SettingPath() string  { return c.settingPath }
