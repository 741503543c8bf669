package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	OAuth     OAuthConfig     `yaml:"oauth" mapstructure:"oauth"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Qualify   QualifyConfig   `yaml:"qualify" mapstructure:"qualify"`
	Scorer    ScorerConfig    `yaml:"scorer" mapstructure:"scorer"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProvidersConfig holds per-provider API base URLs.
type ProvidersConfig struct {
	HubSpotBaseURL   string  `yaml:"hubspot_base_url" mapstructure:"hubspot_base_url"`
	PipedriveBaseURL string  `yaml:"pipedrive_base_url" mapstructure:"pipedrive_base_url"`
	ZohoBaseURL      string  `yaml:"zoho_base_url" mapstructure:"zoho_base_url"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OAuthClient holds the OAuth app credentials and token endpoint for one
// provider.
type OAuthClient struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	TokenURL     string `yaml:"token_url" mapstructure:"token_url"`
}

// OAuthConfig holds OAuth app credentials keyed by provider identifier.
type OAuthConfig struct {
	HubSpot    OAuthClient `yaml:"hubspot" mapstructure:"hubspot"`
	Salesforce OAuthClient `yaml:"salesforce" mapstructure:"salesforce"`
	Pipedrive  OAuthClient `yaml:"pipedrive" mapstructure:"pipedrive"`
	Zoho       OAuthClient `yaml:"zoho" mapstructure:"zoho"`

	// ExpirySafetyMarginSecs refreshes a token this many seconds before its
	// recorded expiry.
	ExpirySafetyMarginSecs int `yaml:"expiry_safety_margin_secs" mapstructure:"expiry_safety_margin_secs"`
	// DeactivateAfterFailures deactivates a connection after this many
	// consecutive refresh failures. Zero disables deactivation.
	DeactivateAfterFailures int `yaml:"deactivate_after_failures" mapstructure:"deactivate_after_failures"`
}

// Client returns the OAuth client for a provider identifier, or nil when the
// provider is not configured.
func (c OAuthConfig) Client(provider string) *OAuthClient {
	var oc OAuthClient
	switch provider {
	case "hubspot":
		oc = c.HubSpot
	case "salesforce":
		oc = c.Salesforce
	case "pipedrive":
		oc = c.Pipedrive
	case "zoho":
		oc = c.Zoho
	default:
		return nil
	}
	return &oc
}

// SyncConfig configures the reconciliation engine.
type SyncConfig struct {
	PageSize            int    `yaml:"page_size" mapstructure:"page_size"`
	MaxConcurrentFetch  int    `yaml:"max_concurrent_fetch" mapstructure:"max_concurrent_fetch"`
	RunTimeoutSecs      int    `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
	Schedule            string `yaml:"schedule" mapstructure:"schedule"`
}

// RunTimeout returns the per-run deadline as a duration.
func (c SyncConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSecs) * time.Second
}

// QualifyConfig configures batch qualification.
type QualifyConfig struct {
	MaxBatchSize   int     `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// ScorerConfig configures the external qualification scorer.
type ScorerConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MonitorConfig configures background health checks and alerting.
type MonitorConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	// StaleAfterHours flags a connection whose last successful sync is older
	// than this. Zero disables the check.
	StaleAfterHours int `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	// FailureCountThreshold flags a connection with at least this many
	// consecutive failures. Zero disables the check.
	FailureCountThreshold int `yaml:"failure_count_threshold" mapstructure:"failure_count_threshold"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "crm-sync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("providers.hubspot_base_url", "https://api.hubapi.com")
	v.SetDefault("providers.pipedrive_base_url", "https://api.pipedrive.com")
	v.SetDefault("providers.zoho_base_url", "https://www.zohoapis.com")
	v.SetDefault("providers.requests_per_sec", 5)
	v.SetDefault("providers.timeout_secs", 30)
	v.SetDefault("oauth.hubspot.token_url", "https://api.hubapi.com/oauth/v1/token")
	v.SetDefault("oauth.salesforce.token_url", "https://login.salesforce.com/services/oauth2/token")
	v.SetDefault("oauth.pipedrive.token_url", "https://oauth.pipedrive.com/oauth/token")
	v.SetDefault("oauth.zoho.token_url", "https://accounts.zoho.com/oauth/v2/token")
	v.SetDefault("oauth.expiry_safety_margin_secs", 120)
	v.SetDefault("oauth.deactivate_after_failures", 5)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.max_concurrent_fetch", 4)
	v.SetDefault("sync.run_timeout_secs", 300)
	v.SetDefault("sync.schedule", "0 2 * * *")
	v.SetDefault("qualify.max_batch_size", 50)
	v.SetDefault("qualify.requests_per_sec", 2)
	v.SetDefault("scorer.timeout_secs", 30)
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.stale_after_hours", 24)
	v.SetDefault("monitor.failure_count_threshold", 3)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
