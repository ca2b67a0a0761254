package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "LOOM"

	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultPublicBaseURL    = "http://localhost:8080"
	defaultDatabasePath     = "loom.db"
	defaultLogLevel         = "info"
	defaultAssistantAPIBase = "https://api.openai.com/v1"
	defaultPollIntervalMS   = 1000
	defaultPollMaxTicks     = 60
	defaultSearchAPIBase    = "https://api.bing.microsoft.com/v7.0/search"
	defaultSearchMaxResults = 5
	defaultMaxUploadBytes   = 25 << 20
	defaultCleanupThreshold = 500 << 20
	defaultCleanupTarget    = 400 << 20
	defaultRetentionDays    = 7
	defaultBlobBucket       = "loom-files"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	PublicBaseURL string
	DatabasePath  string
	LogLevel      string

	AssistantAPIBase string
	AssistantAPIKey  string
	AssistantOrgID   string
	AssistantID      string
	PollInterval     time.Duration
	PollMaxTicks     int

	SearchAPIBase    string
	SearchAPIKey     string
	SearchMaxResults int

	BlobEndpoint  string
	BlobAccessKey string
	BlobSecretKey string
	BlobBucket    string
	BlobUseSSL    bool

	MaxUploadBytes        int64
	CleanupThresholdBytes int64
	CleanupTargetBytes    int64
	RetentionDays         int

	ShareSigningSecret string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("public.base_url", defaultPublicBaseURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("assistant.api_base", defaultAssistantAPIBase)
	configViper.SetDefault("assistant.poll_interval_ms", defaultPollIntervalMS)
	configViper.SetDefault("assistant.poll_max_ticks", defaultPollMaxTicks)

	configViper.SetDefault("search.api_base", defaultSearchAPIBase)
	configViper.SetDefault("search.max_results", defaultSearchMaxResults)

	configViper.SetDefault("blob.bucket", defaultBlobBucket)
	configViper.SetDefault("blob.use_ssl", true)

	configViper.SetDefault("storage.max_upload_bytes", defaultMaxUploadBytes)
	configViper.SetDefault("storage.cleanup_threshold_bytes", defaultCleanupThreshold)
	configViper.SetDefault("storage.cleanup_target_bytes", defaultCleanupTarget)
	configViper.SetDefault("storage.retention_days", defaultRetentionDays)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		PublicBaseURL: strings.TrimRight(configViper.GetString("public.base_url"), "/"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),

		AssistantAPIBase: strings.TrimRight(configViper.GetString("assistant.api_base"), "/"),
		AssistantAPIKey:  configViper.GetString("assistant.api_key"),
		AssistantOrgID:   configViper.GetString("assistant.org_id"),
		AssistantID:      configViper.GetString("assistant.assistant_id"),
		PollInterval:     time.Duration(configViper.GetInt("assistant.poll_interval_ms")) * time.Millisecond,
		PollMaxTicks:     configViper.GetInt("assistant.poll_max_ticks"),

		SearchAPIBase:    strings.TrimRight(configViper.GetString("search.api_base"), "/"),
		SearchAPIKey:     configViper.GetString("search.api_key"),
		SearchMaxResults: configViper.GetInt("search.max_results"),

		BlobEndpoint:  configViper.GetString("blob.endpoint"),
		BlobAccessKey: configViper.GetString("blob.access_key"),
		BlobSecretKey: configViper.GetString("blob.secret_key"),
		BlobBucket:    configViper.GetString("blob.bucket"),
		BlobUseSSL:    configViper.GetBool("blob.use_ssl"),

		MaxUploadBytes:        configViper.GetInt64("storage.max_upload_bytes"),
		CleanupThresholdBytes: configViper.GetInt64("storage.cleanup_threshold_bytes"),
		CleanupTargetBytes:    configViper.GetInt64("storage.cleanup_target_bytes"),
		RetentionDays:         configViper.GetInt("storage.retention_days"),

		ShareSigningSecret: configViper.GetString("share.signing_secret"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AssistantAPIKey) == "" {
		return fmt.Errorf("assistant.api_key is required")
	}
	if strings.TrimSpace(c.AssistantID) == "" {
		return fmt.Errorf("assistant.assistant_id is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ShareSigningSecret) == "" {
		return fmt.Errorf("share.signing_secret is required")
	}
	if strings.TrimSpace(c.BlobEndpoint) != "" {
		if strings.TrimSpace(c.BlobAccessKey) == "" || strings.TrimSpace(c.BlobSecretKey) == "" {
			return fmt.Errorf("blob.access_key and blob.secret_key are required when blob.endpoint is set")
		}
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("assistant.poll_interval_ms must be positive")
	}
	if c.PollMaxTicks <= 0 {
		return fmt.Errorf("assistant.poll_max_ticks must be positive")
	}
	if c.CleanupTargetBytes > c.CleanupThresholdBytes {
		return fmt.Errorf("storage.cleanup_target_bytes must not exceed storage.cleanup_threshold_bytes")
	}
	return nil
}
