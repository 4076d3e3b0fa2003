package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pilab-dev/bridge-hds/domain"
	"github.com/spf13/viper"
)

// WebhookSettings describes the partner's onboarding webhook.
type WebhookSettings struct {
	URL     string            `mapstructure:"url" json:"url"`
	Method  string            `mapstructure:"method" json:"method"`
	Headers map[string]string `mapstructure:"headers" json:"headers"`
}

// PartnerURLs are the partner endpoints the bridge calls or redirects to.
type PartnerURLs struct {
	WebhookOnboard         WebhookSettings `mapstructure:"webhook_onboard"`
	DefaultRedirectOnError string          `mapstructure:"default_redirect_on_error"`
}

// ServiceConfig holds the platform service settings.
type ServiceConfig struct {
	AppID                     string              `mapstructure:"app_id"`
	ServiceInfoURL            string              `mapstructure:"service_info_url"`
	ConsentMessage            string              `mapstructure:"consent_message"`
	BridgeAccountMainStreamID string              `mapstructure:"bridge_account_main_stream_id"`
	UserPermissionRequest     []domain.Permission `mapstructure:"user_permission_request"`
	// ModelSource is a file path or http(s) URL of the data model catalog.
	// Empty uses the embedded catalog.
	ModelSource string `mapstructure:"model_source"`
}

// Config holds all configuration for the bridge server.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`
	BaseURL string `mapstructure:"base_url"`
	Log     struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`
	Start struct {
		// NumProcesses sizes GOMAXPROCS. Zero uses every CPU, negative values
		// are subtracted from the CPU count.
		NumProcesses int `mapstructure:"num_processes"`
	} `mapstructure:"start"`

	PartnerAuthToken  string        `mapstructure:"partner_auth_token"`
	BridgeAPIEndpoint string        `mapstructure:"bridge_api_endpoint"`
	Service           ServiceConfig `mapstructure:"service"`
	PartnerURLs       PartnerURLs   `mapstructure:"partner_urls"`

	Plugins struct {
		Enabled []string `mapstructure:"enabled"`
	} `mapstructure:"plugins"`

	Onboard struct {
		FinalizeGuardTTL time.Duration `mapstructure:"finalize_guard_ttl"`
	} `mapstructure:"onboard"`

	Redis struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"redis"`

	Platform struct {
		HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	} `mapstructure:"platform"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`

	Telemetry struct {
		// Exporter is where finished spans go: "none" or "stdout".
		Exporter string `mapstructure:"exporter"`
	} `mapstructure:"telemetry"`

	v *viper.Viper
}

// Get returns a raw configuration value by its dotted key. Plugins use it to
// read their own settings.
func (c *Config) Get(key string) interface{} {
	if c.v == nil {
		return nil
	}
	return c.v.Get(key)
}

// LoadConfig reads configuration from file, environment variables and defaults.
// When path is empty the file "bridge.yaml" is searched in the usual places;
// a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bridge-hds/")
		v.AddConfigPath("$HOME/.bridge-hds")
	}

	// BRIDGE_SERVICE_APP_ID overrides service.app_id
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	cfg.v = v

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7432)
	v.SetDefault("base_url", "http://127.0.0.1:7432")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("start.num_processes", 0)
	v.SetDefault("partner_auth_token", "")
	v.SetDefault("bridge_api_endpoint", "")
	v.SetDefault("service.app_id", "bridge-hds")
	v.SetDefault("service.service_info_url", "https://demo.datasafe.dev/reg/service/info")
	v.SetDefault("service.consent_message", "This application will access your data.")
	v.SetDefault("service.bridge_account_main_stream_id", "bridge")
	v.SetDefault("service.model_source", "")
	v.SetDefault("partner_urls.webhook_onboard.url", "")
	v.SetDefault("partner_urls.webhook_onboard.method", "POST")
	v.SetDefault("partner_urls.default_redirect_on_error", "")
	v.SetDefault("plugins.enabled", []string{})
	v.SetDefault("onboard.finalize_guard_ttl", "10m")
	v.SetDefault("redis.url", "")
	v.SetDefault("platform.http_timeout", "0s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("telemetry.exporter", "none")
}

// Validate reports mandatory settings that are missing, then settings
// holding unusable values.
func (c *Config) Validate() error {
	var missing []string
	if c.PartnerAuthToken == "" {
		missing = append(missing, "partner_auth_token")
	}
	if c.BridgeAPIEndpoint == "" {
		missing = append(missing, "bridge_api_endpoint")
	}
	if c.Service.ServiceInfoURL == "" {
		missing = append(missing, "service.service_info_url")
	}
	if c.Service.BridgeAccountMainStreamID == "" {
		missing = append(missing, "service.bridge_account_main_stream_id")
	}
	if len(c.Service.UserPermissionRequest) == 0 {
		missing = append(missing, "service.user_permission_request")
	}
	if c.PartnerURLs.WebhookOnboard.URL == "" {
		missing = append(missing, "partner_urls.webhook_onboard.url")
	}
	if c.PartnerURLs.DefaultRedirectOnError == "" {
		missing = append(missing, "partner_urls.default_redirect_on_error")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}

	// claims without expiry would pile up in the guard forever
	if c.Onboard.FinalizeGuardTTL <= 0 {
		return fmt.Errorf("invalid configuration: onboard.finalize_guard_ttl must be positive, got %s", c.Onboard.FinalizeGuardTTL)
	}
	switch c.Telemetry.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("invalid configuration: telemetry.exporter must be none or stdout, got %q", c.Telemetry.Exporter)
	}
	return nil
}
