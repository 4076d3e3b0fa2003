package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pilab-dev/bridge-hds/config"
	"github.com/pilab-dev/bridge-hds/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
partner_auth_token: partner-secret
bridge_api_endpoint: https://token@bridge.example.com/
base_url: https://bridge.example.com
service:
  app_id: test-bridge
  bridge_account_main_stream_id: partner
  user_permission_request:
    - streamId: body
      level: manage
      defaultName: Body
partner_urls:
  webhook_onboard:
    url: https://partner.example.com/webhook
    method: GET
    headers:
      Authorization: wh-secret
  default_redirect_on_error: https://partner.example.com/error
plugins:
  enabled: [sample]
onboard:
  finalize_guard_ttl: 2m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "partner-secret", cfg.PartnerAuthToken)
	assert.Equal(t, "test-bridge", cfg.Service.AppID)
	assert.Equal(t, "partner", cfg.Service.BridgeAccountMainStreamID)
	require.Len(t, cfg.Service.UserPermissionRequest, 1)
	assert.Equal(t, domain.Permission{StreamID: "body", Level: "manage", DefaultName: "Body"}, cfg.Service.UserPermissionRequest[0])
	assert.Equal(t, "GET", cfg.PartnerURLs.WebhookOnboard.Method)
	assert.Equal(t, "wh-secret", cfg.PartnerURLs.WebhookOnboard.Headers["authorization"])
	assert.Equal(t, []string{"sample"}, cfg.Plugins.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Onboard.FinalizeGuardTTL)
	assert.NoError(t, cfg.Validate())

	// defaults still apply for keys absent from the file
	assert.Equal(t, 7432, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "partner", cfg.Get("service.bridge_account_main_stream_id"))
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BRIDGE_PARTNER_AUTH_TOKEN", "from-env")
	t.Setenv("BRIDGE_SERVER_PORT", "9999")

	cfg, err := config.LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.PartnerAuthToken)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsMissingKeys(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partner_auth_token")
	assert.Contains(t, err.Error(), "bridge_api_endpoint")
	assert.Contains(t, err.Error(), "service.user_permission_request")
	assert.Contains(t, err.Error(), "partner_urls.webhook_onboard.url")
}

func TestValidate_RejectsNonPositiveGuardTTL(t *testing.T) {
	for _, ttl := range []string{"0s", "-1m"} {
		t.Run(ttl, func(t *testing.T) {
			t.Setenv("BRIDGE_ONBOARD_FINALIZE_GUARD_TTL", ttl)
			cfg, err := config.LoadConfig(writeConfig(t, sampleConfig))
			require.NoError(t, err)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "onboard.finalize_guard_ttl must be positive")
		})
	}
}

func TestValidate_TelemetryExporter(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)

	t.Setenv("BRIDGE_TELEMETRY_EXPORTER", "stdout")
	cfg, err = config.LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	t.Setenv("BRIDGE_TELEMETRY_EXPORTER", "jaeger")
	cfg, err = config.LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), `telemetry.exporter must be none or stdout, got "jaeger"`)
}
