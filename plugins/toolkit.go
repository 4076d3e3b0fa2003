package plugins

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/bridge-hds/domain"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/pilab-dev/bridge-hds/middleware"
)

// UserLookup resolves a partner user to a connection on its account.
type UserLookup interface {
	ConnectionAndStatus(ctx context.Context, partnerUserID string, includeInactive bool) (*domain.UserConnection, error)
}

// SyncStatusLogger records plugin synchronizations on the bridge account.
type SyncStatusLogger interface {
	LogSyncStatus(ctx context.Context, partnerUserID string, t *float64, content any) (*domain.Event, error)
}

// ConfigGetter reads raw configuration values.
type ConfigGetter interface {
	Get(key string) interface{}
}

// Toolkit is what the bridge exposes to plugins, so plugins do not depend on
// the bridge internals.
type Toolkit struct {
	logger log.Logger
	config ConfigGetter
	bridge domain.Connection
	users  UserLookup
	sync   SyncStatusLogger
}

// NewToolkit creates a Toolkit.
func NewToolkit(logger log.Logger, config ConfigGetter, bridge domain.Connection, users UserLookup, sync SyncStatusLogger) *Toolkit {
	return &Toolkit{logger: logger, config: config, bridge: bridge, users: users, sync: sync}
}

// Logger returns a logger tagged for the plugin.
func (t *Toolkit) Logger(pluginKey string) log.Logger {
	return t.logger.Named("plugin:" + pluginKey)
}

// ConfigGet reads a configuration value, nil when unset.
func (t *Toolkit) ConfigGet(key string) interface{} {
	if t.config == nil {
		return nil
	}
	return t.config.Get(key)
}

// BridgeConnection is the connection to the bridge account.
func (t *Toolkit) BridgeConnection() domain.Connection {
	return t.bridge
}

// AssertFromPartner returns an Unauthorized error unless the request comes
// from the partner.
func (t *Toolkit) AssertFromPartner(c echo.Context) error {
	return middleware.AssertFromPartner(c)
}

// UserConnectionAndStatus returns the status of an active user and a
// connection on its account. Inactive users are rejected as "Deactivated User".
func (t *Toolkit) UserConnectionAndStatus(ctx context.Context, partnerUserID string) (*domain.UserConnection, error) {
	return t.users.ConnectionAndStatus(ctx, partnerUserID, false)
}

// LogSyncStatus records a successful synchronization for a user.
func (t *Toolkit) LogSyncStatus(ctx context.Context, partnerUserID string, at *float64, content any) (*domain.Event, error) {
	return t.sync.LogSyncStatus(ctx, partnerUserID, at, content)
}
