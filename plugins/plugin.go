// Package plugins is the bridge extension point. Plugins declare the data
// items they may write, which widens the permissions requested at
// onboarding, and are told about every newly associated user.
package plugins

import (
	"context"

	"github.com/labstack/echo/v4"
)

// Plugin is implemented by every bridge plugin.
type Plugin interface {
	// Key identifies the plugin. It must be unique.
	Key() string
	// PotentialCreatedItemKeys lists the data model items the plugin may
	// create on user accounts.
	PotentialCreatedItemKeys() []string
	// Init is called once at boot. Plugins register their routes on app.
	Init(ctx context.Context, app *echo.Echo, toolkit *Toolkit) error
	// NewUserAssociated is called after a user completed onboarding. The
	// result must be JSON serializable; it is forwarded to the partner.
	NewUserAssociated(ctx context.Context, partnerUserID, apiEndpoint string) (any, error)
}

// Factory builds a plugin. Binaries declare the plugins they ship as a
// static map of factories keyed by plugin key.
type Factory func() Plugin
