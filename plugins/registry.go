package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/bridge-hds/domain"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/hdsmodel"
	"github.com/pilab-dev/bridge-hds/internal/metrics"
	"github.com/pilab-dev/bridge-hds/log"
)

var ErrDuplicateKey = errors.New("duplicate plugin key")

// Requirements are the permissions and streams requested at onboarding.
type Requirements struct {
	Permissions []domain.Permission  `json:"permissions"`
	Streams     []hdsmodel.StreamRef `json:"streams"`
}

// Registry holds the loaded plugins in registration order.
type Registry struct {
	plugins []Plugin
	logger  log.Logger
}

// NewRegistry creates a registry over plugins.
func NewRegistry(logger log.Logger, plugins ...Plugin) (*Registry, error) {
	seen := map[string]bool{}
	for _, p := range plugins {
		key := p.Key()
		if key == "" {
			return nil, errors.New("plugin with empty key")
		}
		if seen[key] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}
		seen[key] = true
	}
	return &Registry{plugins: plugins, logger: logger.Named("plugins")}, nil
}

// FromFactories builds the registry for the enabled plugin keys.
func FromFactories(logger log.Logger, factories map[string]Factory, enabled []string) (*Registry, error) {
	list := make([]Plugin, 0, len(enabled))
	for _, key := range enabled {
		factory, ok := factories[key]
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q", key)
		}
		list = append(list, factory())
	}
	return NewRegistry(logger, list...)
}

// Plugins returns the plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	return r.plugins
}

// InitAll initializes each plugin in order and stops at the first failure.
func (r *Registry) InitAll(ctx context.Context, app *echo.Echo, toolkit *Toolkit) error {
	for _, p := range r.plugins {
		if err := p.Init(ctx, app, toolkit); err != nil {
			return fmt.Errorf("failed initializing plugin %s: %w", p.Key(), err)
		}
		r.logger.Info(ctx, "Loaded plugin", log.Fields{"plugin": p.Key()})
	}
	return nil
}

// ItemKeys returns the item keys declared by all plugins, each once, in
// registration order.
func (r *Registry) ItemKeys() []string {
	var keys []string
	seen := map[string]bool{}
	for _, p := range r.plugins {
		for _, k := range p.PotentialCreatedItemKeys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// RequiredPermissionsAndStreams merges baseline with one manage permission
// per top level stream holding the plugins' items. A "*" baseline already
// covers every stream. Streams lists what must exist for the items, parents
// first.
func (r *Registry) RequiredPermissionsAndStreams(baseline []domain.Permission, model *hdsmodel.Model) (*Requirements, error) {
	streams, err := model.StreamsForItems(r.ItemKeys())
	if err != nil {
		return nil, err
	}
	if streams == nil {
		streams = []hdsmodel.StreamRef{}
	}

	permissions := append([]domain.Permission(nil), baseline...)
	requested := map[string]bool{}
	for _, p := range baseline {
		if p.StreamID == "*" {
			return &Requirements{Permissions: permissions, Streams: streams}, nil
		}
		requested[p.StreamID] = true
	}
	for _, s := range streams {
		if s.ParentID != nil || requested[s.ID] {
			continue
		}
		requested[s.ID] = true
		permissions = append(permissions, domain.Permission{StreamID: s.ID, Level: domain.LevelManage, DefaultName: s.Name})
	}
	return &Requirements{Permissions: permissions, Streams: streams}, nil
}

// ValidatePermissions checks the configured baseline permission request.
func ValidatePermissions(permissions []domain.Permission) error {
	if len(permissions) == 0 {
		return berrors.NewInternal("Permissions setting should have one element", permissions)
	}
	for _, p := range permissions {
		if p.StreamID == "*" && p.Level == domain.LevelManage && p.DefaultName == "" {
			continue
		}
		if p.StreamID == "" || p.Level == "" || p.DefaultName == "" {
			raw, _ := json.Marshal(p)
			return berrors.NewInternal("Permissions setting is not valid "+string(raw), p)
		}
	}
	return nil
}

// AdvertiseNewUser calls every plugin's NewUserAssociated in registration
// order. A failing or panicking plugin gets {"error": message} under its key
// and does not stop the others.
func (r *Registry) AdvertiseNewUser(ctx context.Context, partnerUserID, apiEndpoint string) map[string]any {
	result := make(map[string]any, len(r.plugins))
	for _, p := range r.plugins {
		res, err := r.newUserAssociated(ctx, p, partnerUserID, apiEndpoint)
		if err != nil {
			r.logger.Error(ctx, "Plugin failed handling new user", err, log.Fields{"plugin": p.Key(), "partnerUserId": partnerUserID})
			metrics.PluginHookFailuresTotal.WithLabelValues(p.Key()).Inc()
			result[p.Key()] = map[string]any{"error": err.Error()}
			continue
		}
		result[p.Key()] = res
	}
	return result
}

func (r *Registry) newUserAssociated(ctx context.Context, p Plugin, partnerUserID, apiEndpoint string) (res any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %s panicked: %v", p.Key(), rec)
		}
	}()
	return p.NewUserAssociated(ctx, partnerUserID, apiEndpoint)
}
