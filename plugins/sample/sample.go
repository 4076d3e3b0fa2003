// Package sample is a demonstration plugin. It forwards partner data to the
// user's account and records the synchronization on the bridge account.
package sample

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/bridge-hds/domain"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/pilab-dev/bridge-hds/plugins"
)

// Key is the plugin key.
const Key = "sample"

const pluginVersion = 0

// Datum is one record posted by the partner.
type Datum struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// Plugin is the sample plugin.
type Plugin struct {
	toolkit  *plugins.Toolkit
	logger   log.Logger
	streamID string

	mu     sync.Mutex
	closed bool
	tasks  sync.WaitGroup
}

var _ plugins.Plugin = (*Plugin)(nil)

// New creates the sample plugin. It satisfies plugins.Factory.
func New() plugins.Plugin {
	return &Plugin{}
}

func (p *Plugin) Key() string { return Key }

func (p *Plugin) PotentialCreatedItemKeys() []string { return []string{"body-weight"} }

// Init reads the target stream and registers the data routes. Data goes to
// "plugins.sample.stream_id" when set, otherwise to the first stream of the
// configured permission request.
func (p *Plugin) Init(_ context.Context, app *echo.Echo, toolkit *plugins.Toolkit) error {
	p.toolkit = toolkit
	p.logger = toolkit.Logger(Key)

	streamID, err := targetStream(toolkit)
	if err != nil {
		return err
	}
	p.streamID = streamID

	g := app.Group("/data/test/:partnerUserId")
	g.POST("", p.handleData)
	g.POST("/api", p.handleAPI)

	p.logger.Info(context.Background(), "Sample plugin loaded", log.Fields{"streamId": streamID})
	return nil
}

func (p *Plugin) NewUserAssociated(context.Context, string, string) (any, error) {
	return map[string]any{"dummy": "Acknowledged by sample plugin"}, nil
}

// Wait blocks until pending sync status writes are done.
func (p *Plugin) Wait() {
	p.tasks.Wait()
}

// Drain waits for pending sync status writes and skips any requested later.
func (p *Plugin) Drain() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.tasks.Wait()
}

// goAsync runs fn in the background unless the plugin is draining.
func (p *Plugin) goAsync(ctx context.Context, fn func(context.Context)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		fn(ctx)
	}()
	return true
}

func targetStream(toolkit *plugins.Toolkit) (string, error) {
	if id, ok := toolkit.ConfigGet("plugins.sample.stream_id").(string); ok && id != "" {
		return id, nil
	}
	raw, err := json.Marshal(toolkit.ConfigGet("service.user_permission_request"))
	if err != nil {
		return "", fmt.Errorf("sample plugin: reading permission request: %w", err)
	}
	var perms []domain.Permission
	if err := json.Unmarshal(raw, &perms); err != nil || len(perms) == 0 || perms[0].StreamID == "" {
		return "", berrors.NewInternal("sample plugin needs a stream in service.user_permission_request", nil)
	}
	return perms[0].StreamID, nil
}

// handleData handles POST /data/test/:partnerUserId.
func (p *Plugin) handleData(c echo.Context) error {
	if err := p.toolkit.AssertFromPartner(c); err != nil {
		return err
	}
	partnerUserID := c.Param("partnerUserId")

	var body any
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return berrors.NewBadRequest("data should be an array", nil)
	}
	if _, ok := body.([]any); !ok {
		return berrors.NewBadRequest("data should be an array", body)
	}
	raw, _ := json.Marshal(body)
	var data []Datum
	if err := json.Unmarshal(raw, &data); err != nil {
		return berrors.NewBadRequest("data should be an array of {type, content}", body)
	}

	results, err := p.NewData(c.Request().Context(), partnerUserID, data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results)
}

// handleAPI handles POST /data/test/:partnerUserId/api, a raw batch on the
// user's account.
func (p *Plugin) handleAPI(c echo.Context) error {
	if err := p.toolkit.AssertFromPartner(c); err != nil {
		return err
	}
	partnerUserID := c.Param("partnerUserId")
	if partnerUserID == "" {
		return berrors.NewBadRequest("Missing partnerUserId", nil)
	}
	var calls []domain.APICall
	if err := json.NewDecoder(c.Request().Body).Decode(&calls); err != nil {
		return berrors.NewBadRequest("body should be an array of api calls", nil)
	}

	ctx := c.Request().Context()
	user, err := p.toolkit.UserConnectionAndStatus(ctx, partnerUserID)
	if err != nil {
		return err
	}
	results, err := user.Connection.API(ctx, calls)
	if err != nil {
		return berrors.NewServiceError("Failed calling user account", nil).WithCause(err)
	}
	return c.JSON(http.StatusOK, results)
}

// NewData creates one event per datum on the user's account and records the
// sync status in the background.
func (p *Plugin) NewData(ctx context.Context, partnerUserID string, data []Datum) ([]domain.CallResult, error) {
	user, err := p.toolkit.UserConnectionAndStatus(ctx, partnerUserID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []domain.CallResult{}, nil
	}

	calls := make([]domain.APICall, len(data))
	for i, d := range data {
		calls[i] = domain.APICall{Method: "events.create", Params: map[string]any{
			"streamIds": []string{p.streamID},
			"type":      d.Type,
			"content":   d.Content,
		}}
	}
	results, err := user.Connection.API(ctx, calls)
	if err != nil {
		return nil, berrors.NewServiceError("Failed creating events", nil).WithCause(err)
	}

	if first := results[0].Event; first != nil {
		syncTime := first.Modified
		content := map[string]any{"createdEventId": first.ID, "pluginVersion": pluginVersion}
		started := p.goAsync(context.WithoutCancel(ctx), func(bg context.Context) {
			if _, err := p.toolkit.LogSyncStatus(bg, partnerUserID, &syncTime, content); err != nil {
				p.logger.Error(bg, "Failed logging sync status", err, log.Fields{"partnerUserId": partnerUserID})
			}
		})
		if !started {
			p.logger.Warn(ctx, "Skipping sync status, plugin is draining", log.Fields{"partnerUserId": partnerUserID})
		}
	}
	return results, nil
}
