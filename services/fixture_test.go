package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/bridge-hds/bridgeaccount"
	"github.com/pilab-dev/bridge-hds/cache"
	"github.com/pilab-dev/bridge-hds/config"
	"github.com/pilab-dev/bridge-hds/domain"
	"github.com/pilab-dev/bridge-hds/hdsmodel"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/pilab-dev/bridge-hds/platform"
	"github.com/pilab-dev/bridge-hds/platform/platformtest"
	"github.com/pilab-dev/bridge-hds/plugins"
	"github.com/stretchr/testify/require"
)

const (
	successURL = "https://partner.example.com/onboard/success"
	cancelURL  = "https://partner.example.com/onboard/cancel"
	errorURL   = "https://partner.example.com/onboard/error"

	guardTTL = time.Minute
)

var redirects = domain.RedirectURLs{Success: successURL, Cancel: cancelURL}

// capturedHook is one webhook received by the partner stub.
type capturedHook struct {
	Method string
	Header http.Header
	Query  url.Values
	Body   map[string]any
}

// partnerStub records the webhooks sent to the partner.
type partnerStub struct {
	srv *httptest.Server

	mu    sync.Mutex
	hooks []capturedHook
}

func newPartnerStub(t *testing.T) *partnerStub {
	t.Helper()
	p := &partnerStub{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hook := capturedHook{Method: r.Method, Header: r.Header.Clone(), Query: r.URL.Query()}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &hook.Body)
		}
		p.mu.Lock()
		p.hooks = append(p.hooks, hook)
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *partnerStub) Hooks() []capturedHook {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capturedHook(nil), p.hooks...)
}

// stubPlugin acknowledges new users.
type stubPlugin struct {
	mu    sync.Mutex
	users []string
}

func (p *stubPlugin) Key() string                        { return "stub" }
func (p *stubPlugin) PotentialCreatedItemKeys() []string { return []string{"body-weight"} }

func (p *stubPlugin) Init(context.Context, *echo.Echo, *plugins.Toolkit) error { return nil }

func (p *stubPlugin) NewUserAssociated(_ context.Context, partnerUserID, _ string) (any, error) {
	p.mu.Lock()
	p.users = append(p.users, partnerUserID)
	p.mu.Unlock()
	return map[string]any{"dummy": "ok"}, nil
}

type fixture struct {
	platform *platformtest.Server
	partner  *partnerStub
	registry *bridgeaccount.Registry
	service  *platform.Service
	users    *UserService
	onboard  *OnboardService
	plugin   *stubPlugin
	settings OnboardSettings
}

func newFixture(t *testing.T, guard cache.FinalizeGuard) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{platform: platformtest.New(), partner: newPartnerStub(t), plugin: &stubPlugin{}}
	t.Cleanup(f.platform.Close)

	bridgeConn, err := platform.NewConnection(f.platform.CreateAccount("bridge", []domain.Permission{{StreamID: "*", Level: domain.LevelManage}}), nil)
	require.NoError(t, err)
	f.registry = bridgeaccount.New(bridgeConn, "bridge", log.Nop())
	require.NoError(t, f.registry.Init(ctx))

	f.service = platform.NewService(f.platform.ServiceInfoURL(), nil)
	f.users = NewUserService(f.registry, f.service, log.Nop())

	reg, err := plugins.NewRegistry(log.Nop(), f.plugin)
	require.NoError(t, err)
	model, err := hdsmodel.Default()
	require.NoError(t, err)
	req, err := reg.RequiredPermissionsAndStreams([]domain.Permission{{StreamID: "profile", Level: domain.LevelRead, DefaultName: "Profile"}}, model)
	require.NoError(t, err)

	f.settings = OnboardSettings{
		AppID:             "bridge-test",
		BaseURL:           "https://bridge.example.com",
		ConsentMessage:    "Share your data with Partner",
		Permissions:       req.Permissions,
		EnsureBaseStreams: req.Streams,
		Webhook: config.WebhookSettings{
			URL:     f.partner.srv.URL + "/webhook",
			Method:  http.MethodPost,
			Headers: map[string]string{"X-Partner-Key": "k"},
		},
		DefaultRedirectOnError: errorURL,
		FinalizeGuardTTL:       guardTTL,
	}
	f.onboard = NewOnboardService(f.settings, f.registry, f.users, f.service, reg, NewWebhookCaller(nil, log.Nop()), guard, log.Nop())
	return f
}

// initiate starts onboarding and returns the poll URL.
func (f *fixture) initiate(t *testing.T, partnerUserID string, clientData map[string]any) (*domain.OnboardResult, string) {
	t.Helper()
	res, err := f.onboard.Initiate(context.Background(), partnerUserID, redirects, clientData)
	require.NoError(t, err)
	require.Equal(t, domain.OnboardTypeAuthRequest, res.Type)
	return res, res.Context.PollURL()
}

// onboardUser runs a complete accepted onboarding.
func (f *fixture) onboardUser(t *testing.T, partnerUserID string) string {
	t.Helper()
	_, poll := f.initiate(t, partnerUserID, nil)
	endpoint, err := f.platform.Accept(poll, partnerUserID+"-account")
	require.NoError(t, err)
	require.Equal(t, successURL, f.onboard.Finalize(context.Background(), partnerUserID, []string{poll}))
	f.onboard.Wait()
	return endpoint
}

func (f *fixture) auditRecords(t *testing.T) []domain.ErrorRecord {
	t.Helper()
	events, err := f.registry.Errors(context.Background(), domain.EventsQuery{})
	require.NoError(t, err)
	out := make([]domain.ErrorRecord, len(events))
	for i, ev := range events {
		require.NoError(t, ev.DecodeContent(&out[i]))
	}
	return out
}
