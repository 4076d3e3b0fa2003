package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	apiecho "github.com/pilab-dev/bridge-hds/api/echo"
	"github.com/pilab-dev/bridge-hds/bridgeaccount"
	"github.com/pilab-dev/bridge-hds/cache"
	"github.com/pilab-dev/bridge-hds/cache/redis"
	"github.com/pilab-dev/bridge-hds/config"
	"github.com/pilab-dev/bridge-hds/hdsmodel"
	"github.com/pilab-dev/bridge-hds/internal/metrics"
	"github.com/pilab-dev/bridge-hds/internal/server"
	"github.com/pilab-dev/bridge-hds/internal/telemetry"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/pilab-dev/bridge-hds/platform"
	"github.com/pilab-dev/bridge-hds/plugins"
	"github.com/pilab-dev/bridge-hds/plugins/sample"
	"github.com/pilab-dev/bridge-hds/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/sdk/metric"
)

// pluginFactories are the plugins this binary ships. config plugins.enabled
// selects among them.
var pluginFactories = map[string]plugins.Factory{
	sample.Key: sample.New,
}

const guardKeyPrefix = "bridge-hds"

// app is the wired bridge.
type app struct {
	echo    *echo.Echo
	onboard *services.OnboardService
	plugins *plugins.Registry
	guard   io.Closer
	// meter is nil when metrics are disabled.
	meter *metric.MeterProvider
}

// newApp wires every component from configuration. It talks to the platform:
// the service info is fetched and the bridge account streams are ensured.
func newApp(ctx context.Context, cfg *config.Config, logger log.Logger) (*app, error) {
	httpClient := &http.Client{Timeout: cfg.Platform.HTTPTimeout}

	if err := plugins.ValidatePermissions(cfg.Service.UserPermissionRequest); err != nil {
		return nil, err
	}
	model, err := hdsmodel.Load(ctx, cfg.Service.ModelSource, httpClient)
	if err != nil {
		return nil, fmt.Errorf("loading data model: %w", err)
	}
	pluginRegistry, err := plugins.FromFactories(logger, pluginFactories, cfg.Plugins.Enabled)
	if err != nil {
		return nil, err
	}
	requirements, err := pluginRegistry.RequiredPermissionsAndStreams(cfg.Service.UserPermissionRequest, model)
	if err != nil {
		return nil, err
	}

	platformService := platform.NewService(cfg.Service.ServiceInfoURL, httpClient)
	info, err := platformService.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching platform service info: %w", err)
	}
	logger.Info(ctx, "Platform service info loaded", log.Fields{"name": info.Name, "access": info.Access})

	bridgeConn, err := platform.NewConnection(cfg.BridgeAPIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("bridge_api_endpoint: %w", err)
	}
	account := bridgeaccount.New(bridgeConn, cfg.Service.BridgeAccountMainStreamID, logger)
	if err := account.Init(ctx); err != nil {
		return nil, err
	}

	var (
		guard  cache.FinalizeGuard
		closer io.Closer
	)
	if cfg.Redis.URL != "" {
		g, err := redis.NewGuardFromURL(cfg.Redis.URL, guardKeyPrefix)
		if err != nil {
			return nil, err
		}
		guard, closer = g, g
		logger.Info(ctx, "Finalize guard uses redis")
	} else {
		g := cache.NewMemoryGuard()
		guard, closer = g, g
	}

	users := services.NewUserService(account, platformService, logger)
	onboard := services.NewOnboardService(
		services.NewOnboardSettings(cfg, requirements),
		account,
		users,
		platformService,
		pluginRegistry,
		services.NewWebhookCaller(httpClient, logger),
		guard,
		logger,
	)

	var (
		gatherer prometheus.Gatherer
		meter    *metric.MeterProvider
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics.Register(reg)
		meter, err = telemetry.InitMeterProvider(reg, logger)
		if err != nil {
			_ = closer.Close()
			return nil, err
		}
		gatherer = reg
	}

	e := server.NewEcho(logger, cfg.PartnerAuthToken, apiecho.ErrorHandler(logger))
	api, err := apiecho.NewBridgeAPI(onboard, users, account, gatherer, logger)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	api.RegisterRoutes(e)

	toolkit := plugins.NewToolkit(logger, cfg, bridgeConn, users, account)
	if err := pluginRegistry.InitAll(ctx, e, toolkit); err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &app{echo: e, onboard: onboard, plugins: pluginRegistry, guard: closer, meter: meter}, nil
}

// drain stops background work from being started, waits for onboarding
// cleanup, audit records and plugin tasks, then releases the finalize guard.
func (a *app) drain() error {
	a.onboard.Drain()
	for _, p := range a.plugins.Plugins() {
		if d, ok := p.(interface{ Drain() }); ok {
			d.Drain()
		}
	}
	return a.guard.Close()
}
