package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pilab-dev/bridge-hds/bridgeaccount"
	"github.com/pilab-dev/bridge-hds/cache"
	"github.com/pilab-dev/bridge-hds/config"
	"github.com/pilab-dev/bridge-hds/domain"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/hdsmodel"
	"github.com/pilab-dev/bridge-hds/internal/metrics"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/pilab-dev/bridge-hds/plugins"
)

const (
	onboardingSecretLength   = 24
	onboardingSecretAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	finalizePath = "/user/onboard/finalize/"

	msgFinalizeFailed    = "Failed finalizing onboarding."
	msgNoMatchingRequest = "No matching pending request"
	msgAlreadyFinalizing = "Onboarding already being finalized"
)

// Webhook delivers partner webhooks.
type Webhook interface {
	Call(ctx context.Context, settings config.WebhookSettings, params map[string]any) error
}

// OnboardSettings are fixed at boot.
type OnboardSettings struct {
	AppID          string
	BaseURL        string
	ConsentMessage string
	// Permissions is the baseline merged with the plugins' needs.
	Permissions            []domain.Permission
	EnsureBaseStreams      []hdsmodel.StreamRef
	Webhook                config.WebhookSettings
	DefaultRedirectOnError string
	FinalizeGuardTTL       time.Duration
}

// NewOnboardSettings builds the settings from configuration and the plugin
// requirements.
func NewOnboardSettings(cfg *config.Config, req *plugins.Requirements) OnboardSettings {
	return OnboardSettings{
		AppID:                  cfg.Service.AppID,
		BaseURL:                cfg.BaseURL,
		ConsentMessage:         cfg.Service.ConsentMessage,
		Permissions:            req.Permissions,
		EnsureBaseStreams:      req.Streams,
		Webhook:                cfg.PartnerURLs.WebhookOnboard,
		DefaultRedirectOnError: cfg.PartnerURLs.DefaultRedirectOnError,
		FinalizeGuardTTL:       cfg.Onboard.FinalizeGuardTTL,
	}
}

// OnboardService drives the consent flow: initiate, then finalize when the
// user comes back from the platform consent page.
type OnboardService struct {
	settings OnboardSettings
	registry AccountRegistry
	users    *UserService
	access   domain.AccessRequester
	plugins  PluginDispatcher
	webhook  Webhook
	guard    cache.FinalizeGuard
	logger   log.Logger

	mu     sync.Mutex
	closed bool
	tasks  sync.WaitGroup
}

// NewOnboardService creates an OnboardService. guard may be nil, which
// disables the finalize guard.
func NewOnboardService(
	settings OnboardSettings,
	registry AccountRegistry,
	users *UserService,
	access domain.AccessRequester,
	plugins PluginDispatcher,
	webhook Webhook,
	guard cache.FinalizeGuard,
	logger log.Logger,
) *OnboardService {
	return &OnboardService{
		settings: settings,
		registry: registry,
		users:    users,
		access:   access,
		plugins:  plugins,
		webhook:  webhook,
		guard:    guard,
		logger:   logger.Named("onboard"),
	}
}

// Initiate starts onboarding a partner user. Users already holding a
// credential short-circuit with a userExists result and nothing is written.
func (s *OnboardService) Initiate(ctx context.Context, partnerUserID string, redirectURLs domain.RedirectURLs, clientData map[string]any) (*domain.OnboardResult, error) {
	status, err := s.users.Status(ctx, partnerUserID, false)
	if err != nil {
		return nil, err
	}
	if status != nil {
		metrics.OnboardInitiatedTotal.WithLabelValues(domain.OnboardTypeUserExists).Inc()
		return &domain.OnboardResult{Type: domain.OnboardTypeUserExists, User: &status.User}, nil
	}

	response, err := s.access.RequestAccess(ctx, domain.AccessRequest{
		RequestingAppID:      s.settings.AppID,
		RequestedPermissions: s.settings.Permissions,
		ReturnURL:            strings.TrimSuffix(s.settings.BaseURL, "/") + finalizePath + url.PathEscape(partnerUserID),
		ClientData: map[string]any{
			"app-web-auth:ensureBaseStreams": s.settings.EnsureBaseStreams,
			"app-web-auth:description": map[string]any{
				"type":    "note/txt",
				"content": s.settings.ConsentMessage,
			},
		},
	})
	if err != nil {
		return nil, berrors.NewServiceError("Failed requesting access", nil).WithCause(err)
	}
	redirectUserURL, _ := response["url"].(string)
	if poll, _ := response["poll"].(string); poll == "" || redirectUserURL == "" {
		return nil, berrors.NewServiceError("Invalid access request response", response)
	}

	secret, err := newOnboardingSecret()
	if err != nil {
		return nil, berrors.NewInternal("Failed generating onboarding secret", nil).WithCause(err)
	}
	if clientData == nil {
		clientData = map[string]any{}
	}
	pending := domain.PendingAuthRequest{
		RedirectURLs:      redirectURLs,
		WebhookClientData: clientData,
		ResponseBody:      response,
		OnboardingSecret:  secret,
	}
	if _, err := s.registry.StorePendingAuthRequest(ctx, partnerUserID, pending); err != nil {
		return nil, err
	}

	metrics.OnboardInitiatedTotal.WithLabelValues(domain.OnboardTypeAuthRequest).Inc()
	return &domain.OnboardResult{
		Type:             domain.OnboardTypeAuthRequest,
		OnboardingSecret: secret,
		RedirectUserURL:  redirectUserURL,
		Context:          &pending,
	}, nil
}

// Finalize completes onboarding once the user is back from the consent page
// and returns where to redirect the user. It never fails: errors end on the
// partner error page, after an ERROR webhook and an audit record.
func (s *OnboardService) Finalize(ctx context.Context, partnerUserID string, pollParam []string) string {
	redirect, err := s.finalize(ctx, partnerUserID, pollParam)
	if err == nil {
		return redirect
	}
	metrics.OnboardFinalizedTotal.WithLabelValues(metrics.OutcomeError).Inc()

	be := berrors.Wrap(err)
	if !be.SkipWebhook {
		params := make(map[string]any, len(be.WebhookParams)+4)
		for k, v := range be.WebhookParams {
			params[k] = v
		}
		params["type"] = domain.WebhookTypeError
		params["partnerUserId"] = partnerUserID
		params["error"] = be.Message
		if be.ErrorObject != nil {
			if raw, jerr := json.Marshal(be.ErrorObject); jerr == nil {
				params["errorObjectJSON"] = string(raw)
			}
		}
		if werr := s.webhook.Call(ctx, s.settings.Webhook, params); werr != nil {
			s.logger.Error(ctx, "Failed sending error webhook", werr, log.Fields{"partnerUserId": partnerUserID})
		}
		s.logger.Error(ctx, "Failed finalizing onboarding", err, log.Fields{"partnerUserId": partnerUserID})
	}

	s.audit(ctx, "Failed finalizing onboarding", map[string]any{
		"partnerUserId":     partnerUserID,
		"pollParam":         pollParamValue(pollParam),
		"innerErrorMessage": be.Message,
		"innerErrorObject":  be.ErrorObject,
	})
	return s.errorRedirect(msgFinalizeFailed)
}

func (s *OnboardService) finalize(ctx context.Context, partnerUserID string, pollParam []string) (string, error) {
	var pollURL string
	if len(pollParam) > 0 {
		pollURL = pollParam[0]
	}
	if !isAbsoluteHTTPURL(pollURL) {
		return "", berrors.NewBadRequest("Missing or invalid poll URL", map[string]any{"poll": pollParamValue(pollParam)})
	}

	if s.guard != nil {
		claimed, err := s.guard.Claim(ctx, pollURL, s.settings.FinalizeGuardTTL)
		if err != nil {
			s.logger.Warn(ctx, "Finalize guard unavailable, proceeding", log.Fields{"error": err.Error()})
		} else if !claimed {
			s.logger.Warn(ctx, "Finalize already in progress for poll URL", log.Fields{"partnerUserId": partnerUserID, "poll": pollURL})
			metrics.OnboardFinalizedTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
			return s.errorRedirect(msgAlreadyFinalizing), nil
		}
	}

	poll, err := s.access.Poll(ctx, pollURL)
	if err != nil {
		return "", berrors.NewServiceError("Failed polling access request", map[string]any{"poll": pollURL}).WithCause(err)
	}

	pending, err := s.registry.PendingAuthRequests(ctx, partnerUserID)
	if err != nil {
		return "", err
	}
	var matches []bridgeaccount.PendingAuth
	for _, p := range pending {
		if p.Request.PollURL() == pollURL {
			matches = append(matches, p)
		}
	}
	if len(matches) != 1 {
		s.logger.Error(ctx, "No matching pending request for this user", nil, log.Fields{
			"partnerUserId": partnerUserID,
			"poll":          pollURL,
			"matches":       len(matches),
		})
		s.audit(ctx, msgNoMatchingRequest, map[string]any{
			"partnerUserId": partnerUserID,
			"pollParam":     pollParamValue(pollParam),
			"matches":       len(matches),
		})
		metrics.OnboardFinalizedTotal.WithLabelValues(metrics.OutcomeNoMatch).Inc()
		return s.errorRedirect(msgNoMatchingRequest), nil
	}
	match := matches[0].Request

	params := make(map[string]any, len(match.WebhookClientData)+4)
	for k, v := range match.WebhookClientData {
		params[k] = v
	}
	params["partnerUserId"] = partnerUserID
	params["onboardingSecret"] = match.OnboardingSecret

	stale := make([]domain.Event, 0, len(pending))
	for _, p := range pending {
		stale = append(stale, p.Event)
	}
	s.spawn(ctx, "cleanup", func(ctx context.Context) {
		if err := s.registry.DeleteEventsHard(ctx, stale); err != nil {
			s.logger.Error(ctx, "Failed cleaning pending auth requests", err, log.Fields{"partnerUserId": partnerUserID})
		}
	})

	if poll.Status == domain.PollStatusAccepted {
		if err := s.accept(ctx, partnerUserID, poll, params); err != nil {
			return "", withWebhookParams(err, params)
		}
		metrics.OnboardFinalizedTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		return match.RedirectURLs.Success, nil
	}

	params["type"] = domain.WebhookTypeCancel
	params["status"] = poll.Status
	if err := s.webhook.Call(ctx, s.settings.Webhook, params); err != nil {
		return "", err
	}
	metrics.OnboardFinalizedTotal.WithLabelValues(metrics.OutcomeCancel).Inc()
	return match.RedirectURLs.Cancel, nil
}

func (s *OnboardService) accept(ctx context.Context, partnerUserID string, poll *domain.PollResult, params map[string]any) error {
	if poll.APIEndpoint == "" {
		return berrors.NewServiceError("Accepted access without api endpoint", poll)
	}
	if _, err := s.users.AddCredential(ctx, partnerUserID, poll.APIEndpoint); err != nil {
		return err
	}
	pluginsResult := s.plugins.AdvertiseNewUser(ctx, partnerUserID, poll.APIEndpoint)
	raw, err := json.Marshal(pluginsResult)
	if err != nil {
		return berrors.NewInternal("Failed encoding plugins result", nil).WithCause(err)
	}
	params["pluginsResultJSON"] = string(raw)
	params["type"] = domain.WebhookTypeSuccess
	return s.webhook.Call(ctx, s.settings.Webhook, params)
}

// Wait blocks until every background task has finished.
func (s *OnboardService) Wait() {
	s.tasks.Wait()
}

// Drain stops accepting background tasks and waits for the running ones.
// Tasks spawned afterwards are dropped.
func (s *OnboardService) Drain() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.tasks.Wait()
}

// spawn runs fn in the background, detached from the request's cancellation.
func (s *OnboardService) spawn(ctx context.Context, name string, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn(ctx, "Dropping background task, service is draining", log.Fields{"task": name})
		return
	}
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error(ctx, "Background task panicked", fmt.Errorf("%v", rec), log.Fields{"task": name})
			}
		}()
		fn(ctx)
	}()
}

func (s *OnboardService) audit(ctx context.Context, message string, errorObject map[string]any) {
	s.spawn(ctx, "audit", func(ctx context.Context) {
		s.registry.LogError(ctx, message, errorObject)
	})
}

func (s *OnboardService) errorRedirect(message string) string {
	return s.settings.DefaultRedirectOnError + "?message=" + strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
}

func withWebhookParams(err error, params map[string]any) error {
	be := berrors.Wrap(err)
	be.WebhookParams = params
	return be
}

func isAbsoluteHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// pollParamValue renders the poll parameter as received: a string when
// single valued.
func pollParamValue(pollParam []string) any {
	switch len(pollParam) {
	case 0:
		return nil
	case 1:
		return pollParam[0]
	default:
		return pollParam
	}
}

func newOnboardingSecret() (string, error) {
	limit := big.NewInt(int64(len(onboardingSecretAlphabet)))
	b := make([]byte, onboardingSecretLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = onboardingSecretAlphabet[n.Int64()]
	}
	return string(b), nil
}
