// Package echo exposes the bridge HTTP API on an echo server.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/bridge-hds/domain"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/pilab-dev/bridge-hds/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var urlPattern = regexp.MustCompile(`^(https?://)?([\w-]+\.)+[\w-]+(/[\w-]*)*$`)

// Onboarder runs the onboarding flow.
type Onboarder interface {
	Initiate(ctx context.Context, partnerUserID string, redirectURLs domain.RedirectURLs, clientData map[string]any) (*domain.OnboardResult, error)
	Finalize(ctx context.Context, partnerUserID string, pollParam []string) string
}

// Users reads and updates partner users.
type Users interface {
	Status(ctx context.Context, partnerUserID string, failIfUnknown bool) (*domain.UserStatus, error)
	SetStatus(ctx context.Context, partnerUserID string, active bool) (bool, error)
	AllUsersAPIEndpoints(ctx context.Context, fn func(domain.UserInfo) error) error
}

// ErrorLog lists the audit records of the bridge account.
type ErrorLog interface {
	Errors(ctx context.Context, query domain.EventsQuery) ([]domain.Event, error)
}

// BridgeAPI holds the HTTP handlers.
type BridgeAPI struct {
	onboard  Onboarder
	users    Users
	errorLog ErrorLog
	gatherer prometheus.Gatherer
	logger   log.Logger

	onboardSchema *jsonschema.Schema
	statusSchema  *jsonschema.Schema
}

// NewBridgeAPI creates the API. A nil gatherer disables /metrics.
func NewBridgeAPI(onboard Onboarder, users Users, errorLog ErrorLog, gatherer prometheus.Gatherer, logger log.Logger) (*BridgeAPI, error) {
	onboardSchema, err := compileSchema("onboard.json", onboardSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compiling onboard schema: %w", err)
	}
	statusSchema, err := compileSchema("status.json", statusSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compiling status schema: %w", err)
	}
	return &BridgeAPI{
		onboard:       onboard,
		users:         users,
		errorLog:      errorLog,
		gatherer:      gatherer,
		logger:        logger.Named("api"),
		onboardSchema: onboardSchema,
		statusSchema:  statusSchema,
	}, nil
}

// RegisterRoutes registers the bridge routes.
func (a *BridgeAPI) RegisterRoutes(e *echo.Echo) {
	partner := middleware.RequirePartner()

	e.GET("/health", a.HealthHandler)
	if a.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	}

	u := e.Group("/user")
	u.POST("/onboard", a.OnboardHandler, partner)
	u.GET("/onboard/finalize/:partnerUserId", a.FinalizeHandler)
	u.GET("/list/apiEndPoints", a.ListUsersHandler, partner)
	u.GET("/:partnerUserId/status", a.StatusHandler, partner)
	u.POST("/:partnerUserId/status", a.SetStatusHandler, partner)

	e.GET("/account/errors", a.ErrorsHandler, partner)
}

type onboardRequest struct {
	PartnerUserID string              `json:"partnerUserId"`
	RedirectURLs  domain.RedirectURLs `json:"redirectURLs"`
	ClientData    map[string]any      `json:"clientData"`
}

// OnboardHandler starts onboarding a partner user.
func (a *BridgeAPI) OnboardHandler(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return berrors.NewBadRequest("Failed reading body", nil)
	}
	if err := validateJSON(a.onboardSchema, raw); err != nil {
		return berrors.NewBadRequest("Invalid onboard request", map[string]any{"validation": err.Error()})
	}
	var req onboardRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return berrors.NewBadRequest("Invalid onboard request", nil)
	}

	if err := validatePartnerUserID(req.PartnerUserID); err != nil {
		return err
	}
	if err := validateURL(req.RedirectURLs.Success, "redirectURLs.success"); err != nil {
		return err
	}
	if err := validateURL(req.RedirectURLs.Cancel, "redirectURLs.cancel"); err != nil {
		return err
	}
	for _, key := range domain.ReservedClientDataKeys {
		if _, ok := req.ClientData[key]; ok {
			return berrors.NewBadRequest("clientData."+key+" is a reserved key", nil)
		}
	}

	res, err := a.onboard.Initiate(c.Request().Context(), req.PartnerUserID, req.RedirectURLs, req.ClientData)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// FinalizeHandler is the return URL of the consent page. It always
// redirects.
func (a *BridgeAPI) FinalizeHandler(c echo.Context) error {
	partnerUserID := c.Param("partnerUserId")
	if err := validatePartnerUserID(partnerUserID); err != nil {
		return err
	}
	query := c.QueryParams()
	pollParam := query["poll"]
	if len(pollParam) == 0 {
		pollParam = query["prYvpoll"]
	}
	redirect := a.onboard.Finalize(c.Request().Context(), partnerUserID, pollParam)
	return c.Redirect(http.StatusFound, redirect)
}

// StatusHandler returns a user's status.
func (a *BridgeAPI) StatusHandler(c echo.Context) error {
	partnerUserID := c.Param("partnerUserId")
	if err := validatePartnerUserID(partnerUserID); err != nil {
		return err
	}
	status, err := a.users.Status(c.Request().Context(), partnerUserID, true)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// SetStatusHandler activates or deactivates a user.
func (a *BridgeAPI) SetStatusHandler(c echo.Context) error {
	partnerUserID := c.Param("partnerUserId")
	if err := validatePartnerUserID(partnerUserID); err != nil {
		return err
	}
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return berrors.NewBadRequest("Failed reading body", nil)
	}
	if err := validateJSON(a.statusSchema, raw); err != nil {
		return berrors.NewBadRequest("active must be true or false", nil)
	}
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return berrors.NewBadRequest("active must be true or false", nil)
	}

	active, err := a.users.SetStatus(c.Request().Context(), partnerUserID, body.Active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"active": active})
}

// ListUsersHandler streams every user as {"users": [...]}.
func (a *BridgeAPI) ListUsersHandler(c echo.Context) error {
	ctx := c.Request().Context()
	resp := c.Response()
	enc := json.NewEncoder(resp)
	first := true

	err := a.users.AllUsersAPIEndpoints(ctx, func(u domain.UserInfo) error {
		if first {
			resp.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			resp.WriteHeader(http.StatusOK)
			if _, err := io.WriteString(resp, `{"users":[`); err != nil {
				return err
			}
			first = false
		} else if _, err := io.WriteString(resp, ","); err != nil {
			return err
		}
		return enc.Encode(u)
	})
	if err != nil {
		if resp.Committed {
			// the body is already partial; the client sees a truncated document
			a.logger.Error(ctx, "Failed streaming users", err)
			return nil
		}
		return err
	}
	if first {
		return c.JSON(http.StatusOK, map[string]any{"users": []domain.UserInfo{}})
	}
	_, err = io.WriteString(resp, "]}")
	return err
}

// ErrorsHandler lists the audit records. fromTime, toTime and limit are
// optional numbers.
func (a *BridgeAPI) ErrorsHandler(c echo.Context) error {
	var query domain.EventsQuery
	for _, key := range []string{"fromTime", "toTime", "limit"} {
		raw := c.QueryParam(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return berrors.NewBadRequest(key+" value is not a number", map[string]any{key: raw})
		}
		switch key {
		case "fromTime":
			query.FromTime = &v
		case "toTime":
			query.ToTime = &v
		case "limit":
			limit := int(v)
			query.Limit = &limit
		}
	}

	events, err := a.errorLog.Errors(c.Request().Context(), query)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}

// HealthHandler reports the process is serving.
func (a *BridgeAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// validatePartnerUserID accepts ids longer than 3 characters. "active" is
// refused since its user stream would be the active users stream.
func validatePartnerUserID(id string) error {
	if utf8.RuneCountInString(id) <= 3 || id == "active" {
		return berrors.NewBadRequest(fmt.Sprintf("Invalid partnerUserId %q", id), nil)
	}
	return nil
}

func validateURL(u, field string) error {
	if urlPattern.MatchString(u) {
		return nil
	}
	return berrors.NewBadRequest(fmt.Sprintf("Invalid url %q %s", u, field), nil)
}
