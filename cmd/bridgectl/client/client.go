// Package client is a small HTTP client for the bridge partner API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pilab-dev/bridge-hds/domain"
)

// APIError is a non 2xx answer from the bridge.
type APIError struct {
	StatusCode  int    `json:"-"`
	Message     string `json:"error"`
	ErrorObject any    `json:"errorObject,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge answered %d: %s", e.StatusCode, e.Message)
}

// Client calls the bridge with the partner token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), token: token, httpClient: httpClient}
}

// OnboardRequest is the body of POST /user/onboard.
type OnboardRequest struct {
	PartnerUserID string              `json:"partnerUserId"`
	RedirectURLs  domain.RedirectURLs `json:"redirectURLs"`
	ClientData    map[string]any      `json:"clientData,omitempty"`
}

// Onboard starts onboarding a user.
func (c *Client) Onboard(ctx context.Context, req OnboardRequest) (*domain.OnboardResult, error) {
	var res domain.OnboardResult
	if err := c.do(ctx, http.MethodPost, "/user/onboard", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status returns a user's status.
func (c *Client) Status(ctx context.Context, partnerUserID string) (*domain.UserStatus, error) {
	var res domain.UserStatus
	if err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(partnerUserID)+"/status", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetStatus activates or deactivates a user and returns the new state.
func (c *Client) SetStatus(ctx context.Context, partnerUserID string, active bool) (bool, error) {
	var res struct {
		Active bool `json:"active"`
	}
	body := map[string]bool{"active": active}
	if err := c.do(ctx, http.MethodPost, "/user/"+url.PathEscape(partnerUserID)+"/status", body, &res); err != nil {
		return false, err
	}
	return res.Active, nil
}

// Users lists every user recorded on the bridge.
func (c *Client) Users(ctx context.Context) ([]domain.UserInfo, error) {
	var res struct {
		Users []domain.UserInfo `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/user/list/apiEndPoints", nil, &res); err != nil {
		return nil, err
	}
	return res.Users, nil
}

// Errors lists the audit records. Zero values leave a filter unset.
func (c *Client) Errors(ctx context.Context, fromTime, toTime float64, limit int) ([]domain.Event, error) {
	q := url.Values{}
	if fromTime != 0 {
		q.Set("fromTime", strconv.FormatFloat(fromTime, 'f', -1, 64))
	}
	if toTime != 0 {
		q.Set("toTime", strconv.FormatFloat(toTime, 'f', -1, 64))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/account/errors"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var res []domain.Event
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Health checks the bridge is serving.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding bridge response: %w", err)
	}
	return nil
}
