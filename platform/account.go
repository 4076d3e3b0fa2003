package platform

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/pilab-dev/bridge-hds/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrNoRegister      = errors.New("service info has no register url")
	ErrNoHosting       = errors.New("no available hosting")
	ErrLoginFailed     = errors.New("platform login failed")
	ErrUserCreation    = errors.New("platform user creation failed")
	ErrAccessCreation  = errors.New("platform access creation failed")
	ErrMissingUsername = errors.New("username is required")
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewUser is the registration of a platform account. Empty Password and
// Email are generated.
type NewUser struct {
	AppID    string
	Username string
	Password string
	Email    string
}

// CreatedUser is a freshly registered account with a personal API endpoint.
type CreatedUser struct {
	Username    string `json:"username"`
	Password    string `json:"-"`
	APIEndpoint string `json:"apiEndpoint"`
}

// UserExists asks the register whether username is taken.
func (s *Service) UserExists(ctx context.Context, username string) (bool, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "platform.user_exists")
	defer span.End()

	register, err := s.register(ctx)
	if err != nil {
		return false, err
	}
	var res struct {
		Reserved *bool `json:"reserved"`
	}
	if err := s.getJSON(ctx, register+url.PathEscape(username)+"/check_username", &res); err != nil {
		return false, fmt.Errorf("failed checking username %s: %w", username, err)
	}
	if res.Reserved == nil {
		return false, fmt.Errorf("%w: check_username without reserved flag", ErrUnexpectedResponse)
	}
	return *res.Reserved, nil
}

// CreateUser registers an account on the first available hosting.
func (s *Service) CreateUser(ctx context.Context, user NewUser) (*CreatedUser, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "platform.create_user")
	defer span.End()

	if user.Username == "" {
		return nil, ErrMissingUsername
	}
	if user.Password == "" {
		pw, err := randomPassword(12)
		if err != nil {
			return nil, err
		}
		user.Password = pw
	}
	if user.Email == "" {
		user.Email = user.Username + "@hds.bogus"
	}
	host, err := s.hostingCore(ctx)
	if err != nil {
		return nil, err
	}

	var res struct {
		APIEndpoint string           `json:"apiEndpoint"`
		Username    string           `json:"username"`
		Error       *domain.APIError `json:"error"`
	}
	body := map[string]any{
		"appId":           user.AppID,
		"username":        user.Username,
		"password":        user.Password,
		"email":           user.Email,
		"invitationtoken": "enjoy",
		"languageCode":    "en",
		"referer":         "none",
	}
	if err := s.postJSON(ctx, host+"users", nil, body, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserCreation, err)
	}
	if res.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserCreation, res.Error)
	}
	if res.APIEndpoint == "" {
		return nil, fmt.Errorf("%w: no apiEndpoint in response", ErrUserCreation)
	}
	span.SetAttributes(attribute.String("platform.username", res.Username))
	return &CreatedUser{Username: res.Username, Password: user.Password, APIEndpoint: res.APIEndpoint}, nil
}

// Login opens a personal session for username and returns its API endpoint.
func (s *Service) Login(ctx context.Context, username, password, appID string) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "platform.login")
	defer span.End()

	if username == "" {
		return "", ErrMissingUsername
	}
	info, err := s.Info(ctx)
	if err != nil {
		return "", err
	}
	apiURL := strings.ReplaceAll(info.API, "{username}", username)

	var res struct {
		Token string           `json:"token"`
		Error *domain.APIError `json:"error"`
	}
	headers := map[string]string{"Origin": strings.TrimSuffix(apiURL, "/")}
	body := map[string]string{"username": username, "password": password, "appId": appID}
	if err := s.postJSON(ctx, apiURL+"auth/login", headers, body, &res); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if res.Error != nil {
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, res.Error)
	}
	if res.Token == "" {
		return "", fmt.Errorf("%w: no token in response", ErrLoginFailed)
	}
	return BuildAPIEndpoint(apiURL, res.Token)
}

// EnsureAppAccess returns the app access named appID on conn, creating it
// with manage on every stream when missing. conn must be a personal access.
func EnsureAppAccess(ctx context.Context, conn domain.Connection, appID string) (*domain.Access, bool, error) {
	results, err := conn.API(ctx, []domain.APICall{{Method: "accesses.get", Params: map[string]any{}}})
	if err != nil {
		return nil, false, err
	}
	if results[0].Error != nil {
		return nil, false, results[0].Error
	}
	for _, a := range results[0].Accesses {
		if a.Name == appID && a.Type == domain.AccessTypeApp {
			found := a
			return &found, false, nil
		}
	}

	results, err = conn.API(ctx, []domain.APICall{{
		Method: "accesses.create",
		Params: domain.Access{
			Type:        domain.AccessTypeApp,
			Name:        appID,
			Permissions: []domain.Permission{{StreamID: "*", Level: domain.LevelManage}},
		},
	}})
	if err != nil {
		return nil, false, err
	}
	if results[0].Error != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrAccessCreation, results[0].Error)
	}
	if results[0].Access == nil || results[0].Access.APIEndpoint == "" {
		return nil, false, fmt.Errorf("%w: no apiEndpoint in response", ErrAccessCreation)
	}
	return results[0].Access, true, nil
}

func (s *Service) register(ctx context.Context) (string, error) {
	info, err := s.Info(ctx)
	if err != nil {
		return "", err
	}
	if info.Register == "" {
		return "", ErrNoRegister
	}
	if !strings.HasSuffix(info.Register, "/") {
		return info.Register + "/", nil
	}
	return info.Register, nil
}

// hostingCore returns the core URL of an available hosting listed by the
// register. Hostings sit under nested region and zone maps.
func (s *Service) hostingCore(ctx context.Context) (string, error) {
	register, err := s.register(ctx)
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if err := s.getJSON(ctx, register+"hostings", &doc); err != nil {
		return "", fmt.Errorf("failed listing hostings: %w", err)
	}
	core := findHosting(doc, "")
	if core == "" {
		return "", ErrNoHosting
	}
	if !strings.HasSuffix(core, "/") {
		core += "/"
	}
	return core, nil
}

func findHosting(node map[string]any, parentKey string) string {
	var found string
	for key, v := range node {
		child, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if parentKey == "hostings" {
			if available, _ := child["available"].(bool); available {
				if core, _ := child["availableCore"].(string); core != "" {
					found = core
				}
			}
			continue
		}
		if core := findHosting(child, key); core != "" {
			found = core
		}
	}
	return found
}

func (s *Service) postJSON(ctx context.Context, target string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: status %d: %v", ErrUnexpectedResponse, resp.StatusCode, err)
	}
	return nil
}

func randomPassword(n int) (string, error) {
	out := make([]byte, n)
	size := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
