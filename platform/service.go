package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/pilab-dev/bridge-hds/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Service talks to the platform's service-level endpoints: service info, the
// consent (access request) flow, and per-user connections.
type Service struct {
	serviceInfoURL string
	httpClient     *http.Client

	mu   sync.Mutex
	info *domain.ServiceInfo
}

var (
	_ domain.AccessRequester   = (*Service)(nil)
	_ domain.ConnectionFactory = (*Service)(nil)
)

// NewService creates a Service. A nil httpClient uses http.DefaultClient.
func NewService(serviceInfoURL string, httpClient *http.Client) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{serviceInfoURL: serviceInfoURL, httpClient: httpClient}
}

// Info fetches the service info once and caches it for the process lifetime.
func (s *Service) Info(ctx context.Context) (*domain.ServiceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info != nil {
		return s.info, nil
	}

	var info domain.ServiceInfo
	if err := s.getJSON(ctx, s.serviceInfoURL, &info); err != nil {
		return nil, fmt.Errorf("failed fetching service info from %s: %w", s.serviceInfoURL, err)
	}
	if info.Access == "" {
		return nil, fmt.Errorf("%w: service info has no access url", ErrUnexpectedResponse)
	}
	s.info = &info
	return s.info, nil
}

// RequestAccess implements domain.AccessRequester. The platform response is
// returned verbatim so it can be stored and echoed back to the partner.
func (s *Service) RequestAccess(ctx context.Context, body domain.AccessRequest) (map[string]any, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "platform.request_access")
	defer span.End()
	span.SetAttributes(attribute.String("platform.app_id", body.RequestingAppID))

	info, err := s.Info(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal access request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, info.Access, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("access request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: status %d: %v", ErrUnexpectedResponse, resp.StatusCode, err)
	}
	return result, nil
}

// Poll implements domain.AccessRequester.
func (s *Service) Poll(ctx context.Context, pollURL string) (*domain.PollResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "platform.poll")
	defer span.End()

	var res domain.PollResult
	if err := s.getJSON(ctx, pollURL, &res); err != nil {
		return nil, fmt.Errorf("failed polling %s: %w", pollURL, err)
	}
	return &res, nil
}

// NewConnection implements domain.ConnectionFactory.
func (s *Service) NewConnection(apiEndpoint string) (domain.Connection, error) {
	return NewConnection(apiEndpoint, s.httpClient)
}

func (s *Service) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: status %d: %v", ErrUnexpectedResponse, resp.StatusCode, err)
	}
	return nil
}
