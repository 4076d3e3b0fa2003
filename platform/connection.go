package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pilab-dev/bridge-hds/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/pilab-dev/bridge-hds/platform"

// Connection is a domain.Connection over the platform HTTP API.
type Connection struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ domain.Connection = (*Connection)(nil)

// NewConnection creates a connection from an API endpoint carrying its token.
func NewConnection(apiEndpoint string, httpClient *http.Client) (*Connection, error) {
	baseURL, token, err := ParseAPIEndpoint(apiEndpoint)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Connection{baseURL: baseURL, token: token, httpClient: httpClient}, nil
}

// BaseURL returns the endpoint without credentials.
func (c *Connection) BaseURL() string {
	return c.baseURL
}

type batchResponse struct {
	Results []domain.CallResult `json:"results"`
	Error   *domain.APIError    `json:"error,omitempty"`
}

// API implements domain.Connection.
func (c *Connection) API(ctx context.Context, calls []domain.APICall) ([]domain.CallResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "platform.api")
	defer span.End()
	span.SetAttributes(attribute.Int("platform.batch_size", len(calls)))

	body, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal api calls: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("platform api call failed: %w", err)
	}
	defer resp.Body.Close()

	var res batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: status %d: %v", ErrUnexpectedResponse, resp.StatusCode, err)
	}
	if res.Error != nil {
		span.SetStatus(codes.Error, res.Error.Error())
		return nil, res.Error
	}
	if len(res.Results) != len(calls) {
		return nil, fmt.Errorf("%w: %d calls, %d results", ErrBatchSizeMismatch, len(calls), len(res.Results))
	}
	return res.Results, nil
}

// AccessInfo implements domain.Connection.
func (c *Connection) AccessInfo(ctx context.Context) (*domain.AccessInfo, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "platform.access_info")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"access-info", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform access-info failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var info domain.AccessInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return &info, nil
}

// EventsStreamed implements domain.Connection. The response body is decoded
// token by token so large event lists are never held in memory.
func (c *Connection) EventsStreamed(ctx context.Context, query domain.EventsQuery, fn func(domain.Event) error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "platform.events_streamed")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"events?"+eventsQueryString(query), nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform events read failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return decodeEventsStream(resp.Body, fn)
}

func (c *Connection) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}
	req.Header.Set("Accept", "application/json")
}

func eventsQueryString(q domain.EventsQuery) string {
	v := url.Values{}
	for _, s := range q.Streams {
		v.Add("streams[]", s)
	}
	for _, t := range q.Types {
		v.Add("types[]", t)
	}
	if q.FromTime != nil {
		v.Set("fromTime", strconv.FormatFloat(*q.FromTime, 'f', -1, 64))
	}
	if q.ToTime != nil {
		v.Set("toTime", strconv.FormatFloat(*q.ToTime, 'f', -1, 64))
	}
	if q.Limit != nil {
		v.Set("limit", strconv.Itoa(*q.Limit))
	}
	return v.Encode()
}

// decodeEventsStream walks a {"events":[...], ...} document and calls fn for
// each element of the events array. Other top level keys are skipped.
func decodeEventsStream(r io.Reader, fn func(domain.Event) error) error {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
		}
		key, _ := tok.(string)
		if key != "events" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
			}
			continue
		}
		if err := expectDelim(dec, '['); err != nil {
			return err
		}
		for dec.More() {
			var ev domain.Event
			if err := dec.Decode(&ev); err != nil {
				return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q got %v", ErrUnexpectedResponse, want, tok)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	var body struct {
		Error *domain.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != nil {
		return body.Error
	}
	return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
}
