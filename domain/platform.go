package domain

import (
	"context"
	"encoding/json"
)

// Platform error ids the bridge reacts to.
const (
	ErrIDItemAlreadyExists         = "item-already-exists"
	ErrIDUnknownReferencedResource = "unknown-referenced-resource"
	ErrIDUnknownResource           = "unknown-resource"
)

// Permission levels.
const (
	LevelManage = "manage"
	LevelRead   = "read"
)

// APICall is one method call of a platform batch.
type APICall struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// APIError is the per-call error returned by the platform.
type APIError struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.ID
	}
	return e.ID + ": " + e.Message
}

// Event is a timestamped, typed record filed under one or more streams.
// Times are seconds since epoch, as the platform reports them.
type Event struct {
	ID        string          `json:"id"`
	StreamIDs []string        `json:"streamIds"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	Time      float64         `json:"time"`
	Created   float64         `json:"created,omitempty"`
	Modified  float64         `json:"modified,omitempty"`
	Trashed   bool            `json:"trashed,omitempty"`
}

// HasStream reports whether the event is filed under streamID.
func (e *Event) HasStream(streamID string) bool {
	for _, s := range e.StreamIDs {
		if s == streamID {
			return true
		}
	}
	return false
}

// DecodeContent unmarshals the event content into v.
func (e *Event) DecodeContent(v any) error {
	if len(e.Content) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Content, v)
}

// Stream is a hierarchical container on the platform.
type Stream struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ParentID *string  `json:"parentId"`
	Children []Stream `json:"children,omitempty"`
}

// ItemDeletion is returned by a successful events.delete of a trashed event.
type ItemDeletion struct {
	ID string `json:"id"`
}

// CallResult is the independent outcome of one call of a batch.
type CallResult struct {
	Event         *Event        `json:"event,omitempty"`
	Events        []Event       `json:"events,omitempty"`
	Stream        *Stream       `json:"stream,omitempty"`
	EventDeletion *ItemDeletion `json:"eventDeletion,omitempty"`
	Access        *Access       `json:"access,omitempty"`
	Accesses      []Access      `json:"accesses,omitempty"`
	Error         *APIError     `json:"error,omitempty"`
}

// HasError reports whether the call failed with the given platform error id.
func (r CallResult) HasError(id string) bool {
	return r.Error != nil && r.Error.ID == id
}

// Permission is one entry of a platform permission request or grant.
type Permission struct {
	StreamID    string `json:"streamId" mapstructure:"streamId" yaml:"streamId"`
	Level       string `json:"level" mapstructure:"level" yaml:"level"`
	DefaultName string `json:"defaultName,omitempty" mapstructure:"defaultName" yaml:"defaultName,omitempty"`
}

// AccessInfo describes the access behind a connection.
type AccessInfo struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name,omitempty"`
	Type        string       `json:"type,omitempty"`
	Permissions []Permission `json:"permissions"`
	User        struct {
		Username string `json:"username,omitempty"`
	} `json:"user"`
}

// Access types.
const (
	AccessTypeApp      = "app"
	AccessTypePersonal = "personal"
)

// Access is an access as listed by accesses.get or returned by accesses.create.
type Access struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Token       string       `json:"token,omitempty"`
	APIEndpoint string       `json:"apiEndpoint,omitempty"`
	Permissions []Permission `json:"permissions"`
}

// EventsQuery filters an events read.
type EventsQuery struct {
	Streams  []string
	Types    []string
	FromTime *float64
	ToTime   *float64
	Limit    *int
}

// Params renders the query as events.get call parameters.
func (q EventsQuery) Params() map[string]any {
	params := map[string]any{}
	if len(q.Streams) > 0 {
		params["streams"] = q.Streams
	}
	if len(q.Types) > 0 {
		params["types"] = q.Types
	}
	if q.FromTime != nil {
		params["fromTime"] = *q.FromTime
	}
	if q.ToTime != nil {
		params["toTime"] = *q.ToTime
	}
	if q.Limit != nil {
		params["limit"] = *q.Limit
	}
	return params
}

// Connection is a handle on one platform account.
type Connection interface {
	// API issues a batch of calls. A returned error means the batch itself
	// failed; per-call failures are reported in each CallResult.
	API(ctx context.Context, calls []APICall) ([]CallResult, error)
	AccessInfo(ctx context.Context) (*AccessInfo, error)
	// EventsStreamed calls fn for each event matching query, in the order
	// the platform returns them, without buffering the whole list.
	EventsStreamed(ctx context.Context, query EventsQuery, fn func(Event) error) error
}

// ConnectionFactory builds connections from API endpoints.
type ConnectionFactory interface {
	NewConnection(apiEndpoint string) (Connection, error)
}

// ServiceInfo is the platform's service description.
type ServiceInfo struct {
	Access   string `json:"access"`
	API      string `json:"api"`
	Register string `json:"register,omitempty"`
	Name     string `json:"name,omitempty"`
}

// PollResult is the content of an access request poll URL.
type PollResult struct {
	Status      string `json:"status"`
	APIEndpoint string `json:"apiEndpoint,omitempty"`
	Username    string `json:"username,omitempty"`
	Code        int    `json:"code,omitempty"`
}

// Poll statuses.
const (
	PollStatusAccepted  = "ACCEPTED"
	PollStatusRefused   = "REFUSED"
	PollStatusNeedLogin = "NEED_SIGNIN"
)

// AccessRequester runs the platform consent flow.
type AccessRequester interface {
	// RequestAccess posts an auth request and returns the raw response object.
	RequestAccess(ctx context.Context, body AccessRequest) (map[string]any, error)
	Poll(ctx context.Context, pollURL string) (*PollResult, error)
}

// AccessRequest is the body of a consent request.
type AccessRequest struct {
	RequestingAppID      string         `json:"requestingAppId"`
	RequestedPermissions []Permission   `json:"requestedPermissions"`
	ReturnURL            string         `json:"returnURL"`
	ClientData           map[string]any `json:"clientData,omitempty"`
}
