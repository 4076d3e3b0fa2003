// Package bridgeaccount manages the bridge's own platform account: the stream
// hierarchy holding per-user records, pending consent requests and the audit
// error log.
package bridgeaccount

import (
	"context"
	"fmt"

	"github.com/pilab-dev/bridge-hds/domain"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/internal/metrics"
	"github.com/pilab-dev/bridge-hds/log"
)

const (
	userParentSuffix  = "-users"
	activeUsersSuffix = "-active"
	errorsSuffix      = "-errors"
)

// Registry is the bridge account. Stream ids derive from the main stream id.
type Registry struct {
	conn   domain.Connection
	logger log.Logger

	mainStreamID        string
	userParentStreamID  string
	activeUsersStreamID string
	errorStreamID       string
}

// PendingAuth is a stored consent request with its platform event.
type PendingAuth struct {
	Event   domain.Event
	Request domain.PendingAuthRequest
}

// New creates a Registry on conn. Call Init before use.
func New(conn domain.Connection, mainStreamID string, logger log.Logger) *Registry {
	userParent := mainStreamID + userParentSuffix
	return &Registry{
		conn:                conn,
		logger:              logger.Named("bridgeAccount"),
		mainStreamID:        mainStreamID,
		userParentStreamID:  userParent,
		activeUsersStreamID: userParent + activeUsersSuffix,
		errorStreamID:       mainStreamID + errorsSuffix,
	}
}

// Connection returns the bridge account connection.
func (r *Registry) Connection() domain.Connection {
	return r.conn
}

func (r *Registry) MainStreamID() string        { return r.mainStreamID }
func (r *Registry) UserParentStreamID() string  { return r.userParentStreamID }
func (r *Registry) ActiveUsersStreamID() string { return r.activeUsersStreamID }
func (r *Registry) ErrorStreamID() string       { return r.errorStreamID }

// StreamIDForUser returns the stream holding a partner user's records.
func (r *Registry) StreamIDForUser(partnerUserID string) string {
	return r.userParentStreamID + "-" + partnerUserID
}

// Init checks the bridge access and creates the structural streams. Streams
// that already exist are accepted; any other failure is fatal.
func (r *Registry) Init(ctx context.Context) error {
	info, err := r.conn.AccessInfo(ctx)
	if err != nil {
		return berrors.NewServiceError("Failed reading bridge access info", nil).WithCause(err)
	}
	wildcard, ok := r.hasManage(info.Permissions)
	if !ok {
		return berrors.NewInternal(fmt.Sprintf("Bridge does not have \"manage\" permissions on stream %s", r.mainStreamID), info)
	}

	var calls []domain.APICall
	// a stream-scoped access implies its stream exists
	if wildcard {
		calls = append(calls, streamCreate(r.mainStreamID, "Bridge", ""))
	}
	calls = append(calls,
		streamCreate(r.userParentStreamID, "Bridge Users", r.mainStreamID),
		streamCreate(r.activeUsersStreamID, "Active Bridge Users", r.mainStreamID),
		streamCreate(r.errorStreamID, "Bridge Errors", r.mainStreamID),
	)
	results, err := r.conn.API(ctx, calls)
	if err != nil {
		return berrors.NewServiceError("Failed creating base streams", nil).WithCause(err)
	}
	var unexpected []domain.CallResult
	for _, res := range results {
		if res.Error != nil && res.Error.ID != domain.ErrIDItemAlreadyExists {
			unexpected = append(unexpected, res)
		}
	}
	if len(unexpected) > 0 {
		return berrors.NewServiceError("Failed creating base streams", unexpected)
	}
	r.logger.Info(ctx, "Bridge account ready", log.Fields{"mainStreamId": r.mainStreamID})
	return nil
}

// hasManage reports whether perms grant manage on the main stream, and
// whether it is through the "*" wildcard.
func (r *Registry) hasManage(perms []domain.Permission) (wildcard bool, ok bool) {
	for _, p := range perms {
		if p.Level != domain.LevelManage {
			continue
		}
		if p.StreamID == "*" {
			return true, true
		}
		if p.StreamID == r.mainStreamID {
			ok = true
		}
	}
	return false, ok
}

// LogError writes an audit record to the error stream. Failures are logged
// and never returned.
func (r *Registry) LogError(ctx context.Context, message string, errorObject any) {
	if errorObject == nil {
		errorObject = map[string]any{}
	}
	_, err := r.createSingleEvent(ctx, map[string]any{
		"type":      domain.EventTypeError,
		"streamIds": []string{r.errorStreamID},
		"content":   domain.ErrorRecord{Message: message, ErrorObject: errorObject},
	})
	if err != nil {
		r.logger.Error(ctx, "Failed logging error on bridge account", err, log.Fields{"auditMessage": message})
		return
	}
	metrics.AuditErrorsLoggedTotal.Inc()
}

// LogSyncStatus records a plugin's last successful synchronization for a
// user. A nil t lets the platform use the current time.
func (r *Registry) LogSyncStatus(ctx context.Context, partnerUserID string, t *float64, content any) (*domain.Event, error) {
	params := map[string]any{
		"type":      domain.EventTypeSyncStatus,
		"streamIds": []string{r.StreamIDForUser(partnerUserID)},
		"content":   content,
	}
	if t != nil {
		params["time"] = *t
	}
	ev, err := r.createSingleEvent(ctx, params)
	if err != nil {
		r.logger.Error(ctx, "Failed creating log status on bridge account", err, log.Fields{"partnerUserId": partnerUserID})
		return nil, err
	}
	return ev, nil
}

// Errors reads audit records. Streams and types of query are forced to the
// error stream and type.
func (r *Registry) Errors(ctx context.Context, query domain.EventsQuery) ([]domain.Event, error) {
	query.Streams = []string{r.errorStreamID}
	query.Types = []string{domain.EventTypeError}
	res, err := r.call(ctx, "events.get", query.Params())
	if err != nil {
		return nil, err
	}
	if res.HasError(domain.ErrIDUnknownReferencedResource) {
		return nil, berrors.NewUnknownResource("error stream", res.Error)
	}
	if res.Error != nil {
		return nil, berrors.NewServiceError("Failed reading errors", res.Error)
	}
	if res.Events == nil {
		return []domain.Event{}, nil
	}
	return res.Events, nil
}

// PendingAuthRequests returns the stored consent requests of a user. A user
// without a stream has none.
func (r *Registry) PendingAuthRequests(ctx context.Context, partnerUserID string) ([]PendingAuth, error) {
	res, err := r.call(ctx, "events.get", map[string]any{
		"streams": []string{r.StreamIDForUser(partnerUserID)},
		"types":   []string{domain.EventTypeAuthRequest},
	})
	if err != nil {
		return nil, err
	}
	if res.HasError(domain.ErrIDUnknownReferencedResource) {
		return nil, nil
	}
	if res.Error != nil {
		return nil, berrors.NewServiceError("Failed reading pending auth requests", res.Error)
	}
	out := make([]PendingAuth, 0, len(res.Events))
	for _, ev := range res.Events {
		var req domain.PendingAuthRequest
		if err := ev.DecodeContent(&req); err != nil {
			r.logger.Warn(ctx, "Skipping malformed pending auth request", log.Fields{"eventId": ev.ID, "error": err.Error()})
			continue
		}
		out = append(out, PendingAuth{Event: ev, Request: req})
	}
	return out, nil
}

// StorePendingAuthRequest stores a consent request under the user's stream,
// creating the stream if needed.
func (r *Registry) StorePendingAuthRequest(ctx context.Context, partnerUserID string, payload domain.PendingAuthRequest) (*domain.Event, error) {
	userStreamID := r.StreamIDForUser(partnerUserID)
	results, err := r.conn.API(ctx, []domain.APICall{
		streamCreate(userStreamID, partnerUserID, r.userParentStreamID),
		{Method: "events.create", Params: map[string]any{
			"type":      domain.EventTypeAuthRequest,
			"streamIds": []string{userStreamID},
			"content":   payload,
		}},
	})
	if err != nil {
		return nil, berrors.NewServiceError("Failed storing auth status", nil).WithCause(err)
	}
	if results[1].Error != nil || results[1].Event == nil {
		return nil, berrors.NewServiceError("Failed storing auth status", results[1])
	}
	return results[1].Event, nil
}

// DeleteEventsHard deletes events for good: each is deleted twice, the first
// call trashing it. Per-event failures are logged only.
func (r *Registry) DeleteEventsHard(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	calls := make([]domain.APICall, 0, 2*len(events))
	for _, ev := range events {
		del := domain.APICall{Method: "events.delete", Params: map[string]any{"id": ev.ID}}
		calls = append(calls, del, del)
	}
	results, err := r.conn.API(ctx, calls)
	if err != nil {
		return berrors.NewServiceError("Failed deleting events", nil).WithCause(err)
	}
	for _, res := range results {
		if res.Error != nil {
			r.logger.Error(ctx, "Failed deleting status event", res.Error)
		}
		if res.EventDeletion != nil {
			r.logger.Info(ctx, "Deleted status event", log.Fields{"eventId": res.EventDeletion.ID})
		}
	}
	return nil
}

func (r *Registry) createSingleEvent(ctx context.Context, params map[string]any) (*domain.Event, error) {
	res, err := r.call(ctx, "events.create", params)
	if err != nil {
		return nil, err
	}
	if res.Error != nil || res.Event == nil {
		return nil, berrors.NewServiceError("Failed creating event", res)
	}
	return res.Event, nil
}

// call issues a single-call batch.
func (r *Registry) call(ctx context.Context, method string, params any) (domain.CallResult, error) {
	results, err := r.conn.API(ctx, []domain.APICall{{Method: method, Params: params}})
	if err != nil {
		return domain.CallResult{}, berrors.NewServiceError("Platform call "+method+" failed", nil).WithCause(err)
	}
	return results[0], nil
}

func streamCreate(id, name, parentID string) domain.APICall {
	params := map[string]any{"id": id, "name": name}
	if parentID != "" {
		params["parentId"] = parentID
	}
	return domain.APICall{Method: "streams.create", Params: params}
}
