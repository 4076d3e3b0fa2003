package services

import (
	"context"
	"time"

	"github.com/pilab-dev/bridge-hds/domain"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/internal/metrics"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/pilab-dev/bridge-hds/plugins"
)

// UserService reads and changes the partner users recorded on the bridge
// account.
type UserService struct {
	registry    AccountRegistry
	connections domain.ConnectionFactory
	logger      log.Logger
}

var _ plugins.UserLookup = (*UserService)(nil)

// NewUserService creates a new UserService.
func NewUserService(registry AccountRegistry, connections domain.ConnectionFactory, logger log.Logger) *UserService {
	return &UserService{
		registry:    registry,
		connections: connections,
		logger:      logger.Named("user"),
	}
}

func (s *UserService) credentialQuery(partnerUserID string) domain.APICall {
	return domain.APICall{Method: "events.get", Params: map[string]any{
		"streams": []string{s.registry.StreamIDForUser(partnerUserID)},
		"types":   []string{domain.EventTypeCredential},
		"limit":   1,
	}}
}

func unknownUser(partnerUserID string) error {
	return berrors.NewUnknownResource("Unknown user", map[string]any{"userId": partnerUserID})
}

// Status returns the user and its last sync status. Unknown users give an
// UnknownResource error, or nil without error when failIfUnknown is false.
func (s *UserService) Status(ctx context.Context, partnerUserID string, failIfUnknown bool) (*domain.UserStatus, error) {
	results, err := s.registry.Connection().API(ctx, []domain.APICall{
		s.credentialQuery(partnerUserID),
		{Method: "events.get", Params: map[string]any{
			"streams": []string{s.registry.StreamIDForUser(partnerUserID)},
			"types":   []string{domain.EventTypeSyncStatus},
			"limit":   1,
		}},
	})
	if err != nil {
		return nil, berrors.NewServiceError("Failed to get user status", nil).WithCause(err)
	}

	unknown := results[0].HasError(domain.ErrIDUnknownReferencedResource) ||
		(results[0].Error == nil && len(results[0].Events) == 0)
	if unknown {
		if failIfUnknown {
			return nil, unknownUser(partnerUserID)
		}
		return nil, nil
	}
	for _, r := range results {
		if r.Error != nil {
			return nil, berrors.NewServiceError("Failed to get user status", r.Error)
		}
	}

	credential := results[0].Events[0]
	var apiEndpoint string
	if err := credential.DecodeContent(&apiEndpoint); err != nil {
		return nil, berrors.NewServiceError("Invalid credential event", map[string]any{"eventId": credential.ID})
	}
	status := &domain.UserStatus{
		User: domain.UserInfo{
			Active:        credential.HasStream(s.registry.ActiveUsersStreamID()),
			PartnerUserID: partnerUserID,
			APIEndpoint:   apiEndpoint,
			Created:       credential.Created,
			Modified:      credential.Modified,
		},
	}
	if len(results[1].Events) > 0 {
		sync := results[1].Events[0]
		var content any
		if err := sync.DecodeContent(&content); err == nil {
			status.SyncStatus.Content = content
		}
		lastSync := sync.Time
		status.SyncStatus.LastSync = &lastSync
	}
	return status, nil
}

// Exists reports whether the user has a credential on the bridge account.
func (s *UserService) Exists(ctx context.Context, partnerUserID string) (bool, error) {
	status, err := s.Status(ctx, partnerUserID, false)
	if err != nil {
		return false, err
	}
	return status != nil, nil
}

// AddCredential records the user's API endpoint and marks the user active.
// The user stream is created when missing.
func (s *UserService) AddCredential(ctx context.Context, partnerUserID, apiEndpoint string) (*domain.Event, error) {
	userStreamID := s.registry.StreamIDForUser(partnerUserID)
	results, err := s.registry.Connection().API(ctx, []domain.APICall{
		{Method: "streams.create", Params: map[string]any{
			"id":       userStreamID,
			"parentId": s.registry.UserParentStreamID(),
			"name":     partnerUserID,
		}},
		{Method: "events.create", Params: map[string]any{
			"streamIds": []string{userStreamID, s.registry.ActiveUsersStreamID()},
			"type":      domain.EventTypeCredential,
			"content":   apiEndpoint,
		}},
	})
	if err != nil {
		return nil, berrors.NewServiceError("Failed add user credentials", nil).WithCause(err)
	}
	if results[1].Error != nil || results[1].Event == nil {
		return nil, berrors.NewServiceError("Failed add user credentials", results[1])
	}
	return results[1].Event, nil
}

// SetStatus activates or deactivates a user and returns the resulting state.
// Nothing is written when the state is unchanged.
func (s *UserService) SetStatus(ctx context.Context, partnerUserID string, active bool) (bool, error) {
	conn := s.registry.Connection()
	results, err := conn.API(ctx, []domain.APICall{s.credentialQuery(partnerUserID)})
	if err != nil {
		return false, berrors.NewServiceError("Failed to get user status", nil).WithCause(err)
	}
	if results[0].HasError(domain.ErrIDUnknownReferencedResource) {
		return false, unknownUser(partnerUserID)
	}
	if results[0].Error != nil {
		return false, berrors.NewServiceError("Failed to get user status", results[0].Error)
	}
	if len(results[0].Events) == 0 {
		return false, unknownUser(partnerUserID)
	}

	credential := results[0].Events[0]
	activeStreamID := s.registry.ActiveUsersStreamID()
	if credential.HasStream(activeStreamID) == active {
		return active, nil
	}

	streamIDs := make([]string, 0, len(credential.StreamIDs)+1)
	for _, id := range credential.StreamIDs {
		if id != activeStreamID {
			streamIDs = append(streamIDs, id)
		}
	}
	if active {
		streamIDs = append(streamIDs, activeStreamID)
	}
	results, err = conn.API(ctx, []domain.APICall{{Method: "events.update", Params: map[string]any{
		"id":     credential.ID,
		"update": map[string]any{"streamIds": streamIDs},
	}}})
	if err != nil {
		return false, berrors.NewServiceError("Failed to update user status", nil).WithCause(err)
	}
	if results[0].HasError(domain.ErrIDUnknownReferencedResource) {
		return false, unknownUser(partnerUserID)
	}
	if results[0].Error != nil || results[0].Event == nil {
		return false, berrors.NewServiceError("Failed to update user status", results[0].Error)
	}

	newState := results[0].Event.HasStream(activeStreamID)
	metrics.StatusChangesTotal.WithLabelValues(boolLabel(newState)).Inc()
	s.logger.Info(ctx, "User status changed", log.Fields{"partnerUserId": partnerUserID, "active": newState})
	return newState, nil
}

// ConnectionAndStatus returns the user status with a connection on the
// user's account. Inactive users are rejected unless includeInactive is set.
func (s *UserService) ConnectionAndStatus(ctx context.Context, partnerUserID string, includeInactive bool) (*domain.UserConnection, error) {
	status, err := s.Status(ctx, partnerUserID, true)
	if err != nil {
		return nil, err
	}
	if !status.User.Active && !includeInactive {
		return nil, berrors.NewBadRequest("Deactivated User", map[string]any{"userId": partnerUserID})
	}
	conn, err := s.connections.NewConnection(status.User.APIEndpoint)
	if err != nil {
		return nil, berrors.NewServiceError("Invalid user api endpoint", map[string]any{"userId": partnerUserID}).WithCause(err)
	}
	return &domain.UserConnection{UserStatus: *status, Connection: conn}, nil
}

// AllUsersAPIEndpoints streams every recorded user to fn, without holding the
// whole list in memory.
func (s *UserService) AllUsersAPIEndpoints(ctx context.Context, fn func(domain.UserInfo) error) error {
	from := 0.0
	to := float64(time.Now().UnixNano()) / 1e9
	query := domain.EventsQuery{
		Streams:  []string{s.registry.UserParentStreamID()},
		Types:    []string{domain.EventTypeCredential},
		FromTime: &from,
		ToTime:   &to,
	}
	activeStreamID := s.registry.ActiveUsersStreamID()
	prefix := s.registry.StreamIDForUser("")

	return s.registry.Connection().EventsStreamed(ctx, query, func(ev domain.Event) error {
		info := domain.UserInfo{
			Active:   ev.HasStream(activeStreamID),
			Created:  ev.Created,
			Modified: ev.Modified,
		}
		for _, id := range ev.StreamIDs {
			if id != activeStreamID && len(id) > len(prefix) && id[:len(prefix)] == prefix {
				info.PartnerUserID = id[len(prefix):]
			}
		}
		if err := ev.DecodeContent(&info.APIEndpoint); err != nil {
			s.logger.Warn(ctx, "Skipping invalid credential event", log.Fields{"eventId": ev.ID})
			return nil
		}
		return fn(info)
	})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
