package services

import (
	"context"

	"github.com/pilab-dev/bridge-hds/bridgeaccount"
	"github.com/pilab-dev/bridge-hds/domain"
)

// AccountRegistry is the bridge account as used by the services.
type AccountRegistry interface {
	Connection() domain.Connection
	StreamIDForUser(partnerUserID string) string
	UserParentStreamID() string
	ActiveUsersStreamID() string

	LogError(ctx context.Context, message string, errorObject any)
	PendingAuthRequests(ctx context.Context, partnerUserID string) ([]bridgeaccount.PendingAuth, error)
	StorePendingAuthRequest(ctx context.Context, partnerUserID string, payload domain.PendingAuthRequest) (*domain.Event, error)
	DeleteEventsHard(ctx context.Context, events []domain.Event) error
}

// PluginDispatcher notifies plugins of new users.
type PluginDispatcher interface {
	AdvertiseNewUser(ctx context.Context, partnerUserID, apiEndpoint string) map[string]any
}

var _ AccountRegistry = (*bridgeaccount.Registry)(nil)
