package bridgeaccount_test

import (
	"context"
	"testing"

	"github.com/pilab-dev/bridge-hds/bridgeaccount"
	"github.com/pilab-dev/bridge-hds/domain"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/pilab-dev/bridge-hds/platform"
	"github.com/pilab-dev/bridge-hds/platform/platformtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var manageAll = []domain.Permission{{StreamID: "*", Level: domain.LevelManage}}

func newRegistry(t *testing.T, perms []domain.Permission) (*platformtest.Server, *bridgeaccount.Registry) {
	t.Helper()
	srv := platformtest.New()
	t.Cleanup(srv.Close)
	conn, err := platform.NewConnection(srv.CreateAccount("bridge", perms), nil)
	require.NoError(t, err)
	return srv, bridgeaccount.New(conn, "bridge", log.Nop())
}

func TestRegistry_StreamIDs(t *testing.T) {
	_, reg := newRegistry(t, manageAll)
	assert.Equal(t, "bridge", reg.MainStreamID())
	assert.Equal(t, "bridge-users", reg.UserParentStreamID())
	assert.Equal(t, "bridge-users-active", reg.ActiveUsersStreamID())
	assert.Equal(t, "bridge-errors", reg.ErrorStreamID())
	assert.Equal(t, "bridge-users-abcd", reg.StreamIDForUser("abcd"))
}

func TestRegistry_Init_Idempotent(t *testing.T) {
	srv, reg := newRegistry(t, manageAll)
	ctx := context.Background()

	require.NoError(t, reg.Init(ctx))
	require.NoError(t, reg.Init(ctx))

	for _, id := range []string{"bridge", "bridge-users", "bridge-users-active", "bridge-errors"} {
		assert.True(t, srv.HasStream("bridge", id), id)
	}
}

func TestRegistry_Init_StreamScopedAccess(t *testing.T) {
	srv := platformtest.New()
	defer srv.Close()
	ctx := context.Background()

	admin, err := platform.NewConnection(srv.CreateAccount("bridge", manageAll), nil)
	require.NoError(t, err)
	_, err = admin.API(ctx, []domain.APICall{{Method: "streams.create", Params: map[string]any{"id": "bridge", "name": "Bridge"}}})
	require.NoError(t, err)

	scoped, err := platform.NewConnection(srv.CreateAccount("bridge", []domain.Permission{{StreamID: "bridge", Level: domain.LevelManage}}), nil)
	require.NoError(t, err)
	require.NoError(t, bridgeaccount.New(scoped, "bridge", log.Nop()).Init(ctx))
	assert.True(t, srv.HasStream("bridge", "bridge-errors"))
}

func TestRegistry_Init_MissingManage(t *testing.T) {
	_, reg := newRegistry(t, []domain.Permission{{StreamID: "bridge", Level: domain.LevelRead}})
	err := reg.Init(context.Background())
	require.Error(t, err)
	assert.True(t, berrors.IsKind(err, berrors.KindInternal))
}

func TestRegistry_Init_UnexpectedStreamError(t *testing.T) {
	srv, reg := newRegistry(t, manageAll)
	srv.FailNextCall("streams.create", "forbidden")

	err := reg.Init(context.Background())
	require.Error(t, err)
	assert.True(t, berrors.IsKind(err, berrors.KindService))
}

func TestRegistry_LogErrorAndErrors(t *testing.T) {
	_, reg := newRegistry(t, manageAll)
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	reg.LogError(ctx, "first", map[string]any{"k": "v"})
	reg.LogError(ctx, "second", nil)

	events, err := reg.Errors(ctx, domain.EventsQuery{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	var rec domain.ErrorRecord
	require.NoError(t, events[0].DecodeContent(&rec))
	assert.Equal(t, "second", rec.Message)
	assert.Equal(t, map[string]any{}, rec.ErrorObject)

	limit := 1
	events, err = reg.Errors(ctx, domain.EventsQuery{Limit: &limit, Streams: []string{"ignored"}})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRegistry_Errors_BeforeInit(t *testing.T) {
	_, reg := newRegistry(t, manageAll)
	_, err := reg.Errors(context.Background(), domain.EventsQuery{})
	require.Error(t, err)
	assert.True(t, berrors.IsKind(err, berrors.KindUnknownResource))
}

func TestRegistry_LogError_NeverFails(t *testing.T) {
	srv, reg := newRegistry(t, manageAll)
	srv.Close()
	assert.NotPanics(t, func() { reg.LogError(context.Background(), "lost", nil) })
}

func TestRegistry_PendingAuthRequests(t *testing.T) {
	srv, reg := newRegistry(t, manageAll)
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	pending, err := reg.PendingAuthRequests(ctx, "unknown-user")
	require.NoError(t, err)
	assert.Empty(t, pending)

	for _, poll := range []string{"https://reg.example.com/access/a", "https://reg.example.com/access/b"} {
		_, err := reg.StorePendingAuthRequest(ctx, "abcd", domain.PendingAuthRequest{
			RedirectURLs:     domain.RedirectURLs{Success: "https://p.example.com/ok", Cancel: "https://p.example.com/ko"},
			ResponseBody:     map[string]any{"poll": poll},
			OnboardingSecret: "secret",
		})
		require.NoError(t, err)
	}
	assert.True(t, srv.HasStream("bridge", "bridge-users-abcd"))

	pending, err = reg.PendingAuthRequests(ctx, "abcd")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "https://reg.example.com/access/b", pending[0].Request.PollURL())
	assert.Equal(t, "secret", pending[1].Request.OnboardingSecret)

	events := []domain.Event{pending[0].Event, pending[1].Event}
	require.NoError(t, reg.DeleteEventsHard(ctx, events))
	assert.Zero(t, srv.EventCount("bridge", domain.EventTypeAuthRequest))

	// already gone: per-call errors are only logged
	require.NoError(t, reg.DeleteEventsHard(ctx, events))
}

func TestRegistry_LogSyncStatus(t *testing.T) {
	srv, reg := newRegistry(t, manageAll)
	ctx := context.Background()
	require.NoError(t, reg.Init(ctx))

	_, err := reg.LogSyncStatus(ctx, "abcd", nil, "no stream yet")
	require.Error(t, err)

	_, err = reg.StorePendingAuthRequest(ctx, "abcd", domain.PendingAuthRequest{})
	require.NoError(t, err)

	at := 1700000000.0
	ev, err := reg.LogSyncStatus(ctx, "abcd", &at, map[string]any{"count": 3})
	require.NoError(t, err)
	assert.Equal(t, at, ev.Time)
	assert.Len(t, srv.Events("bridge", domain.EventTypeSyncStatus), 1)
}
