package services

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/pilab-dev/bridge-hds/domain"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_StatusUnknownUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	status, err := f.users.Status(ctx, "nobody", false)
	require.NoError(t, err)
	assert.Nil(t, status)

	_, err = f.users.Status(ctx, "nobody", true)
	require.Error(t, err)
	assert.True(t, berrors.IsKind(err, berrors.KindUnknownResource))

	exists, err := f.users.Exists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUserService_StatusWithSyncStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	endpoint := f.onboardUser(t, "abcd")

	status, err := f.users.Status(ctx, "abcd", true)
	require.NoError(t, err)
	assert.Equal(t, endpoint, status.User.APIEndpoint)
	assert.Nil(t, status.SyncStatus.LastSync)

	ts := 1700000000.0
	_, err = f.registry.LogSyncStatus(ctx, "abcd", &ts, map[string]any{"plugin": "stub"})
	require.NoError(t, err)

	status, err = f.users.Status(ctx, "abcd", true)
	require.NoError(t, err)
	require.NotNil(t, status.SyncStatus.LastSync)
	assert.Equal(t, ts, *status.SyncStatus.LastSync)
	assert.Equal(t, map[string]any{"plugin": "stub"}, status.SyncStatus.Content)
}

func TestUserService_SetStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.onboardUser(t, "abcd")

	active, err := f.users.SetStatus(ctx, "abcd", false)
	require.NoError(t, err)
	assert.False(t, active)

	status, err := f.users.Status(ctx, "abcd", true)
	require.NoError(t, err)
	assert.False(t, status.User.Active)

	// unchanged state writes nothing
	active, err = f.users.SetStatus(ctx, "abcd", false)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = f.users.SetStatus(ctx, "abcd", true)
	require.NoError(t, err)
	assert.True(t, active)

	_, err = f.users.SetStatus(ctx, "nobody", true)
	assert.True(t, berrors.IsKind(err, berrors.KindUnknownResource))
}

func TestUserService_ConnectionAndStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.onboardUser(t, "abcd")

	uc, err := f.users.ConnectionAndStatus(ctx, "abcd", false)
	require.NoError(t, err)
	info, err := uc.Connection.AccessInfo(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info.Permissions)

	_, err = f.users.SetStatus(ctx, "abcd", false)
	require.NoError(t, err)

	_, err = f.users.ConnectionAndStatus(ctx, "abcd", false)
	require.Error(t, err)
	be, ok := berrors.As(err)
	require.True(t, ok)
	assert.Equal(t, berrors.KindBadRequest, be.Kind)
	assert.Equal(t, "Bad request: Deactivated User", be.Message)
	assert.Equal(t, map[string]any{"userId": "abcd"}, be.ErrorObject)

	uc, err = f.users.ConnectionAndStatus(ctx, "abcd", true)
	require.NoError(t, err)
	assert.False(t, uc.User.Active)

	_, err = f.users.ConnectionAndStatus(ctx, "nobody", false)
	assert.True(t, berrors.IsKind(err, berrors.KindUnknownResource))
}

func TestUserService_AddCredentialFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.platform.FailNextCall("events.create", "forbidden")

	_, err := f.users.AddCredential(context.Background(), "abcd", "https://tok@example.com/abcd/")
	require.Error(t, err)
	assert.True(t, berrors.IsKind(err, berrors.KindService))
}

func TestUserService_AllUsersAPIEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	endpoints := map[string]string{}
	for _, id := range []string{"abcd", "efgh", "ijkl"} {
		endpoints[id] = f.onboardUser(t, id)
	}
	_, err := f.users.SetStatus(ctx, "efgh", false)
	require.NoError(t, err)

	var users []domain.UserInfo
	require.NoError(t, f.users.AllUsersAPIEndpoints(ctx, func(u domain.UserInfo) error {
		users = append(users, u)
		return nil
	}))
	require.Len(t, users, 3)
	sort.Slice(users, func(i, j int) bool { return users[i].PartnerUserID < users[j].PartnerUserID })
	for _, u := range users {
		assert.Equal(t, endpoints[u.PartnerUserID], u.APIEndpoint)
		assert.Equal(t, u.PartnerUserID != "efgh", u.Active, u.PartnerUserID)
	}

	stop := errors.New("stop")
	calls := 0
	err = f.users.AllUsersAPIEndpoints(ctx, func(domain.UserInfo) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
