package platform_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pilab-dev/bridge-hds/domain"
	"github.com/pilab-dev/bridge-hds/platform"
	"github.com/pilab-dev/bridge-hds/platform/platformtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_AccessFlow(t *testing.T) {
	srv := platformtest.New()
	defer srv.Close()
	svc := platform.NewService(srv.ServiceInfoURL(), nil)
	ctx := context.Background()

	perms := []domain.Permission{{StreamID: "body", Level: domain.LevelManage, DefaultName: "Body"}}
	resp, err := svc.RequestAccess(ctx, domain.AccessRequest{
		RequestingAppID:      "bridge-test",
		RequestedPermissions: perms,
		ReturnURL:            "https://bridge.example.com/user/onboard/finalize/abcd",
		ClientData:           map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PollStatusNeedLogin, resp["status"])
	pollURL, _ := resp["poll"].(string)
	require.NotEmpty(t, pollURL)
	assert.NotEmpty(t, resp["url"])

	res, err := svc.Poll(ctx, pollURL)
	require.NoError(t, err)
	assert.Equal(t, domain.PollStatusNeedLogin, res.Status)

	ep, err := srv.Accept(pollURL, "alice")
	require.NoError(t, err)
	res, err = svc.Poll(ctx, pollURL)
	require.NoError(t, err)
	assert.Equal(t, domain.PollStatusAccepted, res.Status)
	assert.Equal(t, ep, res.APIEndpoint)
	assert.True(t, srv.HasStream("alice", "body"))

	conn, err := svc.NewConnection(res.APIEndpoint)
	require.NoError(t, err)
	info, err := conn.AccessInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.User.Username)
}

func TestService_PollRefused(t *testing.T) {
	srv := platformtest.New()
	defer srv.Close()
	svc := platform.NewService(srv.ServiceInfoURL(), nil)
	ctx := context.Background()

	resp, err := svc.RequestAccess(ctx, domain.AccessRequest{RequestingAppID: "x"})
	require.NoError(t, err)
	pollURL := resp["poll"].(string)
	require.NoError(t, srv.Refuse(pollURL))

	res, err := svc.Poll(ctx, pollURL)
	require.NoError(t, err)
	assert.Equal(t, domain.PollStatusRefused, res.Status)
}

func TestService_InfoIsCached(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access":"https://reg.example.com/access/","api":"https://{username}.example.com/"}`))
	}))
	defer ts.Close()

	svc := platform.NewService(ts.URL, nil)
	for i := 0; i < 3; i++ {
		info, err := svc.Info(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "https://reg.example.com/access/", info.Access)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestService_InfoWithoutAccessURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"api":"x"}`))
	}))
	defer ts.Close()

	_, err := platform.NewService(ts.URL, nil).Info(context.Background())
	require.ErrorIs(t, err, platform.ErrUnexpectedResponse)
}
