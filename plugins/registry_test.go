package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/bridge-hds/domain"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/hdsmodel"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mock Implementations ---

type MockPlugin struct {
	mock.Mock
	key   string
	items []string
}

func (m *MockPlugin) Key() string                        { return m.key }
func (m *MockPlugin) PotentialCreatedItemKeys() []string { return m.items }

func (m *MockPlugin) Init(ctx context.Context, app *echo.Echo, toolkit *Toolkit) error {
	args := m.Called(ctx, app, toolkit)
	return args.Error(0)
}

func (m *MockPlugin) NewUserAssociated(ctx context.Context, partnerUserID, apiEndpoint string) (any, error) {
	args := m.Called(ctx, partnerUserID, apiEndpoint)
	return args.Get(0), args.Error(1)
}

type panickingPlugin struct{ MockPlugin }

func (p *panickingPlugin) NewUserAssociated(context.Context, string, string) (any, error) {
	panic("boom")
}

func defaultModel(t *testing.T) *hdsmodel.Model {
	t.Helper()
	m, err := hdsmodel.Default()
	require.NoError(t, err)
	return m
}

func streamIDs(refs []hdsmodel.StreamRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}

func TestNewRegistry_DuplicateKey(t *testing.T) {
	_, err := NewRegistry(log.Nop(), &MockPlugin{key: "a"}, &MockPlugin{key: "a"})
	require.ErrorIs(t, err, ErrDuplicateKey)

	_, err = NewRegistry(log.Nop(), &MockPlugin{key: ""})
	require.Error(t, err)
}

func TestFromFactories(t *testing.T) {
	factories := map[string]Factory{
		"a": func() Plugin { return &MockPlugin{key: "a"} },
		"b": func() Plugin { return &MockPlugin{key: "b"} },
	}
	reg, err := FromFactories(log.Nop(), factories, []string{"b", "a"})
	require.NoError(t, err)
	require.Len(t, reg.Plugins(), 2)
	assert.Equal(t, "b", reg.Plugins()[0].Key())

	_, err = FromFactories(log.Nop(), factories, []string{"c"})
	require.Error(t, err)
}

func TestRequiredPermissionsAndStreams(t *testing.T) {
	reg, err := NewRegistry(log.Nop(),
		&MockPlugin{key: "a", items: []string{"body-weight", "profile-name"}},
		&MockPlugin{key: "b", items: []string{"body-height", "body-weight"}},
	)
	require.NoError(t, err)

	baseline := []domain.Permission{{StreamID: "profile", Level: domain.LevelRead, DefaultName: "Profile"}}
	req, err := reg.RequiredPermissionsAndStreams(baseline, defaultModel(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"body", "body-weight", "profile", "profile-name", "body-height"}, streamIDs(req.Streams))
	assert.Equal(t, []domain.Permission{
		{StreamID: "profile", Level: domain.LevelRead, DefaultName: "Profile"},
		{StreamID: "body", Level: domain.LevelManage, DefaultName: "Body"},
	}, req.Permissions)

	again, err := reg.RequiredPermissionsAndStreams(baseline, defaultModel(t))
	require.NoError(t, err)
	assert.Equal(t, req, again)
	// the baseline is not modified
	assert.Len(t, baseline, 1)
}

func TestRequiredPermissionsAndStreams_Wildcard(t *testing.T) {
	reg, err := NewRegistry(log.Nop(), &MockPlugin{key: "a", items: []string{"body-weight"}})
	require.NoError(t, err)

	baseline := []domain.Permission{{StreamID: "*", Level: domain.LevelManage}}
	req, err := reg.RequiredPermissionsAndStreams(baseline, defaultModel(t))
	require.NoError(t, err)
	assert.Equal(t, baseline, req.Permissions)
	assert.Equal(t, []string{"body", "body-weight"}, streamIDs(req.Streams))
}

func TestRequiredPermissionsAndStreams_NoPlugins(t *testing.T) {
	reg, err := NewRegistry(log.Nop())
	require.NoError(t, err)

	baseline := []domain.Permission{{StreamID: "x", Level: domain.LevelRead, DefaultName: "X"}}
	req, err := reg.RequiredPermissionsAndStreams(baseline, defaultModel(t))
	require.NoError(t, err)
	assert.Equal(t, baseline, req.Permissions)
	assert.Empty(t, req.Streams)
}

func TestRequiredPermissionsAndStreams_UnknownItem(t *testing.T) {
	reg, err := NewRegistry(log.Nop(), &MockPlugin{key: "a", items: []string{"nope"}})
	require.NoError(t, err)
	_, err = reg.RequiredPermissionsAndStreams(nil, defaultModel(t))
	require.ErrorIs(t, err, hdsmodel.ErrUnknownItem)
}

func TestValidatePermissions(t *testing.T) {
	tests := []struct {
		name    string
		perms   []domain.Permission
		wantErr bool
	}{
		{"empty", nil, true},
		{"wildcard", []domain.Permission{{StreamID: "*", Level: "manage"}}, false},
		{"complete", []domain.Permission{{StreamID: "s", Level: "read", DefaultName: "S"}}, false},
		{"missing name", []domain.Permission{{StreamID: "s", Level: "read"}}, true},
		{"missing level", []domain.Permission{{StreamID: "s", DefaultName: "S"}}, true},
		{"read wildcard", []domain.Permission{{StreamID: "*", Level: "read"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePermissions(tt.perms)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, berrors.IsKind(err, berrors.KindInternal))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAdvertiseNewUser_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	ok := &MockPlugin{key: "ok"}
	ok.On("NewUserAssociated", ctx, "abcd", "https://tok@x/abcd/").Return(map[string]any{"done": true}, nil)
	failing := &MockPlugin{key: "failing"}
	failing.On("NewUserAssociated", ctx, "abcd", "https://tok@x/abcd/").Return(nil, errors.New("cannot sync"))
	panicking := &panickingPlugin{MockPlugin{key: "panicking"}}
	last := &MockPlugin{key: "last"}
	last.On("NewUserAssociated", ctx, "abcd", "https://tok@x/abcd/").Return("fine", nil)

	reg, err := NewRegistry(log.Nop(), ok, failing, panicking, last)
	require.NoError(t, err)

	res := reg.AdvertiseNewUser(ctx, "abcd", "https://tok@x/abcd/")
	assert.Equal(t, map[string]any{"done": true}, res["ok"])
	assert.Equal(t, map[string]any{"error": "cannot sync"}, res["failing"])
	assert.Contains(t, res["panicking"].(map[string]any)["error"], "boom")
	assert.Equal(t, "fine", res["last"])

	ok.AssertExpectations(t)
	failing.AssertExpectations(t)
	last.AssertExpectations(t)
}

func TestInitAll(t *testing.T) {
	ctx := context.Background()
	app := echo.New()
	toolkit := NewToolkit(log.Nop(), nil, nil, nil, nil)

	a := &MockPlugin{key: "a"}
	a.On("Init", ctx, app, toolkit).Return(nil)
	b := &MockPlugin{key: "b"}
	b.On("Init", ctx, app, toolkit).Return(errors.New("bad config"))
	c := &MockPlugin{key: "c"}

	reg, err := NewRegistry(log.Nop(), a, b, c)
	require.NoError(t, err)

	err = reg.InitAll(ctx, app, toolkit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin b")
	c.AssertNotCalled(t, "Init", mock.Anything, mock.Anything, mock.Anything)
	assert.Nil(t, toolkit.ConfigGet("anything"))
}
