package hdsmodel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pilab-dev/bridge-hds/hdsmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(refs []hdsmodel.StreamRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}

func TestDefault_StreamsForItems(t *testing.T) {
	m, err := hdsmodel.Default()
	require.NoError(t, err)

	refs, err := m.StreamsForItems([]string{"body-weight", "body-height", "wellbeing-mood"})
	require.NoError(t, err)
	assert.Equal(t, []string{"body", "body-weight", "body-height", "wellbeing", "wellbeing-mood"}, ids(refs))

	assert.Nil(t, refs[0].ParentID)
	require.NotNil(t, refs[1].ParentID)
	assert.Equal(t, "body", *refs[1].ParentID)
}

func TestStreamsForItems_UnknownKey(t *testing.T) {
	m, err := hdsmodel.Default()
	require.NoError(t, err)
	_, err = m.StreamsForItems([]string{"body-weight", "nope"})
	require.ErrorIs(t, err, hdsmodel.ErrUnknownItem)
}

func TestRootStreamOf(t *testing.T) {
	m, err := hdsmodel.Default()
	require.NoError(t, err)

	root, ok := m.RootStreamOf("profile-date-of-birth")
	require.True(t, ok)
	assert.Equal(t, "profile", root)

	root, ok = m.RootStreamOf("body")
	require.True(t, ok)
	assert.Equal(t, "body", root)

	_, ok = m.RootStreamOf("nope")
	assert.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	_, err := hdsmodel.Parse([]byte(`{"items":{"x":{"streamId":"missing"}},"streams":[]}`))
	require.ErrorIs(t, err, hdsmodel.ErrUnknownStream)

	_, err = hdsmodel.Parse([]byte(`{"items":{},"streams":[{"id":"a"},{"id":"a"}]}`))
	require.Error(t, err)

	_, err = hdsmodel.Parse([]byte(`not json`))
	require.Error(t, err)
}

const smallCatalog = `{"items":{"k":{"streamId":"c","eventType":"note/txt","label":"K"}},
"streams":[{"id":"r","name":"R","children":[{"id":"c","name":"C"}]}]}`

func TestLoad_Sources(t *testing.T) {
	ctx := context.Background()

	m, err := hdsmodel.Load(ctx, "", nil)
	require.NoError(t, err)
	_, ok := m.Item("body-weight")
	assert.True(t, ok)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(smallCatalog), 0o600))
	m, err = hdsmodel.Load(ctx, path, nil)
	require.NoError(t, err)
	item, ok := m.Item("k")
	require.True(t, ok)
	assert.Equal(t, "c", item.StreamID)
	assert.Equal(t, "k", item.Key)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(smallCatalog))
	}))
	defer ts.Close()
	m, err = hdsmodel.Load(ctx, ts.URL, nil)
	require.NoError(t, err)
	root, ok := m.RootStreamOf("c")
	require.True(t, ok)
	assert.Equal(t, "r", root)

	_, err = hdsmodel.Load(ctx, filepath.Join(t.TempDir(), "missing.json"), nil)
	require.Error(t, err)
}
