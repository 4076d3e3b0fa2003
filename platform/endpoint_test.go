package platform_test

import (
	"testing"

	"github.com/pilab-dev/bridge-hds/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAPIEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  string
		wantBase  string
		wantToken string
		wantErr   bool
	}{
		{"token and path", "https://tok123@demo.example.com/alice/", "https://demo.example.com/alice/", "tok123", false},
		{"adds trailing slash", "https://tok@host.example.com/bob", "https://host.example.com/bob/", "tok", false},
		{"no token", "http://127.0.0.1:3000/carol/", "http://127.0.0.1:3000/carol/", "", false},
		{"bad scheme", "ftp://tok@host/x/", "", "", true},
		{"no host", "https:///x/", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, token, err := platform.ParseAPIEndpoint(tt.endpoint)
			if tt.wantErr {
				require.ErrorIs(t, err, platform.ErrInvalidAPIEndpoint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBase, base)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}

func TestBuildAPIEndpoint_RoundTrip(t *testing.T) {
	ep, err := platform.BuildAPIEndpoint("https://demo.example.com/alice/", "tok123")
	require.NoError(t, err)
	assert.Equal(t, "https://tok123@demo.example.com/alice/", ep)

	base, token, err := platform.ParseAPIEndpoint(ep)
	require.NoError(t, err)
	assert.Equal(t, "https://demo.example.com/alice/", base)
	assert.Equal(t, "tok123", token)
}
