package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runPartnerAuth(t *testing.T, token, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	h := middleware.PartnerAuth(token)(middleware.RequirePartner()(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}))
	return c, h(c)
}

func TestPartnerAuth(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		header  string
		partner bool
	}{
		{"matching token", "s3cret", "s3cret", true},
		{"wrong token", "s3cret", "nope", false},
		{"missing header", "s3cret", "", false},
		{"no token configured", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := runPartnerAuth(t, tt.token, tt.header)
			assert.Equal(t, tt.partner, middleware.IsPartner(c))
			if tt.partner {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			be, ok := berrors.As(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusUnauthorized, be.StatusCode())
		})
	}
}
