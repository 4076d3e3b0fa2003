package middleware

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	berrors "github.com/pilab-dev/bridge-hds/errors"
)

// partnerContextKey is the echo context key flagging partner requests.
const partnerContextKey = "isPartner"

// PartnerAuth flags requests whose Authorization header equals the partner
// token. It never rejects a request; handlers assert the flag when needed.
func PartnerAuth(partnerToken string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if partnerToken != "" && subtle.ConstantTimeCompare([]byte(header), []byte(partnerToken)) == 1 {
				c.Set(partnerContextKey, true)
			}
			return next(c)
		}
	}
}

// IsPartner reports whether PartnerAuth flagged the request.
func IsPartner(c echo.Context) bool {
	ok, _ := c.Get(partnerContextKey).(bool)
	return ok
}

// AssertFromPartner returns an Unauthorized error unless the request comes
// from the partner.
func AssertFromPartner(c echo.Context) error {
	if IsPartner(c) {
		return nil
	}
	return berrors.NewUnauthorized("", nil)
}

// RequirePartner rejects non-partner requests.
func RequirePartner() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := AssertFromPartner(c); err != nil {
				return err
			}
			return next(c)
		}
	}
}
