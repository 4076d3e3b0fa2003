// Package server assembles the bridge HTTP server.
package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pilab-dev/bridge-hds/config"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/pilab-dev/bridge-hds/middleware"
)

// NewEcho creates the echo instance with the bridge middleware stack:
// panic recovery, request ids, tracing, request logging and partner
// authentication. Routes are registered by the caller.
func NewEcho(appLogger log.Logger, partnerToken string, errorHandler echo.HTTPErrorHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if errorHandler != nil {
		e.HTTPErrorHandler = errorHandler
	}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.Tracing())
	e.Use(middleware.RequestLogger(appLogger))
	e.Use(echomw.CORS())
	e.Use(middleware.PartnerAuth(partnerToken))

	return e
}

// NewHTTPServer wraps the echo instance in an http.Server bound to the
// configured host and port.
func NewHTTPServer(cfg *config.Config, e *echo.Echo) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
