package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/log"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error       string `json:"error"`
	ErrorObject any    `json:"errorObject,omitempty"`
}

// ErrorHandler renders errors as ErrorResponse, with the status derived from
// the BridgeError kind. Echo's own errors (unknown route, bad method) keep
// their status.
func ErrorHandler(logger log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := ErrorResponse{Error: err.Error()}

		var he *echo.HTTPError
		if be, ok := berrors.As(err); ok {
			status = be.StatusCode()
			body = ErrorResponse{Error: be.Message, ErrorObject: be.ErrorObject}
		} else if errors.As(err, &he) {
			status = he.Code
			if msg, ok := he.Message.(string); ok {
				body.Error = msg
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error(c.Request().Context(), "Request failed", err, log.Fields{"path": c.Path()})
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error(c.Request().Context(), "Failed writing error response", err)
		}
	}
}
