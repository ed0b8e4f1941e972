package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/ntauth/fracrank"
	"github.com/ntauth/fracrank/internal/domain"
)

var (
	errTooManyRequests = echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	errInvalidItemID   = echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
)

// statusOf maps domain and generator errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrRankTaken),
		errors.Is(err, domain.ErrItemExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidCollection),
		errors.Is(err, domain.ErrInvalidPosition),
		errors.Is(err, fracrank.ErrInvalidKey),
		errors.Is(err, fracrank.ErrKeyOrder):
		return http.StatusBadRequest
	}
	return 0
}

// newHTTPErrorHandler returns an echo.HTTPErrorHandler that knows how to
// handle our errors.
func newHTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var (
			code    int
			message any
		)

		var herr *echo.HTTPError
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &herr):
			if inner, ok := herr.Internal.(*echo.HTTPError); ok {
				herr = inner
			}
			code = herr.Code
			message = herr.Message
		case errors.As(err, &verrs):
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
			}
			code = http.StatusBadRequest
			message = echo.Map{"error": "invalid request", "fields": fields}
		default:
			if code = statusOf(err); code != 0 {
				message = err.Error()
				break
			}
			code = http.StatusInternalServerError
			message = http.StatusText(code)
			logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		}

		if c.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, message)
		}
		if err != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}
