package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/locshare/internal/errs"
)

// statusFor maps an error kind to the HTTP status it is reported with.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation, errs.KindPolicy:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindExpired:
		return http.StatusGone
	case errs.KindCapacity:
		return http.StatusTooManyRequests
	case errs.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]string{"error": errs.PublicMessage(err)})
}
