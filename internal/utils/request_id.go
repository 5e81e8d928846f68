package utils

import "github.com/labstack/echo/v4"

// GetRequestID returns the id assigned by the request id middleware. The middleware sets it on
// the response so it is also present when the client did not send one.
func GetRequestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
