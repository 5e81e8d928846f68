package utils

import (
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

// SentryTracing starts a sentry transaction for every request, continuing the trace of the
// caller when a sentry-trace header is present. It must run after the sentryecho middleware.
func SentryTracing() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if hub := sentryecho.GetHubFromContext(c); hub != nil {
				ctx = sentry.SetHubOnContext(ctx, hub)
			}
			span := sentry.StartTransaction(
				ctx,
				c.Request().Method+" "+c.Path(),
				sentry.WithOpName("http.server"),
				sentry.WithTransactionSource(sentry.SourceRoute),
				sentry.ContinueFromRequest(c.Request()),
			)
			defer span.Finish()
			c.SetRequest(c.Request().WithContext(span.Context()))
			return next(c)
		}
	}
}

// GetTraceID returns the sentry trace of the request, it is empty when sentry is not enabled
func GetTraceID(c echo.Context) string {
	if sentryecho.GetHubFromContext(c) == nil {
		return ""
	}
	if span := sentry.TransactionFromContext(c.Request().Context()); span != nil {
		return span.TraceID.String()
	}
	return ""
}
